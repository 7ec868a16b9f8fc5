package app

import (
	"context"
	"fmt"

	"fablepress/internal/util"
	"fablepress/pkg/domain"
	"fablepress/pkg/payment"
	"fablepress/pkg/printvendor"
)

// CheckoutRequest starts a purchase of one finished book.
type CheckoutRequest struct {
	ProjectID       string          `json:"projectId"`
	OwnerID         string          `json:"-"`
	ShippingAddress *domain.Address `json:"shippingAddress,omitempty"`
}

// CheckoutResult carries the pending order and the hosted payment redirect.
type CheckoutResult struct {
	Order       domain.Order `json:"order"`
	RedirectURL string       `json:"redirectUrl"`
}

// Checkout quotes the vendor, prices the book, persists a pending order, and
// opens a payment session for it. The order row is the only durable side
// effect before a session exists; a session failure is recorded on the order
// so it is never silently orphaned.
func (a *App) Checkout(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	p, err := a.ownedProject(req.ProjectID, req.OwnerID)
	if err != nil {
		return CheckoutResult{}, err
	}
	profile, ok := domain.ProfileForSKU(p.VendorSKU)
	if !ok {
		return CheckoutResult{}, domain.Ef(domain.KindValidation, "unknown vendor sku %q", p.VendorSKU)
	}
	if p.Status != domain.ProjectComplete || p.InteriorKey == "" || p.CoverKey == "" {
		return CheckoutResult{}, domain.E(domain.KindConflict, "project has no finished print artifacts")
	}
	pages := p.ReconciledPageCount
	if pages < profile.MinPageCount || pages > profile.MaxPageCount || pages%2 != 0 {
		return CheckoutResult{}, domain.Ef(domain.KindValidation,
			"reconciled page count %d is outside vendor bounds %d-%d", pages, profile.MinPageCount, profile.MaxPageCount)
	}
	if err := a.validateShipping(p.Type, req.ShippingAddress); err != nil {
		return CheckoutResult{}, err
	}

	interiorURL, err := a.objects.PresignGet(ctx, p.InteriorKey, a.artifactURLTTL)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("presign interior: %w", err)
	}
	coverURL, err := a.objects.PresignGet(ctx, p.CoverKey, a.artifactURLTTL)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("presign cover: %w", err)
	}

	quote, err := a.vendor.Quote(ctx, printvendor.QuoteRequest{
		SKU:             p.VendorSKU,
		PageCount:       pages,
		ShippingAddress: req.ShippingAddress,
	})
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("vendor quote: %w", err)
	}

	order := a.priceOrder(p, quote, req.ShippingAddress)
	order.ID = util.NewID()
	order.ActualPageCount = pages
	order.InteriorURL = interiorURL
	order.CoverURL = coverURL
	if err := a.store.CreateOrder(order); err != nil {
		return CheckoutResult{}, fmt.Errorf("create order: %w", err)
	}

	session, err := a.payment.CreateSession(ctx, payment.SessionRequest{
		AmountCents: order.TotalCents,
		Currency:    order.Currency,
		SuccessURL:  a.successURL,
		CancelURL:   a.cancelURL,
		Metadata: map[string]string{
			"ownerId":     p.OwnerID,
			"orderId":     order.ID,
			"projectId":   p.ID,
			"projectType": string(p.Type),
		},
	})
	if err != nil {
		if failErr := a.store.SetOrderFailed(order.ID, "payment session: "+err.Error()); failErr != nil {
			a.logger.Error("failed to record session failure", "order_id", order.ID, "error", failErr)
		}
		return CheckoutResult{}, fmt.Errorf("create payment session: %w", err)
	}
	if err := a.store.SetOrderSession(order.ID, session.SessionID); err != nil {
		return CheckoutResult{}, fmt.Errorf("store payment session: %w", err)
	}
	order.PaymentSessionID = session.SessionID

	a.logger.Info("checkout opened",
		"order_id", order.ID,
		"project_id", p.ID,
		"total_cents", order.TotalCents)
	return CheckoutResult{Order: order, RedirectURL: session.RedirectURL}, nil
}

// validateShipping enforces the destination rules: textual books need a
// valid destination up front; illustrated books may defer it to payment.
func (a *App) validateShipping(t domain.ProjectType, addr *domain.Address) error {
	if addr == nil {
		if t == domain.TypeText {
			return domain.E(domain.KindValidation, "shipping address is required for text books")
		}
		return nil
	}
	if addr.Line1 == "" || addr.City == "" || addr.PostalCode == "" {
		return domain.E(domain.KindValidation, "shipping address is incomplete")
	}
	if !ValidCountryCode(addr.CountryCode) {
		return domain.Ef(domain.KindValidation, "invalid country code %q", addr.CountryCode)
	}
	return nil
}

// priceOrder applies the platform pricing model to a vendor quote.
// Illustrated books bundle shipping into the margin; textual books add a
// flat band by destination country.
func (a *App) priceOrder(p domain.Project, quote printvendor.Quote, addr *domain.Address) domain.Order {
	order := domain.Order{
		ProjectID:       p.ID,
		OwnerID:         p.OwnerID,
		Status:          domain.OrderPending,
		PrintCostCents:  quote.TotalCostCents,
		Currency:        quote.Currency,
		ShippingAddress: addr,
	}
	switch p.Type {
	case domain.TypePicture:
		order.MarginCents = a.pricing.PictureMarginCents
		order.TotalCents = order.PrintCostCents + order.MarginCents
	default:
		order.MarginCents = a.pricing.TextMarginCents
		country := ""
		if addr != nil {
			country = addr.CountryCode
		}
		order.ShippingCents = ShippingBandCents(country)
		order.TotalCents = order.PrintCostCents + order.MarginCents + order.ShippingCents
	}
	return order
}

// ArtifactURLs re-presigns the print artifacts of a project, used when the
// vendor needs fresh URLs for a stalled job.
func (a *App) ArtifactURLs(ctx context.Context, projectID, ownerID string) (interior, cover string, err error) {
	p, err := a.ownedProject(projectID, ownerID)
	if err != nil {
		return "", "", err
	}
	if p.InteriorKey == "" || p.CoverKey == "" {
		return "", "", domain.E(domain.KindConflict, "project has no finished print artifacts")
	}
	interior, err = a.objects.PresignGet(ctx, p.InteriorKey, a.artifactURLTTL)
	if err != nil {
		return "", "", fmt.Errorf("presign interior: %w", err)
	}
	cover, err = a.objects.PresignGet(ctx, p.CoverKey, a.artifactURLTTL)
	if err != nil {
		return "", "", fmt.Errorf("presign cover: %w", err)
	}
	return interior, cover, nil
}
