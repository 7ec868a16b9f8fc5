package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"fablepress/pkg/domain"
	"fablepress/pkg/payment"
	"fablepress/pkg/printvendor"
	"fablepress/pkg/store"
)

type fakeVendor struct {
	mu        sync.Mutex
	quote     printvendor.Quote
	quoteErr  error
	jobErr    error
	printJobs []printvendor.PrintJobRequest
}

func (f *fakeVendor) Quote(_ context.Context, _ printvendor.QuoteRequest) (printvendor.Quote, error) {
	if f.quoteErr != nil {
		return printvendor.Quote{}, f.quoteErr
	}
	return f.quote, nil
}

func (f *fakeVendor) CreatePrintJob(_ context.Context, req printvendor.PrintJobRequest) (printvendor.PrintJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jobErr != nil {
		return printvendor.PrintJob{}, f.jobErr
	}
	f.printJobs = append(f.printJobs, req)
	return printvendor.PrintJob{JobID: "vj-1", Status: "accepted"}, nil
}

type fakePayment struct {
	sessions []payment.SessionRequest
	err      error
}

func (f *fakePayment) CreateSession(_ context.Context, req payment.SessionRequest) (payment.Session, error) {
	if f.err != nil {
		return payment.Session{}, f.err
	}
	f.sessions = append(f.sessions, req)
	return payment.Session{SessionID: "sess-1", RedirectURL: "https://pay.test/sess-1"}, nil
}

type fakeObjects struct{}

func (fakeObjects) Put(_ context.Context, _ string, r io.Reader, _ int64, _ string) error {
	_, _ = io.ReadAll(r)
	return nil
}
func (fakeObjects) PutFile(_ context.Context, _, _, _ string) error { return nil }
func (fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}
func (fakeObjects) Delete(_ context.Context, _ string) error { return nil }

type fixture struct {
	app     *App
	store   *store.MemoryStore
	vendor  *fakeVendor
	payment *fakePayment
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   store.NewMemoryStore(),
		vendor:  &fakeVendor{quote: printvendor.Quote{TotalCostCents: 2000, Currency: "USD"}},
		payment: &fakePayment{},
	}
	f.app = New(Config{
		Store:   f.store,
		Objects: fakeObjects{},
		Vendor:  f.vendor,
		Payment: f.payment,
		Pricing: Pricing{PictureMarginCents: 1000, TextMarginCents: 800},
	})
	return f
}

func (f *fixture) completeProject(t *testing.T, projectType domain.ProjectType) domain.Project {
	t.Helper()
	sku := "SQ-8.5-PB"
	if projectType == domain.TypeText {
		sku = "TR-6x9-BW"
	}
	p := domain.Project{
		ID:                  "proj-1",
		OwnerID:             "owner-1",
		Type:                projectType,
		Title:               "The Little Fox",
		Status:              domain.ProjectComplete,
		VendorSKU:           sku,
		InteriorKey:         "projects/proj-1/interior.pdf",
		CoverKey:            "projects/proj-1/cover.pdf",
		ReconciledPageCount: 24,
	}
	if err := f.store.SaveProject(p); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}
	return p
}

func usAddress() *domain.Address {
	return &domain.Address{
		Name:        "Alex Reader",
		Line1:       "1 Main St",
		City:        "Portland",
		PostalCode:  "97201",
		CountryCode: "US",
	}
}

func TestCheckoutPicturePriceIsCostPlusMargin(t *testing.T) {
	f := newFixture(t)
	f.completeProject(t, domain.TypePicture)

	result, err := f.app.Checkout(context.Background(), CheckoutRequest{ProjectID: "proj-1", OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if result.Order.TotalCents != 3000 {
		t.Fatalf("total = %d, want 2000 cost + 1000 margin = 3000", result.Order.TotalCents)
	}
	if result.Order.ShippingCents != 0 {
		t.Fatalf("picture orders must not carry a shipping band, got %d", result.Order.ShippingCents)
	}
	if result.Order.Status != domain.OrderPending {
		t.Fatalf("status = %s, want pending", result.Order.Status)
	}
	if result.RedirectURL == "" {
		t.Fatal("no payment redirect returned")
	}
	if len(f.payment.sessions) != 1 {
		t.Fatalf("opened %d sessions, want 1", len(f.payment.sessions))
	}
	meta := f.payment.sessions[0].Metadata
	if meta["orderId"] != result.Order.ID || meta["projectId"] != "proj-1" {
		t.Fatalf("session metadata incomplete: %v", meta)
	}
}

func TestCheckoutTextPriceAddsShippingBand(t *testing.T) {
	f := newFixture(t)
	f.completeProject(t, domain.TypeText)

	result, err := f.app.Checkout(context.Background(), CheckoutRequest{
		ProjectID:       "proj-1",
		OwnerID:         "owner-1",
		ShippingAddress: usAddress(),
	})
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	want := int64(2000 + 800 + shippingBandDomesticCents)
	if result.Order.TotalCents != want {
		t.Fatalf("total = %d, want %d", result.Order.TotalCents, want)
	}
	if result.Order.ShippingCents != shippingBandDomesticCents {
		t.Fatalf("shipping = %d, want domestic band %d", result.Order.ShippingCents, shippingBandDomesticCents)
	}
}

func TestCheckoutTextRequiresValidShipping(t *testing.T) {
	f := newFixture(t)
	f.completeProject(t, domain.TypeText)
	ctx := context.Background()

	_, err := f.app.Checkout(ctx, CheckoutRequest{ProjectID: "proj-1", OwnerID: "owner-1"})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("missing address: err = %v, want validation", err)
	}
	addr := usAddress()
	addr.CountryCode = "XX"
	_, err = f.app.Checkout(ctx, CheckoutRequest{ProjectID: "proj-1", OwnerID: "owner-1", ShippingAddress: addr})
	if !domain.IsKind(err, domain.KindValidation) {
		t.Fatalf("bad country: err = %v, want validation", err)
	}
}

func TestCheckoutRejectsUnfinishedProject(t *testing.T) {
	f := newFixture(t)
	p := f.completeProject(t, domain.TypePicture)
	p.Status = domain.ProjectGenerating
	if err := f.store.SaveProject(p); err != nil {
		t.Fatalf("SaveProject: %v", err)
	}

	_, err := f.app.Checkout(context.Background(), CheckoutRequest{ProjectID: p.ID, OwnerID: "owner-1"})
	if !domain.IsKind(err, domain.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
}

func TestCheckoutQuoteFailureLeavesNoOrder(t *testing.T) {
	f := newFixture(t)
	p := f.completeProject(t, domain.TypePicture)
	f.vendor.quoteErr = domain.E(domain.KindTransient, "vendor 503")

	_, err := f.app.Checkout(context.Background(), CheckoutRequest{ProjectID: p.ID, OwnerID: "owner-1"})
	if err == nil {
		t.Fatal("expected quote failure to abort checkout")
	}
	orders, _ := f.store.ListOrdersByProject(p.ID)
	if len(orders) != 0 {
		t.Fatalf("found %d orders after failed quote, want 0", len(orders))
	}
	if len(f.payment.sessions) != 0 {
		t.Fatal("a payment session was opened without an order")
	}
}

func TestCheckoutSessionFailureMarksOrderFailed(t *testing.T) {
	f := newFixture(t)
	p := f.completeProject(t, domain.TypePicture)
	f.payment.err = errors.New("processor down")

	_, err := f.app.Checkout(context.Background(), CheckoutRequest{ProjectID: p.ID, OwnerID: "owner-1"})
	if err == nil {
		t.Fatal("expected session failure to abort checkout")
	}
	orders, _ := f.store.ListOrdersByProject(p.ID)
	if len(orders) != 1 {
		t.Fatalf("found %d orders, want the failed one recorded", len(orders))
	}
	if orders[0].Status != domain.OrderFailed {
		t.Fatalf("order status = %s, want failed", orders[0].Status)
	}
	if orders[0].ErrorMessage == "" {
		t.Fatal("session failure reason not recorded on order")
	}
}

func (f *fixture) pendingOrder(t *testing.T, projectType domain.ProjectType) domain.Order {
	t.Helper()
	f.completeProject(t, projectType)
	req := CheckoutRequest{ProjectID: "proj-1", OwnerID: "owner-1"}
	if projectType == domain.TypeText {
		req.ShippingAddress = usAddress()
	}
	result, err := f.app.Checkout(context.Background(), req)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	return result.Order
}

func completedEvent(orderID string, addr *domain.Address) payment.Event {
	return payment.Event{
		Type:            payment.EventSessionCompleted,
		SessionID:       "sess-1",
		Metadata:        map[string]string{"orderId": orderID, "projectId": "proj-1", "ownerId": "owner-1"},
		ShippingDetails: addr,
	}
}

func TestPaymentEventSubmitsPrintJobOnce(t *testing.T) {
	f := newFixture(t)
	order := f.pendingOrder(t, domain.TypePicture)
	event := completedEvent(order.ID, usAddress())
	ctx := context.Background()

	if err := f.app.HandlePaymentEvent(ctx, event); err != nil {
		t.Fatalf("HandlePaymentEvent: %v", err)
	}
	// Replay: the order is no longer pending, so nothing happens.
	if err := f.app.HandlePaymentEvent(ctx, event); err != nil {
		t.Fatalf("replayed HandlePaymentEvent: %v", err)
	}

	if len(f.vendor.printJobs) != 1 {
		t.Fatalf("submitted %d print jobs, want exactly 1", len(f.vendor.printJobs))
	}
	job := f.vendor.printJobs[0]
	if job.ExternalID != "order-"+order.ID {
		t.Fatalf("external id = %q, want deterministic order-%s", job.ExternalID, order.ID)
	}
	if len(job.LineItems) != 1 || job.LineItems[0].PageCount != 24 {
		t.Fatalf("line items wrong: %+v", job.LineItems)
	}

	got, _, _ := f.store.GetOrder(order.ID)
	if got.Status != domain.OrderProcessing {
		t.Fatalf("order status = %s, want processing", got.Status)
	}
	if got.VendorJobID != "vj-1" {
		t.Fatalf("vendor job id = %q not stored", got.VendorJobID)
	}
}

func TestPaymentEventMissingShippingRecordsFulfillmentFailure(t *testing.T) {
	f := newFixture(t)
	order := f.pendingOrder(t, domain.TypePicture)

	err := f.app.HandlePaymentEvent(context.Background(), completedEvent(order.ID, nil))
	if err != nil {
		t.Fatalf("handler must ack despite the data problem, got %v", err)
	}
	got, _, _ := f.store.GetOrder(order.ID)
	if got.Status != domain.OrderFulfillmentFailed {
		t.Fatalf("order status = %s, want fulfillment_failed", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("failure reason not recorded")
	}
	if len(f.vendor.printJobs) != 0 {
		t.Fatal("a print job was submitted without a shipping address")
	}
}

func TestPaymentEventVendorFailureRecordsFulfillmentFailure(t *testing.T) {
	f := newFixture(t)
	order := f.pendingOrder(t, domain.TypePicture)
	f.vendor.jobErr = domain.E(domain.KindPermanent, "vendor rejected job")

	err := f.app.HandlePaymentEvent(context.Background(), completedEvent(order.ID, usAddress()))
	if err != nil {
		t.Fatalf("handler must ack despite the vendor failure, got %v", err)
	}
	got, _, _ := f.store.GetOrder(order.ID)
	if got.Status != domain.OrderFulfillmentFailed {
		t.Fatalf("order status = %s, want fulfillment_failed", got.Status)
	}
}

func TestPaymentEventMissingProjectRecordsFulfillmentFailure(t *testing.T) {
	f := newFixture(t)
	order := f.pendingOrder(t, domain.TypePicture)
	if err := f.store.DeleteProject(order.ProjectID); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}

	err := f.app.HandlePaymentEvent(context.Background(), completedEvent(order.ID, usAddress()))
	if err != nil {
		t.Fatalf("handler must ack despite the missing project, got %v", err)
	}
	got, _, _ := f.store.GetOrder(order.ID)
	if got.Status != domain.OrderFulfillmentFailed {
		t.Fatalf("order status = %s, want fulfillment_failed", got.Status)
	}
	if len(f.vendor.printJobs) != 0 {
		t.Fatal("print job submitted without a project")
	}
}

func TestPaymentEventForUnknownOrderIsNoOp(t *testing.T) {
	f := newFixture(t)
	f.completeProject(t, domain.TypePicture)

	if err := f.app.HandlePaymentEvent(context.Background(), completedEvent("nope", usAddress())); err != nil {
		t.Fatalf("unknown order must ack clean, got %v", err)
	}
	if len(f.vendor.printJobs) != 0 {
		t.Fatal("print job submitted for unknown order")
	}
}

func TestPaymentEventIgnoresOtherTypes(t *testing.T) {
	f := newFixture(t)
	order := f.pendingOrder(t, domain.TypePicture)

	event := completedEvent(order.ID, usAddress())
	event.Type = "session.expired"
	if err := f.app.HandlePaymentEvent(context.Background(), event); err != nil {
		t.Fatalf("HandlePaymentEvent: %v", err)
	}
	got, _, _ := f.store.GetOrder(order.ID)
	if got.Status != domain.OrderPending {
		t.Fatalf("order status = %s, non-completion events must not transition", got.Status)
	}
}

func TestShippingBands(t *testing.T) {
	if got := ShippingBandCents("US"); got != shippingBandDomesticCents {
		t.Fatalf("US band = %d, want %d", got, shippingBandDomesticCents)
	}
	if got := ShippingBandCents("de"); got != shippingBandEuropeCents {
		t.Fatalf("DE band = %d, want %d", got, shippingBandEuropeCents)
	}
	if got := ShippingBandCents("JP"); got != shippingBandWorldCents {
		t.Fatalf("JP band = %d, want %d", got, shippingBandWorldCents)
	}
}

func TestValidCountryCode(t *testing.T) {
	for _, code := range []string{"US", "gb", " de "} {
		if !ValidCountryCode(code) {
			t.Fatalf("ValidCountryCode(%q) = false, want true", code)
		}
	}
	for _, code := range []string{"", "XX", "USA", "U1"} {
		if ValidCountryCode(code) {
			t.Fatalf("ValidCountryCode(%q) = true, want false", code)
		}
	}
}
