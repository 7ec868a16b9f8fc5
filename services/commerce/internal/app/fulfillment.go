package app

import (
	"context"
	"fmt"

	"fablepress/pkg/domain"
	"fablepress/pkg/payment"
	"fablepress/pkg/printvendor"
)

// HandlePaymentEvent processes one verified payment-confirmation event. The
// caller has already checked the signature; anything that goes wrong here is
// recorded on the order, never surfaced back to the payment processor.
//
// The order is claimed under a row lock and only while still pending, so a
// duplicate or out-of-order delivery of the same event is a no-op.
func (a *App) HandlePaymentEvent(ctx context.Context, event payment.Event) error {
	if event.Type != payment.EventSessionCompleted {
		a.logger.Info("ignoring payment event", "type", event.Type)
		return nil
	}
	orderID := event.Metadata["orderId"]
	if orderID == "" {
		a.logger.Error("payment event carries no order id", "session_id", event.SessionID)
		return nil
	}

	// Both lookups happen before the order is claimed; the callback runs
	// under the store's row lock and must not issue further store calls.
	o, found, err := a.store.GetOrder(orderID)
	if err != nil {
		return fmt.Errorf("load order %s: %w", orderID, err)
	}
	if !found {
		a.logger.Info("payment event for unknown order acknowledged", "order_id", orderID)
		return nil
	}
	project, projectFound, err := a.store.GetProject(o.ProjectID)
	if err != nil {
		return fmt.Errorf("load project %s: %w", o.ProjectID, err)
	}

	claimed, err := a.store.WithPendingOrder(orderID, func(o *domain.Order) error {
		a.fulfill(ctx, o, project, projectFound, event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("claim order %s: %w", orderID, err)
	}
	if !claimed {
		a.logger.Info("duplicate or unknown payment event acknowledged", "order_id", orderID)
	}
	return nil
}

// fulfill mutates the claimed order in place; the surrounding transaction
// commits whatever state it leaves behind.
func (a *App) fulfill(ctx context.Context, o *domain.Order, p domain.Project, projectFound bool, event payment.Event) {
	addr := event.ShippingDetails
	if addr == nil {
		addr = o.ShippingAddress
	}
	if addr == nil || !ValidCountryCode(addr.CountryCode) {
		err := domain.E(domain.KindDataIntegrity, "confirmed session carries no usable shipping address")
		a.recordFailure(o, err)
		return
	}
	o.ShippingAddress = addr

	if !projectFound {
		a.recordFailure(o, domain.Ef(domain.KindDataIntegrity, "order references missing project %s", o.ProjectID))
		return
	}

	job, err := a.vendor.CreatePrintJob(ctx, printvendor.PrintJobRequest{
		ExternalID:      "order-" + o.ID,
		ShippingAddress: *addr,
		LineItems: []printvendor.LineItem{{
			SKU:         p.VendorSKU,
			PageCount:   o.ActualPageCount,
			CoverURL:    o.CoverURL,
			InteriorURL: o.InteriorURL,
		}},
	})
	if err != nil {
		a.recordFailure(o, fmt.Errorf("vendor print job: %w", err))
		return
	}

	o.Status = domain.OrderProcessing
	o.VendorJobID = job.JobID
	o.VendorJobStatus = job.Status
	o.ErrorMessage = ""
	a.logger.Info("print job submitted",
		"order_id", o.ID,
		"vendor_job_id", job.JobID,
		"vendor_status", job.Status)
}

// recordFailure leaves the paid order in fulfillment_failed so a human can
// intervene; the money has moved, so the order must never disappear.
func (a *App) recordFailure(o *domain.Order, err error) {
	o.Status = domain.OrderFulfillmentFailed
	o.ErrorMessage = err.Error()
	a.logger.Error("fulfillment failed", "order_id", o.ID, "error", err)
}
