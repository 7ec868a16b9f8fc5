package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fablepress/pkg/domain"
	"fablepress/pkg/payment"
	"fablepress/pkg/printvendor"
	"fablepress/pkg/storage"
	"fablepress/pkg/store"
)

// VendorClient is the slice of the print vendor API commerce uses.
type VendorClient interface {
	Quote(ctx context.Context, req printvendor.QuoteRequest) (printvendor.Quote, error)
	CreatePrintJob(ctx context.Context, req printvendor.PrintJobRequest) (printvendor.PrintJob, error)
}

// PaymentClient opens hosted payment sessions.
type PaymentClient interface {
	CreateSession(ctx context.Context, req payment.SessionRequest) (payment.Session, error)
}

// Pricing holds the platform's fixed margins in cents.
type Pricing struct {
	PictureMarginCents int64
	TextMarginCents    int64
}

// Config carries the collaborators an App needs.
type Config struct {
	Store      store.Store
	Objects    storage.ObjectStore
	Vendor     VendorClient
	Payment    PaymentClient
	Pricing    Pricing
	SuccessURL string
	CancelURL  string
	// ArtifactURLTTL bounds how long presigned artifact URLs stay valid.
	// The vendor fetches them during print-job intake, which can lag the
	// webhook by hours.
	ArtifactURLTTL time.Duration
	Logger         *slog.Logger
}

// App implements checkout and fulfillment for print orders.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	vendor         VendorClient
	payment        PaymentClient
	pricing        Pricing
	successURL     string
	cancelURL      string
	artifactURLTTL time.Duration
	logger         *slog.Logger
}

func New(cfg Config) *App {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.ArtifactURLTTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &App{
		store:          cfg.Store,
		objects:        cfg.Objects,
		vendor:         cfg.Vendor,
		payment:        cfg.Payment,
		pricing:        cfg.Pricing,
		successURL:     cfg.SuccessURL,
		cancelURL:      cfg.CancelURL,
		artifactURLTTL: ttl,
		logger:         logger,
	}
}

// GetOrder returns an order the owner can see.
func (a *App) GetOrder(ctx context.Context, orderID, ownerID string) (domain.Order, error) {
	o, found, err := a.store.GetOrder(orderID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("load order: %w", err)
	}
	if !found || (ownerID != "" && o.OwnerID != ownerID) {
		return domain.Order{}, ErrOrderNotFound
	}
	return o, nil
}

// ListOrders returns the orders placed against one project.
func (a *App) ListOrders(ctx context.Context, projectID, ownerID string) ([]domain.Order, error) {
	if _, err := a.ownedProject(projectID, ownerID); err != nil {
		return nil, err
	}
	return a.store.ListOrdersByProject(projectID)
}

func (a *App) ownedProject(projectID, ownerID string) (domain.Project, error) {
	p, found, err := a.store.GetProject(projectID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("load project: %w", err)
	}
	if !found || (ownerID != "" && p.OwnerID != ownerID) {
		return domain.Project{}, ErrProjectNotFound
	}
	return p, nil
}
