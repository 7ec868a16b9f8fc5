package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"fablepress/internal/util"
	"fablepress/pkg/payment"
	"fablepress/pkg/printvendor"
	"fablepress/pkg/storage"
	"fablepress/pkg/store"
	"fablepress/services/commerce/internal/app"
	"fablepress/services/commerce/internal/config"
	"fablepress/services/commerce/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	objects, err := storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init object store: %v", err)
	}

	vendor, err := printvendor.NewClient(printvendor.Config{
		BaseURL:      cfg.VendorBaseURL,
		ClientKey:    cfg.VendorClientKey,
		ClientSecret: cfg.VendorClientSecret,
	})
	if err != nil {
		log.Fatalf("failed to init vendor client: %v", err)
	}

	payments, err := payment.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey, 30*time.Second)
	if err != nil {
		log.Fatalf("failed to init payment client: %v", err)
	}

	appCore := app.New(app.Config{
		Store:   db,
		Objects: objects,
		Vendor:  vendor,
		Payment: payments,
		Pricing: app.Pricing{
			PictureMarginCents: cfg.PictureMarginCents,
			TextMarginCents:    cfg.TextMarginCents,
		},
		SuccessURL: cfg.SuccessURL,
		CancelURL:  cfg.CancelURL,
		Logger:     logger,
	})

	httpServer := server.New(server.Config{
		App:           appCore,
		WebhookSecret: cfg.WebhookSecret,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("commerce server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
