package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"fablepress/internal/util"
	"fablepress/pkg/ai"
	"fablepress/pkg/domain"
	"fablepress/pkg/lock"
	"fablepress/pkg/queue"
	"fablepress/pkg/storage"
	"fablepress/pkg/store"
	"fablepress/services/studio/internal/app"
	"fablepress/services/studio/internal/config"
	"fablepress/services/studio/internal/server"
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

	locker, err := lock.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, lock.DefaultTTL)
	if err != nil {
		log.Fatalf("failed to init locker: %v", err)
	}

	sequentialQ, err := newQueue(cfg, domain.JobSequentialUnit)
	if err != nil {
		log.Fatalf("failed to init sequential queue: %v", err)
	}
	fanOutQ, err := newQueue(cfg, domain.JobFanOutUnit)
	if err != nil {
		log.Fatalf("failed to init fan-out queue: %v", err)
	}
	regenQ, err := newQueue(cfg, domain.JobRegeneration)
	if err != nil {
		log.Fatalf("failed to init regeneration queue: %v", err)
	}

	appCore := app.New(app.Config{
		Store:       db,
		Objects:     objects,
		Locker:      locker,
		Text:        ai.NewOpenAICompatGenerator(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel),
		Image:       ai.NewOpenAICompatImageGenerator(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.ImageModel, cfg.ImageSize),
		Sequential:  enqueuer(sequentialQ),
		FanOut:      enqueuer(fanOutQ),
		Regen:       enqueuer(regenQ),
		TypesetURL:  cfg.TypesetURL,
		WorkDir:     cfg.WorkDir,
		MaxAttempts: cfg.QueueMaxRetries,
		Logger:      logger,
	})

	ctx := context.Background()
	sequentialQ.Start(ctx, cfg.SequentialConcurrency, appCore.HandleSequentialUnit)
	fanOutQ.Start(ctx, cfg.FanOutConcurrency, appCore.HandleFanOutUnit)
	regenQ.Start(ctx, 1, appCore.HandleRegeneration)

	httpServer := server.New(server.Config{App: appCore})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("studio server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}

func newQueue(cfg config.FileConfig, jobType domain.JobType) (*queue.RedisJobQueue, error) {
	return queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		JobType:    jobType,
		MaxRetries: cfg.QueueMaxRetries,
	})
}

func enqueuer(q *queue.RedisJobQueue) app.Enqueuer {
	return app.EnqueuerFunc(func(ctx context.Context, job domain.Job) error {
		_, err := q.Enqueue(ctx, job)
		return err
	})
}
