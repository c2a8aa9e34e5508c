package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"boatmarket/internal/cache"
	"boatmarket/internal/config"
	"boatmarket/internal/log"
	"boatmarket/internal/queue"
	"boatmarket/internal/service"
	"boatmarket/internal/storage"
	"boatmarket/internal/tasks"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer client.Close()

	objectStore, err := storage.NewObjectStore(cfg.Storage, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}

	staging := service.NewStagingService(objectStore, cfg.Uploads.Quality, logger)
	processor := tasks.NewProcessor(staging, cfg.Staging.ReapAfter, logger)
	consumer := queue.NewConsumer(client, cfg.Worker, logger, processor)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Fatal().Err(err).Msg("consumer stopped unexpectedly")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn().Msg("consumer did not stop in time")
	}
}
