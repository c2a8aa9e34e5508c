package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"boatmarket/internal/cache"
	"boatmarket/internal/config"
	"boatmarket/internal/database"
	"boatmarket/internal/events"
	"boatmarket/internal/handlers"
	"boatmarket/internal/jobs"
	"boatmarket/internal/log"
	"boatmarket/internal/payment"
	"boatmarket/internal/repository"
	"boatmarket/internal/server"
	"boatmarket/internal/service"
	"boatmarket/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "api")

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if cfg.Postgres.AutoMigrate {
		if err := database.Migrate(ctx, dbPool); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	objectStore, err := storage.NewObjectStore(cfg.Storage, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to init object store")
	}
	if err := objectStore.EnsureBucket(ctx); err != nil {
		logger.Warn().Err(err).Msg("ensure bucket failed")
	}

	if cfg.Payment.WebhookSecret == "" {
		logger.Error().Msg("payment webhook secret not configured, webhooks will be rejected")
	}

	publisher := events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)

	users := repository.NewUserRepository(dbPool)
	sessions := repository.NewSessionRepository(dbPool)
	listingRepo := repository.NewListingRepository(dbPool)
	paymentRepo := repository.NewPaymentRepository(dbPool)
	customerRepo := repository.NewCustomerRepository(dbPool)
	catalog := service.NewCatalogService(repository.NewCatalogRepository(dbPool), logger)

	provider := payment.NewStripeProvider(cfg.Payment, logger)
	deadLetters := events.NewDeadLetterLog(redisClient)

	staging := service.NewStagingService(objectStore, cfg.Uploads.Quality, logger)
	promoter := service.NewPromotionService(objectStore, cfg.Promotion, logger)
	states := service.NewListingStateMachine(listingRepo, publisher, cfg.Cleanup, logger)
	checkout := service.NewCheckoutService(service.CheckoutDeps{
		Listings:    listingRepo,
		Payments:    paymentRepo,
		Customers:   customerRepo,
		Tx:          database.NewTransactor(dbPool),
		Provider:    provider,
		States:      states,
		Promoter:    promoter,
		Staging:     staging,
		DeadLetters: deadLetters,
		Publisher:   publisher,
		ReapQueue:   jobs.NewTaskQueue(redisClient, cfg.Worker.Stream),
		Catalog:     catalog,
	}, cfg, logger)

	handlerSet := handlers.NewHandlerSet(handlers.Deps{
		Config:      cfg,
		Log:         logger,
		DB:          dbPool,
		Cache:       redisClient,
		Users:       users,
		Sessions:    sessions,
		Auth:        service.NewAuthService(users, sessions, cfg.Security, logger),
		Staging:     staging,
		Checkout:    checkout,
		Catalog:     catalog,
		Listings:    service.NewListingService(listingRepo, paymentRepo, objectStore, publisher, cfg.Uploads, logger),
		States:      states,
		Provider:    provider,
		DeadLetters: deadLetters,
	})
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(redisClient, cfg.Worker, cfg.Staging, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, publisher, dbPool, redisClient)
}

func waitForShutdown(
	logger zerolog.Logger,
	srv *server.HTTPServer,
	scheduler *jobs.Scheduler,
	publisher events.Publisher,
	db *pgxpool.Pool,
	redisClient *redis.Client,
) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	scheduler.Stop()

	if err := publisher.Close(); err != nil {
		logger.Error().Err(err).Msg("publisher close error")
	}
	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
