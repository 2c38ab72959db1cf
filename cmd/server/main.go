package main

import (
	"context"
	"crypto/rsa"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Priya8975/federation-engine/internal/api"
	"github.com/Priya8975/federation-engine/internal/config"
	"github.com/Priya8975/federation-engine/internal/httpsig"
	"github.com/Priya8975/federation-engine/internal/queue"
	"github.com/Priya8975/federation-engine/internal/store"
	"github.com/Priya8975/federation-engine/internal/streams"
	"github.com/Priya8975/federation-engine/internal/translate"
	"github.com/Priya8975/federation-engine/internal/worker"
)

const interestTTL = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize PostgreSQL
	ctx := context.Background()
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := pgStore.RunMigrations(ctx, cfg.Migrations); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// Connect to the queue. This process only enqueues.
	handlers := queue.NewHandlerRegistry()
	worker.RegisterGroups(handlers)
	qm := queue.NewManager(cfg.Queue([]string{cfg.Site}), cfg.QueueDialer(logger), handlers, logger)
	if err := qm.Connect(ctx); err != nil {
		logger.Error("failed to connect to queue", "broker", cfg.Broker, "error", err)
		os.Exit(1)
	}
	defer qm.Close()
	logger.Info("connected to queue", "broker", cfg.Broker)

	// Federation plumbing
	registry := streams.NewRegistry(streams.WithStrict(cfg.StrictValidation))
	client := &http.Client{Timeout: cfg.HTTPTimeout}

	var (
		keyID string
		key   *rsa.PrivateKey
	)
	if cfg.InstanceActor != "" {
		actor := store.LocalActorURIs(cfg.BaseURL, cfg.InstanceActor)
		keyID, key, err = pgStore.SigningKey(ctx, actor.URI)
		if err != nil {
			logger.Error("failed to load instance key", "actor", actor.URI, "error", err)
			os.Exit(1)
		}
	}
	fetcher := httpsig.NewFetcher(client, registry, keyID, key, logger)
	translator := translate.New(registry, translate.RemoteActors(fetcher), logger)
	verifier := httpsig.NewVerifier(fetcher, httpsig.DefaultClockSkew)

	hubURL := cfg.BaseURL + "/hub"
	ledger := pgStore.Ledger()
	publisher := worker.NewPublisher(ledger, pgStore, translator, qm, hubURL, cfg.PushRetries, logger)

	// Setup router
	router := api.NewRouter(api.Deps{
		Queue:         qm,
		Interest:      redisStore.CachedInterest(pgStore, interestTTL),
		Verifier:      verifier,
		Registry:      registry,
		Translator:    translator,
		Ledger:        ledger,
		Publisher:     publisher,
		Subscriptions: pgStore,
		DeadLetters:   pgStore,
		Stats:         pgStore,
		Health: map[string]api.Check{
			"postgres": pgStore.Ping,
			"redis": func(ctx context.Context) error {
				return redisStore.Client().Ping(ctx).Err()
			},
		},
		Site:   cfg.Site,
		HubURL: hubURL,
		Logger: logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port, "base_url", cfg.BaseURL)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
