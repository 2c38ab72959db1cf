// Command queued consumes federation tasks: WebSub verification and
// distribution, inbox imports and outbound ActivityPub deliveries.
package main

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/Priya8975/federation-engine/internal/config"
	"github.com/Priya8975/federation-engine/internal/httpsig"
	"github.com/Priya8975/federation-engine/internal/monitor"
	"github.com/Priya8975/federation-engine/internal/queue"
	"github.com/Priya8975/federation-engine/internal/store"
	"github.com/Priya8975/federation-engine/internal/streams"
	"github.com/Priya8975/federation-engine/internal/translate"
	"github.com/Priya8975/federation-engine/internal/websub"
	"github.com/Priya8975/federation-engine/internal/worker"
)

const (
	interestTTL = 30 * time.Second
	rateWindow  = time.Minute
)

type options struct {
	threads  int
	allSites bool
	site     string
	id       string
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var opts options
	flag.IntVarP(&opts.threads, "threads", "t", cfg.NumWorkers, "number of consumers")
	flag.BoolVarP(&opts.allSites, "all", "a", false, "consume for every configured site")
	flag.StringVarP(&opts.site, "site", "s", cfg.Site, "site to consume for")
	flag.StringVarP(&opts.id, "id", "i", "", "daemon identifier for logs")
	flag.Parse()

	if opts.id == "" {
		host, _ := os.Hostname()
		opts.id = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	logger = logger.With("daemon", opts.id)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, logger); err != nil {
		logger.Error("queue daemon failed", "error", err)
		os.Exit(1)
	}
	logger.Info("queue daemon stopped")
}

func run(ctx context.Context, cfg *config.Config, opts options, logger *slog.Logger) error {
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pgStore.Close()

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer redisStore.Close()

	sites, err := config.LoadSites(cfg.SitesFile, config.Site{Nickname: cfg.Site, BaseURL: cfg.BaseURL}, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := sites.Watch(ctx); err != nil {
			logger.Error("sites watcher stopped", "error", err)
		}
	}()

	hub := monitor.NewHub(logger)
	go hub.Run(ctx)
	monitorSrv := startMonitor(cfg.MonitorPort, hub, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		monitorSrv.Shutdown(shutdownCtx)
	}()

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	registry := streams.NewRegistry(streams.WithStrict(cfg.StrictValidation))

	var (
		keyID string
		key   *rsa.PrivateKey
	)
	if cfg.InstanceActor != "" {
		actor := store.LocalActorURIs(cfg.BaseURL, cfg.InstanceActor)
		keyID, key, err = pgStore.SigningKey(ctx, actor.URI)
		if err != nil {
			return fmt.Errorf("loading instance key: %w", err)
		}
	}
	fetcher := httpsig.NewFetcher(client, registry, keyID, key, logger)
	translator := translate.New(registry, translate.RemoteActors(fetcher), logger)

	interest := redisStore.CachedInterest(pgStore, interestTTL)
	limiter := websub.NewRateLimiter(redisStore.Client(), cfg.PushRateLimit, rateWindow, logger)
	subs := websub.NewManager(pgStore, interest, client, limiter, cfg.WebSub(), logger)

	sinks := queue.MultiSink{pgStore, hub}
	if cfg.DeadLetterDir != "" {
		sinks = append(queue.MultiSink{queue.NewDirSink(cfg.DeadLetterDir)}, sinks...)
	}
	counter := queue.NewRedeliveryCounter(redisStore.Client(), cfg.RetryTTL)
	breaker := worker.NewHostBreaker(redisStore.Client(), cfg.BreakerThreshold, cfg.BreakerCooldown, logger)

	for {
		consumeFor := []string{opts.site}
		if opts.allSites {
			consumeFor = sites.Nicknames()
		}
		qcfg := cfg.Queue(consumeFor)
		dialer := cfg.QueueDialer(logger)

		// Tasks queued by handlers go out through a dedicated session.
		out := queue.NewManager(qcfg, dialer, registryWithGroups(), logger)
		if err := out.Connect(ctx); err != nil {
			return fmt.Errorf("connecting to queue: %w", err)
		}

		handlers := worker.NewHandlers(worker.Deps{
			Queue:       out,
			Hub:         subs,
			Ledger:      pgStore,
			Translator:  translator,
			Deliverer:   worker.NewDeliverer(client, pgStore, logger).WithBreaker(breaker),
			Events:      hub,
			PushRetries: cfg.PushRetries,
			Logger:      logger,
		})
		reg := queue.NewHandlerRegistry()
		handlers.Register(reg)

		pool := worker.NewPool(opts.threads, func(id int) *queue.Manager {
			return queue.NewManager(qcfg, dialer, reg, logger.With("worker", id),
				queue.WithRedeliveryCounter(counter),
				queue.WithDeadLetterSink(sinks),
				queue.WithSites(sites),
			)
		}, logger)

		logger.Info("queue daemon starting", "broker", cfg.Broker, "sites", consumeFor, "threads", opts.threads)
		err := pool.Run(ctx)
		out.Close()

		switch {
		case errors.Is(err, queue.ErrRestart):
			logger.Info("restart requested, reloading sites")
			if err := sites.ReloadAll(); err != nil {
				return fmt.Errorf("reloading sites: %w", err)
			}
			continue
		case errors.Is(err, queue.ErrShutdown):
			logger.Info("shutdown requested")
			return nil
		case err == nil, errors.Is(err, context.Canceled):
			return nil
		}
		return err
	}
}

func registryWithGroups() *queue.HandlerRegistry {
	reg := queue.NewHandlerRegistry()
	worker.RegisterGroups(reg)
	return reg
}

// startMonitor serves metrics and the live event stream of this daemon.
func startMonitor(port string, hub *monitor.Hub, logger *slog.Logger) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", hub.HandleWebSocket)

	srv := &http.Server{
		Addr:        ":" + port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		logger.Info("monitor listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("monitor server error", "error", err)
		}
	}()
	return srv
}
