// Command fedctl is the operator tool for the federation engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Priya8975/federation-engine/internal/config"
	"github.com/Priya8975/federation-engine/internal/queue"
	"github.com/Priya8975/federation-engine/internal/store"
	"github.com/Priya8975/federation-engine/internal/websub"
	"github.com/Priya8975/federation-engine/internal/worker"
)

// env holds the connections a command needs. Fields are opened lazily by
// the helpers below and closed by close.
type env struct {
	cfg    *config.Config
	logger *slog.Logger

	pg    *store.PostgresStore
	redis *store.RedisStore
	queue *queue.Manager
}

func (e *env) postgres(ctx context.Context) (*store.PostgresStore, error) {
	if e.pg == nil {
		pg, err := store.NewPostgres(ctx, e.cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		e.pg = pg
	}
	return e.pg, nil
}

func (e *env) redisStore(ctx context.Context) (*store.RedisStore, error) {
	if e.redis == nil {
		r, err := store.NewRedis(ctx, e.cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		e.redis = r
	}
	return e.redis, nil
}

func (e *env) queueManager(ctx context.Context) (*queue.Manager, error) {
	if e.queue == nil {
		reg := queue.NewHandlerRegistry()
		worker.RegisterGroups(reg)
		m := queue.NewManager(e.cfg.Queue([]string{e.cfg.Site}), e.cfg.QueueDialer(e.logger), reg, e.logger)
		if err := m.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connecting to queue: %w", err)
		}
		e.queue = m
	}
	return e.queue, nil
}

// subscriptions builds a subscription manager on the shared store.
func (e *env) subscriptions(ctx context.Context) (*websub.Manager, error) {
	pg, err := e.postgres(ctx)
	if err != nil {
		return nil, err
	}
	r, err := e.redisStore(ctx)
	if err != nil {
		return nil, err
	}
	limiter := websub.NewRateLimiter(r.Client(), e.cfg.PushRateLimit, rateWindow, e.logger)
	client := &http.Client{Timeout: e.cfg.HTTPTimeout}
	return websub.NewManager(pg, pg, client, limiter, e.cfg.WebSub(), e.logger), nil
}

func (e *env) close() {
	if e.queue != nil {
		e.queue.Close()
	}
	if e.redis != nil {
		e.redis.Close()
	}
	if e.pg != nil {
		e.pg.Close()
	}
}

func newRootCmd(e *env) *cobra.Command {
	root := &cobra.Command{
		Use:           "fedctl",
		Short:         "Operate WebSub subscriptions, federation queues and local actors",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if e.cfg != nil {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			e.cfg = cfg
			return nil
		},
	}

	root.AddCommand(
		newRenewCmd(e),
		newGCCmd(e),
		newResubscribeCmd(e),
		newUnsubscribeCmd(e),
		newReplayFeedCmd(e),
		newControlCmd(e),
		newActorCmd(e),
	)
	return root
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	e := &env{logger: logger}
	defer e.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(e).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fedctl: %v\n", err)
		e.close()
		os.Exit(1)
	}
}
