package worker

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/Priya8975/federation-engine/internal/queue"
)

// Pool runs a fixed number of queue consumers, each with its own broker
// sessions.
type Pool struct {
	numWorkers int
	newManager func(id int) *queue.Manager
	logger     *slog.Logger
}

// NewPool creates a pool. newManager is called once per worker.
func NewPool(numWorkers int, newManager func(id int) *queue.Manager, logger *slog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		newManager: newManager,
		logger:     logger,
	}
}

// Run connects every worker and consumes until ctx ends or a worker stops.
// A shutdown or restart control message stops all workers and is returned
// as queue.ErrShutdown or queue.ErrRestart.
func (p *Pool) Run(ctx context.Context) error {
	managers := make([]*queue.Manager, 0, p.numWorkers)
	defer func() {
		for _, m := range managers {
			m.Close()
		}
	}()

	for i := 0; i < p.numWorkers; i++ {
		m := p.newManager(i)
		if err := m.Connect(ctx); err != nil {
			return err
		}
		managers = append(managers, m)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range managers {
		g.Go(func() error {
			err := m.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				p.logger.Info("worker stopped", "worker", i, "reason", err)
			}
			return err
		})
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)

	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}
