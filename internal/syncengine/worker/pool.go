// Package worker drains the offline sync queue with a small pool of
// concurrent appliers.
package worker

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"sitegate/internal/syncengine/service"
)

// Pool runs several queue drainers in parallel. Claiming is atomic at the
// store, so workers never pick up the same item twice.
type Pool struct {
	sync      *service.SyncService
	logger    *slog.Logger
	workers   int
	batchSize int
	interval  time.Duration
}

// Option configures the pool.
type Option func(*Pool)

// WithWorkers sets the number of concurrent drainers.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithBatchSize sets how many items one claim pulls.
func WithBatchSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithInterval sets the idle poll interval.
func WithInterval(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.interval = d
		}
	}
}

func NewPool(sync *service.SyncService, logger *slog.Logger, opts ...Option) *Pool {
	p := &Pool{
		sync:      sync,
		logger:    logger,
		workers:   4,
		batchSize: 10,
		interval:  2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run drains the queue until the context is cancelled. A worker that just
// processed a full batch claims again immediately; an idle worker sleeps for
// the poll interval.
func (p *Pool) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		group.Go(func() error {
			return p.drain(ctx)
		})
	}
	return group.Wait()
}

func (p *Pool) drain(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		processed, err := p.sync.ProcessDue(ctx, p.batchSize)
		if err != nil {
			p.logger.ErrorContext(ctx, "sync drain failed", "error", err)
		}
		if processed < p.batchSize {
			timer.Reset(p.interval)
		} else {
			timer.Reset(0)
		}
	}
}
