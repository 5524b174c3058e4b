// Package worker runs the gate expiry sweep: any gate record whose date has
// passed in its project's timezone without being verified is flipped to
// expired so the crew cannot file a log against yesterday's checklist.
package worker

import (
	"context"
	"log/slog"
	"time"

	"sitegate/internal/gate/service"
)

// Sweeper periodically expires stale gate records.
type Sweeper struct {
	gates    *service.GateService
	logger   *slog.Logger
	interval time.Duration
}

func NewSweeper(gates *service.GateService, logger *slog.Logger, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{gates: gates, logger: logger, interval: interval}
}

// Run sweeps until the context is cancelled. A failed sweep is logged and
// retried on the next tick; expiry is idempotent so nothing is lost.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.gates.ExpireStale(ctx); err != nil {
				w.logger.ErrorContext(ctx, "gate expiry sweep failed", "error", err)
			}
		}
	}
}
