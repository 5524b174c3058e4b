// Package worker drains the audit outbox into the audit stream. It is the only
// bridge between the transactional store and the broker, so a broker outage
// never blocks domain mutations; rows simply accumulate until it recovers.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	auditpg "sitegate/pkg/platform/audit/store/postgres"
)

// Publisher sends one audit payload to the stream. Implemented by the Kafka
// producer; tests substitute a recording fake.
type Publisher interface {
	Publish(ctx context.Context, key string, payload []byte) error
}

// OutboxWorker polls unpublished outbox rows and publishes them in order.
type OutboxWorker struct {
	store     *auditpg.Store
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewOutboxWorker creates a worker polling at interval with the given batch size.
func NewOutboxWorker(store *auditpg.Store, publisher Publisher, logger *slog.Logger, interval time.Duration, batchSize int) *OutboxWorker {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxWorker{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run drains the outbox until ctx is cancelled. A failed publish rolls back
// the claim so the rows are retried on the next tick; publishing is at-least-
// once and the consumer deduplicates by entry ID.
func (w *OutboxWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.drainOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "audit outbox drain failed", "error", err)
			}
		}
	}
}

func (w *OutboxWorker) drainOnce(ctx context.Context) error {
	rows, sqlTx, err := w.store.ClaimUnpublished(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return sqlTx.Rollback()
	}

	published := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		if err := w.publisher.Publish(ctx, row.Key, row.Payload); err != nil {
			// Roll back the whole claim; redelivery is deduplicated downstream.
			_ = sqlTx.Rollback()
			return err
		}
		published = append(published, row.ID)
	}

	if err := w.store.MarkPublished(ctx, sqlTx, published); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return err
	}

	w.logger.DebugContext(ctx, "audit outbox drained", "published", len(published))
	return nil
}
