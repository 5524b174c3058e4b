// Package materializer consumes the audit stream and writes queryable rows.
// The stream is the durable trail; audit_entries is a read model rebuilt from
// it, so reprocessing the topic from the start is always safe.
package materializer

import (
	"context"
	"log/slog"

	"sitegate/internal/platform/kafka"
	auditpg "sitegate/pkg/platform/audit/store/postgres"
)

// Materializer implements kafka.Handler for audit payloads.
type Materializer struct {
	store  *auditpg.Store
	logger *slog.Logger
}

func New(store *auditpg.Store, logger *slog.Logger) *Materializer {
	return &Materializer{store: store, logger: logger}
}

// Handle decodes one published entry and upserts it. AppendWithID ignores
// duplicate IDs, so at-least-once delivery cannot double-write.
func (m *Materializer) Handle(ctx context.Context, msg *kafka.Message) error {
	entryID, entry, err := auditpg.DecodeOutboxPayload(msg.Value)
	if err != nil {
		// A payload that cannot be decoded will never decode; log it and move
		// on rather than stalling the partition forever.
		m.logger.ErrorContext(ctx, "dropping undecodable audit payload",
			"topic", msg.Topic, "offset", msg.Offset, "error", err)
		return nil
	}
	if err := m.store.AppendWithID(ctx, entryID, entry); err != nil {
		return err
	}
	m.logger.DebugContext(ctx, "audit entry materialized",
		"entry_id", entryID.String(),
		"table", entry.Table,
		"action", entry.Action)
	return nil
}
