package worker

import (
	"context"

	"github.com/google/uuid"

	"sitegate/pkg/platform/audit"
	auditpg "sitegate/pkg/platform/audit/store/postgres"
)

// EntrySink receives decoded audit entries. Satisfied by the Postgres store's
// AppendWithID.
type EntrySink interface {
	AppendWithID(ctx context.Context, entryID uuid.UUID, entry audit.Entry) error
}

// Loopback is the Publisher for deployments without a broker: outbox rows are
// materialized directly into audit_entries instead of travelling through the
// stream. The decode-then-AppendWithID path is the same one the stream
// consumer takes, so enabling Kafka later changes the route, not the result.
type Loopback struct {
	sink EntrySink
}

func NewLoopback(sink EntrySink) *Loopback {
	return &Loopback{sink: sink}
}

func (l *Loopback) Publish(ctx context.Context, _ string, payload []byte) error {
	entryID, entry, err := auditpg.DecodeOutboxPayload(payload)
	if err != nil {
		return err
	}
	return l.sink.AppendWithID(ctx, entryID, entry)
}
