//go:build integration

// End-to-end audit pipeline: outbox rows written by the store are drained to
// the broker by the outbox worker, consumed by the materializer, and land in
// the queryable audit_entries read model exactly once.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"sitegate/internal/audit/materializer"
	"sitegate/internal/platform/config"
	"sitegate/internal/platform/kafka"
	audit "sitegate/pkg/platform/audit"
	auditpg "sitegate/pkg/platform/audit/store/postgres"
	auditworker "sitegate/pkg/platform/audit/worker"
	"sitegate/pkg/testutil/containers"
)

func TestAuditPipeline(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	postgres := containers.NewPostgresContainer(t, "../../../migrations")
	redpanda := containers.NewRedpandaContainer(t)

	cfg := config.KafkaConfig{
		Brokers:       redpanda.Brokers,
		AuditTopic:    "sitegate.audit",
		ConsumerGroup: "sitegate-audit-materializer",
	}
	require.NoError(t, kafka.EnsureTopics(ctx, cfg))

	producer, err := kafka.NewProducer(cfg)
	require.NoError(t, err)
	defer producer.Close()

	logger := slog.New(slog.DiscardHandler)
	store := auditpg.New(postgres.DB)

	consumer, err := kafka.NewConsumer(cfg, materializer.New(store, logger), logger)
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = auditworker.NewOutboxWorker(store, producer, logger, 100*time.Millisecond, 10).Run(runCtx)
	}()
	go func() {
		_ = consumer.Run(runCtx)
	}()

	recordID := uuid.NewString()
	entry := audit.Entry{
		ID:          uuid.New(),
		Table:       audit.TableGateRecords,
		RecordID:    recordID,
		Action:      audit.ActionGateVerified,
		OldSnapshot: json.RawMessage(`{"status":"in_progress"}`),
		NewSnapshot: json.RawMessage(`{"status":"verified"}`),
		Actor:       "device:tablet-07",
		Device:      "tablet-07",
	}
	require.NoError(t, store.Append(ctx, entry))
	require.NoError(t, store.Append(ctx, audit.Entry{
		Table:    audit.TableGatedLogs,
		RecordID: uuid.NewString(),
		Action:   audit.ActionGatedLogCreated,
		Actor:    "device:tablet-07",
	}))

	require.Eventually(t, func() bool {
		entries, err := store.ListRecent(ctx, 10)
		return err == nil && len(entries) == 2
	}, 30*time.Second, 250*time.Millisecond, "entries should materialize from the stream")

	history, err := store.ListByRecord(ctx, audit.TableGateRecords, recordID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, entry.ID, history[0].ID)
	require.Equal(t, audit.ActionGateVerified, history[0].Action)
	require.JSONEq(t, `{"status":"verified"}`, string(history[0].NewSnapshot))
	require.Equal(t, "device:tablet-07", history[0].Actor)

	// The outbox should be fully drained.
	var unpublished int
	err = postgres.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_outbox WHERE published_at IS NULL`).Scan(&unpublished)
	require.NoError(t, err)
	require.Zero(t, unpublished)

	// Redelivery of an already-materialized entry is a no-op.
	require.NoError(t, store.AppendWithID(ctx, entry.ID, entry))
	entries, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
