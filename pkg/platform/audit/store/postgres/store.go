package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "sitegate/pkg/platform/audit"
	txcontext "sitegate/pkg/platform/tx"
)

// Store implements audit.Store using the transactional outbox pattern. Append
// writes to the outbox table inside the caller's transaction; the outbox
// worker publishes to Kafka and the consumer materializes entries into
// audit_entries for querying. Kafka carries the durable audit stream.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes through the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// outboxPayload is the JSON structure published to Kafka. Field names match
// audit.Entry for deserialization by the consumer.
type outboxPayload struct {
	ID          string          `json:"ID"`
	Table       string          `json:"Table"`
	RecordID    string          `json:"RecordID"`
	Action      string          `json:"Action"`
	OldSnapshot json.RawMessage `json:"OldSnapshot,omitempty"`
	NewSnapshot json.RawMessage `json:"NewSnapshot,omitempty"`
	Actor       string          `json:"Actor,omitempty"`
	Device      string          `json:"Device,omitempty"`
	Timestamp   string          `json:"Timestamp"`
}

// Append writes an audit entry to the outbox table. It participates in the
// caller's transaction when one is carried in ctx, so the entry commits or
// rolls back atomically with the mutation it describes.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	payload := outboxPayload{
		ID:          entry.ID.String(),
		Table:       entry.Table,
		RecordID:    entry.RecordID,
		Action:      entry.Action,
		OldSnapshot: entry.OldSnapshot,
		NewSnapshot: entry.NewSnapshot,
		Actor:       entry.Actor,
		Device:      entry.Device,
		Timestamp:   entry.Timestamp.Format(time.RFC3339Nano),
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO audit_outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.New(), // outbox row ID, distinct from the entry ID
		entry.Table,
		entry.RecordID,
		entry.Action,
		payloadBytes,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert audit outbox row: %w", err)
	}
	return nil
}

// AppendWithID inserts a materialized audit entry with a specific ID. Used by
// the Kafka consumer; duplicate deliveries are ignored via ON CONFLICT DO
// NOTHING so re-consumption is idempotent.
func (s *Store) AppendWithID(ctx context.Context, entryID uuid.UUID, entry audit.Entry) error {
	query := `
		INSERT INTO audit_entries (
			id, table_name, record_id, action,
			old_snapshot, new_snapshot, actor, device, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		entryID,
		entry.Table,
		entry.RecordID,
		entry.Action,
		nullableJSON(entry.OldSnapshot),
		nullableJSON(entry.NewSnapshot),
		entry.Actor,
		entry.Device,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListByRecord returns the full mutation history of one record, oldest first.
func (s *Store) ListByRecord(ctx context.Context, table, recordID string) ([]audit.Entry, error) {
	query := `
		SELECT id, table_name, record_id, action,
		       old_snapshot, new_snapshot, actor, device, recorded_at
		FROM audit_entries
		WHERE table_name = $1 AND record_id = $2
		ORDER BY recorded_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, table, recordID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// ListRecent returns the N most recent entries across all tables.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	query := `
		SELECT id, table_name, record_id, action,
		       old_snapshot, new_snapshot, actor, device, recorded_at
		FROM audit_entries
		ORDER BY recorded_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// OutboxRow is an unpublished outbox record claimed by the outbox worker.
type OutboxRow struct {
	ID      uuid.UUID
	Key     string
	Payload []byte
}

// ClaimUnpublished locks and returns up to limit unpublished outbox rows.
// FOR UPDATE SKIP LOCKED lets multiple worker processes drain concurrently
// without double-publishing a row.
func (s *Store) ClaimUnpublished(ctx context.Context, limit int) ([]OutboxRow, *sql.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("begin outbox tx: %w", err)
	}

	query := `
		SELECT id, aggregate_id, payload
		FROM audit_outbox
		WHERE published_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := sqlTx.QueryContext(ctx, query, limit)
	if err != nil {
		_ = sqlTx.Rollback()
		return nil, nil, fmt.Errorf("claim outbox rows: %w", err)
	}
	defer rows.Close()

	var claimed []OutboxRow
	for rows.Next() {
		var row OutboxRow
		if err := rows.Scan(&row.ID, &row.Key, &row.Payload); err != nil {
			_ = sqlTx.Rollback()
			return nil, nil, fmt.Errorf("scan outbox row: %w", err)
		}
		claimed = append(claimed, row)
	}
	if err := rows.Err(); err != nil {
		_ = sqlTx.Rollback()
		return nil, nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return claimed, sqlTx, nil
}

// MarkPublished stamps claimed rows inside the claim transaction.
func (s *Store) MarkPublished(ctx context.Context, sqlTx *sql.Tx, ids []uuid.UUID) error {
	for _, rowID := range ids {
		if _, err := sqlTx.ExecContext(ctx,
			`UPDATE audit_outbox SET published_at = $1 WHERE id = $2`, time.Now(), rowID,
		); err != nil {
			return fmt.Errorf("mark outbox row published: %w", err)
		}
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var entry audit.Entry
		var oldSnap, newSnap sql.NullString
		if err := rows.Scan(
			&entry.ID, &entry.Table, &entry.RecordID, &entry.Action,
			&oldSnap, &newSnap, &entry.Actor, &entry.Device, &entry.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if oldSnap.Valid {
			entry.OldSnapshot = json.RawMessage(oldSnap.String)
		}
		if newSnap.Valid {
			entry.NewSnapshot = json.RawMessage(newSnap.String)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// DecodeOutboxPayload parses an outbox/Kafka payload back into an Entry.
func DecodeOutboxPayload(payload []byte) (uuid.UUID, audit.Entry, error) {
	var p outboxPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return uuid.Nil, audit.Entry{}, fmt.Errorf("unmarshal audit payload: %w", err)
	}
	entryID, err := uuid.Parse(p.ID)
	if err != nil {
		return uuid.Nil, audit.Entry{}, fmt.Errorf("parse audit entry id: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
	if err != nil {
		return uuid.Nil, audit.Entry{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	return entryID, audit.Entry{
		ID:          entryID,
		Table:       p.Table,
		RecordID:    p.RecordID,
		Action:      p.Action,
		OldSnapshot: p.OldSnapshot,
		NewSnapshot: p.NewSnapshot,
		Actor:       p.Actor,
		Device:      p.Device,
		Timestamp:   ts,
	}, nil
}
