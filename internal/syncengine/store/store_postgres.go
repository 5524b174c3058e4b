package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sitegate/internal/syncengine/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
	txcontext "sitegate/pkg/platform/tx"
)

// Postgres persists the sync queue. Claiming uses FOR UPDATE SKIP LOCKED so
// multiple worker replicas drain the queue without contending on the same
// rows.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Postgres) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const itemColumns = `
	id, device_id, project_id, record_type, record_id, payload,
	priority, status, attempts, next_attempt_at, last_error,
	captured_at, created_at, updated_at
`

func (s *Postgres) CreateIfAbsent(ctx context.Context, item *models.Item) (*models.Item, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO sync_items (`+itemColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO NOTHING
	`, uuid.UUID(item.ID), uuid.UUID(item.DeviceID), uuid.UUID(item.ProjectID),
		item.RecordType, item.RecordID, []byte(item.Payload),
		int(item.Priority), string(item.Status), item.Attempts, item.NextAttemptAt,
		item.LastError, item.CapturedAt, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert sync item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert sync item rows affected: %w", err)
	}
	if affected == 0 {
		existing, err := s.FindByID(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		return existing, sentinel.ErrAlreadyExists
	}
	return item, nil
}

func (s *Postgres) FindByID(ctx context.Context, itemID id.SyncItemID) (*models.Item, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM sync_items WHERE id = $1`, uuid.UUID(itemID))
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find sync item: %w", err)
	}
	return item, nil
}

// ClaimNext moves up to limit due pending items to in_flight and returns them.
func (s *Postgres) ClaimNext(ctx context.Context, now time.Time, limit int) ([]*models.Item, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		UPDATE sync_items
		SET status = $3, updated_at = $2
		WHERE id IN (
			SELECT id FROM sync_items
			WHERE status = $4 AND next_attempt_at <= $2
			ORDER BY priority, created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+itemColumns+`
	`, limit, now, string(models.StatusInFlight), string(models.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("claim sync items: %w", err)
	}
	defer rows.Close()

	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	// The UPDATE returns rows in storage order; restore queue order.
	sortClaimed(items)
	return items, nil
}

func sortClaimed(items []*models.Item) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && before(items[j], items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
}

func before(a, b *models.Item) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Execute locks the item FOR UPDATE, validates, mutates and writes back.
func (s *Postgres) Execute(ctx context.Context, itemID id.SyncItemID, validate func(*models.Item) error, mutate func(*models.Item)) (*models.Item, error) {
	var updated *models.Item
	runner := txcontext.NewSQLRunner(s.db)
	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		row := s.conn(txCtx).QueryRowContext(txCtx,
			`SELECT `+itemColumns+` FROM sync_items WHERE id = $1 FOR UPDATE`, uuid.UUID(itemID))
		item, err := scanItem(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock sync item: %w", err)
		}
		if err := validate(item); err != nil {
			return err
		}
		mutate(item)

		_, err = s.conn(txCtx).ExecContext(txCtx, `
			UPDATE sync_items
			SET status = $2, attempts = $3, next_attempt_at = $4, last_error = $5, updated_at = $6
			WHERE id = $1
		`, uuid.UUID(item.ID), string(item.Status), item.Attempts,
			item.NextAttemptAt, item.LastError, item.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update sync item: %w", err)
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Postgres) ListByDevice(ctx context.Context, deviceID id.DeviceID, statuses []models.Status) ([]*models.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM sync_items WHERE device_id = $1`
	args := []any{uuid.UUID(deviceID)}
	if len(statuses) > 0 {
		names := make([]string, 0, len(statuses))
		for _, status := range statuses {
			names = append(names, string(status))
		}
		query += ` AND status = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY created_at`

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sync items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows *sql.Rows) ([]*models.Item, error) {
	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync items: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.Item, error) {
	var (
		item      models.Item
		itemID    uuid.UUID
		deviceID  uuid.UUID
		projectID uuid.UUID
		priority  int
		status    string
		payload   []byte
	)
	err := row.Scan(
		&itemID, &deviceID, &projectID, &item.RecordType, &item.RecordID, &payload,
		&priority, &status, &item.Attempts, &item.NextAttemptAt, &item.LastError,
		&item.CapturedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.ID = id.SyncItemID(itemID)
	item.DeviceID = id.DeviceID(deviceID)
	item.ProjectID = id.ProjectID(projectID)
	item.Priority = models.Priority(priority)
	item.Status = models.Status(status)
	item.Payload = payload
	return &item, nil
}
