package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"sitegate/internal/alert/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
	txcontext "sitegate/pkg/platform/tx"
)

// Postgres persists alerts. Deduplication rides on a unique index over
// dedupe_key, so concurrent detectors of the same condition insert one row.
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

const alertColumns = `
	id, project_id, kind, message, dedupe_key, details,
	acknowledged, acknowledged_by, acknowledged_at, created_at
`

func (s *Postgres) CreateIfAbsent(ctx context.Context, alert *models.Alert) (*models.Alert, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, uuid.UUID(alert.ID), uuid.UUID(alert.ProjectID), string(alert.Kind),
		alert.Message, alert.DedupeKey, []byte(alert.Details),
		alert.Acknowledged, alert.AcknowledgedBy, alert.AcknowledgedAt, alert.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert alert rows affected: %w", err)
	}
	if affected == 0 {
		existing, err := s.findByDedupeKey(ctx, alert.DedupeKey)
		if err != nil {
			return nil, err
		}
		return existing, sentinel.ErrAlreadyExists
	}
	return alert, nil
}

func (s *Postgres) findByDedupeKey(ctx context.Context, dedupeKey string) (*models.Alert, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE dedupe_key = $1`, dedupeKey)
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find alert by dedupe key: %w", err)
	}
	return alert, nil
}

func (s *Postgres) FindByID(ctx context.Context, alertID id.AlertID) (*models.Alert, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+alertColumns+` FROM alerts WHERE id = $1`, uuid.UUID(alertID))
	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find alert: %w", err)
	}
	return alert, nil
}

// Execute locks the row FOR UPDATE, validates, mutates and writes back inside
// one transaction.
func (s *Postgres) Execute(ctx context.Context, alertID id.AlertID, validate func(*models.Alert) error, mutate func(*models.Alert)) (*models.Alert, error) {
	var updated *models.Alert
	runner := txcontext.NewSQLRunner(s.db)
	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		row := s.conn(txCtx).QueryRowContext(txCtx,
			`SELECT `+alertColumns+` FROM alerts WHERE id = $1 FOR UPDATE`, uuid.UUID(alertID))
		alert, err := scanAlert(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock alert: %w", err)
		}
		if err := validate(alert); err != nil {
			return err
		}
		mutate(alert)

		_, err = s.conn(txCtx).ExecContext(txCtx, `
			UPDATE alerts
			SET acknowledged = $2, acknowledged_by = $3, acknowledged_at = $4
			WHERE id = $1
		`, uuid.UUID(alert.ID), alert.Acknowledged, alert.AcknowledgedBy, alert.AcknowledgedAt)
		if err != nil {
			return fmt.Errorf("update alert: %w", err)
		}
		updated = alert
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Postgres) ListUnacknowledged(ctx context.Context, projectID id.ProjectID) ([]*models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts WHERE NOT acknowledged`
	args := []any{}
	if !projectID.IsNil() {
		query += ` AND project_id = $1`
		args = append(args, uuid.UUID(projectID))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list unacknowledged alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return alerts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		alert          models.Alert
		alertID        uuid.UUID
		projectID      uuid.UUID
		kind           string
		details        []byte
		acknowledgedAt sql.NullTime
	)
	err := row.Scan(
		&alertID, &projectID, &kind, &alert.Message, &alert.DedupeKey, &details,
		&alert.Acknowledged, &alert.AcknowledgedBy, &acknowledgedAt, &alert.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	alert.ID = id.AlertID(alertID)
	alert.ProjectID = id.ProjectID(projectID)
	alert.Kind = models.Kind(kind)
	alert.Details = details
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		alert.AcknowledgedAt = &t
	}
	return &alert, nil
}
