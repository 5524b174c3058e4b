package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"sitegate/internal/weather/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
	txcontext "sitegate/pkg/platform/tx"
)

// Postgres persists environmental captures. The reading and reason list are
// JSONB; queries only ever filter by project and time.
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

const captureColumns = `
	id, project_id, source, status, reading, raw, flagged, reasons,
	acknowledged, acknowledged_by, acknowledged_at, captured_at, created_at
`

func (s *Postgres) CreateIfAbsent(ctx context.Context, capture *models.Capture) error {
	reading, err := json.Marshal(capture.Reading)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	reasons, err := json.Marshal(capture.Reasons)
	if err != nil {
		return fmt.Errorf("marshal reasons: %w", err)
	}

	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO environmental_captures (`+captureColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING
	`, uuid.UUID(capture.ID), uuid.UUID(capture.ProjectID), capture.Source,
		string(capture.Status), reading, nullableRaw(capture.Raw), capture.Flagged, reasons,
		capture.Acknowledged, capture.AcknowledgedBy, capture.AcknowledgedAt,
		capture.CapturedAt, capture.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert capture rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrAlreadyExists
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, captureID id.CaptureID) (*models.Capture, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+captureColumns+` FROM environmental_captures WHERE id = $1`,
		uuid.UUID(captureID))
	capture, err := scanCapture(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find capture: %w", err)
	}
	return capture, nil
}

// Execute locks the row FOR UPDATE, validates, mutates and writes back inside
// one transaction.
func (s *Postgres) Execute(ctx context.Context, captureID id.CaptureID, validate func(*models.Capture) error, mutate func(*models.Capture)) (*models.Capture, error) {
	var updated *models.Capture
	runner := txcontext.NewSQLRunner(s.db)
	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		row := s.conn(txCtx).QueryRowContext(txCtx,
			`SELECT `+captureColumns+` FROM environmental_captures WHERE id = $1 FOR UPDATE`,
			uuid.UUID(captureID))
		capture, err := scanCapture(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock capture: %w", err)
		}
		if err := validate(capture); err != nil {
			return err
		}
		mutate(capture)

		_, err = s.conn(txCtx).ExecContext(txCtx, `
			UPDATE environmental_captures
			SET acknowledged = $2, acknowledged_by = $3, acknowledged_at = $4
			WHERE id = $1
		`, uuid.UUID(capture.ID), capture.Acknowledged, capture.AcknowledgedBy, capture.AcknowledgedAt)
		if err != nil {
			return fmt.Errorf("update capture: %w", err)
		}
		updated = capture
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Postgres) ListRecent(ctx context.Context, projectID id.ProjectID, limit int) ([]*models.Capture, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+captureColumns+` FROM environmental_captures
		WHERE project_id = $1
		ORDER BY captured_at DESC
		LIMIT $2
	`, uuid.UUID(projectID), limit)
	if err != nil {
		return nil, fmt.Errorf("list captures: %w", err)
	}
	defer rows.Close()

	var captures []*models.Capture
	for rows.Next() {
		capture, err := scanCapture(rows)
		if err != nil {
			return nil, fmt.Errorf("scan capture: %w", err)
		}
		captures = append(captures, capture)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate captures: %w", err)
	}
	return captures, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// nullableRaw maps an absent provider payload to SQL NULL; JSONB rejects
// empty input.
func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func scanCapture(row rowScanner) (*models.Capture, error) {
	var (
		capture        models.Capture
		captureID      uuid.UUID
		projectID      uuid.UUID
		status         string
		reading        []byte
		raw            []byte
		reasons        []byte
		acknowledgedAt sql.NullTime
	)
	err := row.Scan(
		&captureID, &projectID, &capture.Source, &status, &reading, &raw,
		&capture.Flagged, &reasons,
		&capture.Acknowledged, &capture.AcknowledgedBy, &acknowledgedAt,
		&capture.CapturedAt, &capture.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	capture.ID = id.CaptureID(captureID)
	capture.ProjectID = id.ProjectID(projectID)
	capture.Status = models.Status(status)
	capture.Raw = raw
	if err := json.Unmarshal(reading, &capture.Reading); err != nil {
		return nil, fmt.Errorf("unmarshal reading: %w", err)
	}
	if err := json.Unmarshal(reasons, &capture.Reasons); err != nil {
		return nil, fmt.Errorf("unmarshal reasons: %w", err)
	}
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time
		capture.AcknowledgedAt = &t
	}
	return &capture, nil
}
