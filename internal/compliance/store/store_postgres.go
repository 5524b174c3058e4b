package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sitegate/internal/compliance/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
	txcontext "sitegate/pkg/platform/tx"
)

// Postgres persists compliance events. Events are insert-only.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Postgres) conn(ctx context.Context) dbConn {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Postgres) CreateIfAbsent(ctx context.Context, event *models.Event) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO compliance_events (id, project_id, work_unit_id, event_day, method, verifier, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, uuid.UUID(event.ID), uuid.UUID(event.ProjectID), string(event.WorkUnitID), event.Day.In(time.UTC),
		event.Method, event.Verifier, event.Notes, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert compliance event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert compliance event rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrAlreadyExists
	}
	return nil
}

func (s *Postgres) ListByDay(ctx context.Context, projectID id.ProjectID, day id.Day) ([]*models.Event, error) {
	return s.list(ctx, `
		SELECT id, project_id, work_unit_id, event_day, method, verifier, notes, created_at
		FROM compliance_events
		WHERE project_id = $1 AND event_day = $2
		ORDER BY created_at
	`, uuid.UUID(projectID), day.In(time.UTC))
}

func (s *Postgres) ListByWorkUnitDay(ctx context.Context, projectID id.ProjectID, workUnitID id.WorkUnitID, day id.Day) ([]*models.Event, error) {
	return s.list(ctx, `
		SELECT id, project_id, work_unit_id, event_day, method, verifier, notes, created_at
		FROM compliance_events
		WHERE project_id = $1 AND work_unit_id = $2 AND event_day = $3
		ORDER BY created_at
	`, uuid.UUID(projectID), string(workUnitID), day.In(time.UTC))
}

func (s *Postgres) list(ctx context.Context, query string, args ...any) ([]*models.Event, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list compliance events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var (
			event      models.Event
			eventID    uuid.UUID
			projID     uuid.UUID
			workUnitID string
			eventDay   time.Time
		)
		if err := rows.Scan(&eventID, &projID, &workUnitID, &eventDay,
			&event.Method, &event.Verifier, &event.Notes, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan compliance event: %w", err)
		}
		event.ID = id.ComplianceEventID(eventID)
		event.ProjectID = id.ProjectID(projID)
		event.WorkUnitID = id.WorkUnitID(workUnitID)
		event.Day = id.DayOf(eventDay)
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compliance events: %w", err)
	}
	return events, nil
}
