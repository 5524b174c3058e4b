package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"sitegate/internal/project/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
	txcontext "sitegate/pkg/platform/tx"
)

// Postgres persists projects. Thresholds and flags are stored as JSONB so new
// limits can be added without migrations touching every row.
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

func (s *Postgres) CreateIfNameAvailable(ctx context.Context, project *models.Project) error {
	thresholds, err := json.Marshal(project.Thresholds)
	if err != nil {
		return fmt.Errorf("marshal thresholds: %w", err)
	}
	flags, err := json.Marshal(project.Flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}

	query := `
		INSERT INTO projects (
			id, name, latitude, longitude, geofence_radius_m, timezone,
			thresholds, flags, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (lower(name)) DO NOTHING
	`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(project.ID), project.Name,
		project.Location.Latitude, project.Location.Longitude,
		project.GeofenceRadiusM, project.Timezone,
		thresholds, flags, string(project.Status),
		project.CreatedAt, project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert project rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrAlreadyExists
	}
	return nil
}

const projectColumns = `
	id, name, latitude, longitude, geofence_radius_m, timezone,
	thresholds, flags, status, created_at, updated_at
`

func (s *Postgres) FindByID(ctx context.Context, projectID id.ProjectID) (*models.Project, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, uuid.UUID(projectID))
	project, err := scanProject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find project: %w", err)
	}
	return project, nil
}

func (s *Postgres) ListActive(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE status = $1 ORDER BY name`,
		string(models.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list active projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// Execute locks the row FOR UPDATE, validates, mutates and writes back inside
// one transaction.
func (s *Postgres) Execute(ctx context.Context, projectID id.ProjectID, validate func(*models.Project) error, mutate func(*models.Project)) (*models.Project, error) {
	var updated *models.Project
	runner := txcontext.NewSQLRunner(s.db)
	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		row := s.conn(txCtx).QueryRowContext(txCtx,
			`SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`,
			uuid.UUID(projectID))
		project, err := scanProject(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock project: %w", err)
		}
		if err := validate(project); err != nil {
			return err
		}
		mutate(project)

		thresholds, err := json.Marshal(project.Thresholds)
		if err != nil {
			return fmt.Errorf("marshal thresholds: %w", err)
		}
		flags, err := json.Marshal(project.Flags)
		if err != nil {
			return fmt.Errorf("marshal flags: %w", err)
		}
		_, err = s.conn(txCtx).ExecContext(txCtx, `
			UPDATE projects
			SET thresholds = $2, flags = $3, status = $4, updated_at = $5
			WHERE id = $1
		`, uuid.UUID(project.ID), thresholds, flags, string(project.Status), project.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update project: %w", err)
		}
		updated = project
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	var (
		project    models.Project
		projectID  uuid.UUID
		thresholds []byte
		flags      []byte
		status     string
	)
	err := row.Scan(
		&projectID, &project.Name,
		&project.Location.Latitude, &project.Location.Longitude,
		&project.GeofenceRadiusM, &project.Timezone,
		&thresholds, &flags, &status,
		&project.CreatedAt, &project.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	project.ID = id.ProjectID(projectID)
	project.Status = models.Status(strings.TrimSpace(status))
	if err := json.Unmarshal(thresholds, &project.Thresholds); err != nil {
		return nil, fmt.Errorf("unmarshal thresholds: %w", err)
	}
	if err := json.Unmarshal(flags, &project.Flags); err != nil {
		return nil, fmt.Errorf("unmarshal flags: %w", err)
	}
	return &project, nil
}
