package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"sitegate/internal/evidence/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
	txcontext "sitegate/pkg/platform/tx"
)

// Postgres persists evidence records. Annotations live in a JSONB column and
// are only ever appended to; the remaining columns are written once at insert
// and never updated.
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

const evidenceColumns = `
	id, project_id, work_unit_id, device_id, kind, filename, content_type,
	size_bytes, hash, captured_at, latitude, longitude, outside_geofence,
	provenance, annotations, actor, created_at
`

func (s *Postgres) CreateIfAbsent(ctx context.Context, evidence *models.Evidence) (*models.Evidence, error) {
	annotations, err := json.Marshal(evidence.Annotations)
	if err != nil {
		return nil, fmt.Errorf("marshal annotations: %w", err)
	}

	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO evidence (`+evidenceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO NOTHING
	`, uuid.UUID(evidence.ID), uuid.UUID(evidence.ProjectID), string(evidence.WorkUnitID),
		nullableDevice(evidence.DeviceID),
		string(evidence.Kind), evidence.Filename, evidence.ContentType, evidence.SizeBytes,
		evidence.Hash, evidence.CapturedAt,
		evidence.Location.Latitude, evidence.Location.Longitude, evidence.OutsideGeofence,
		evidence.Provenance, annotations, evidence.Actor, evidence.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert evidence: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert evidence rows affected: %w", err)
	}
	if affected == 0 {
		existing, err := s.FindByID(ctx, evidence.ID)
		if err != nil {
			return nil, err
		}
		return existing, sentinel.ErrAlreadyExists
	}
	return evidence, nil
}

func (s *Postgres) FindByID(ctx context.Context, evidenceID id.EvidenceID) (*models.Evidence, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+evidenceColumns+` FROM evidence WHERE id = $1`, uuid.UUID(evidenceID))
	evidence, err := scanEvidence(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find evidence: %w", err)
	}
	return evidence, nil
}

func (s *Postgres) AppendAnnotation(ctx context.Context, evidenceID id.EvidenceID, annotation models.Annotation) (*models.Evidence, error) {
	var updated *models.Evidence
	runner := txcontext.NewSQLRunner(s.db)
	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		row := s.conn(txCtx).QueryRowContext(txCtx,
			`SELECT `+evidenceColumns+` FROM evidence WHERE id = $1 FOR UPDATE`,
			uuid.UUID(evidenceID))
		evidence, err := scanEvidence(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock evidence: %w", err)
		}

		evidence.Annotations = append(evidence.Annotations, annotation)
		annotations, err := json.Marshal(evidence.Annotations)
		if err != nil {
			return fmt.Errorf("marshal annotations: %w", err)
		}
		_, err = s.conn(txCtx).ExecContext(txCtx,
			`UPDATE evidence SET annotations = $2 WHERE id = $1`,
			uuid.UUID(evidenceID), annotations)
		if err != nil {
			return fmt.Errorf("update evidence annotations: %w", err)
		}
		updated = evidence
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Postgres) ListByWorkUnit(ctx context.Context, projectID id.ProjectID, workUnitID id.WorkUnitID) ([]*models.Evidence, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT `+evidenceColumns+` FROM evidence
		WHERE project_id = $1 AND work_unit_id = $2
		ORDER BY captured_at
	`, uuid.UUID(projectID), string(workUnitID))
	if err != nil {
		return nil, fmt.Errorf("list evidence: %w", err)
	}
	defer rows.Close()

	var out []*models.Evidence
	for rows.Next() {
		evidence, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, evidence)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate evidence: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvidence(row rowScanner) (*models.Evidence, error) {
	var (
		evidence    models.Evidence
		evidenceID  uuid.UUID
		projectID   uuid.UUID
		workUnitID  string
		deviceID    uuid.NullUUID
		kind        string
		annotations []byte
	)
	err := row.Scan(
		&evidenceID, &projectID, &workUnitID, &deviceID, &kind,
		&evidence.Filename, &evidence.ContentType, &evidence.SizeBytes,
		&evidence.Hash, &evidence.CapturedAt,
		&evidence.Location.Latitude, &evidence.Location.Longitude, &evidence.OutsideGeofence,
		&evidence.Provenance, &annotations, &evidence.Actor, &evidence.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	evidence.ID = id.EvidenceID(evidenceID)
	evidence.ProjectID = id.ProjectID(projectID)
	evidence.WorkUnitID = id.WorkUnitID(workUnitID)
	if deviceID.Valid {
		evidence.DeviceID = id.DeviceID(deviceID.UUID)
	}
	evidence.Kind = models.Kind(kind)
	if err := json.Unmarshal(annotations, &evidence.Annotations); err != nil {
		return nil, fmt.Errorf("unmarshal annotations: %w", err)
	}
	return &evidence, nil
}

// nullableDevice maps the nil device ID to SQL NULL. Captures made from the
// dashboard have no originating device.
func nullableDevice(deviceID id.DeviceID) any {
	if deviceID.IsNil() {
		return nil
	}
	return uuid.UUID(deviceID)
}
