package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"sitegate/internal/gate/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
	txcontext "sitegate/pkg/platform/tx"
)

// Postgres persists gate records and gated logs. Both tables carry a unique
// index on (project_id, work_unit_id, log_date); the gate check in
// CreateLogForVerifiedGate runs with the gate row locked FOR UPDATE so the
// verified-gate invariant holds even across concurrent transactions, and the
// unique index backstops the one-log-per-day rule.
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

const gateColumns = `
	id, project_id, work_unit_id, log_date, status, checklist,
	verifier_name, signature, crew_acknowledgments, on_site_verified,
	verified_at, created_at, updated_at
`

func (s *Postgres) CreateIfAbsent(ctx context.Context, record *models.GateRecord) error {
	checklist, err := json.Marshal(record.Checklist)
	if err != nil {
		return fmt.Errorf("marshal checklist: %w", err)
	}
	crewAcks, err := json.Marshal(record.CrewAcknowledgments)
	if err != nil {
		return fmt.Errorf("marshal crew acknowledgments: %w", err)
	}

	query := `
		INSERT INTO gate_records (` + gateColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (project_id, work_unit_id, log_date) DO NOTHING
	`
	res, err := s.conn(ctx).ExecContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.Key.ProjectID), string(record.Key.WorkUnitID), dayValue(record.Key.Date),
		string(record.Status), checklist,
		record.VerifierName, record.Signature, crewAcks, record.OnSiteVerified,
		record.VerifiedAt, record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert gate record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert gate record rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrAlreadyExists
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, recordID id.GateRecordID) (*models.GateRecord, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+gateColumns+` FROM gate_records WHERE id = $1`, uuid.UUID(recordID))
	record, err := scanGateRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find gate record: %w", err)
	}
	return record, nil
}

func (s *Postgres) FindByKey(ctx context.Context, key models.Key) (*models.GateRecord, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT `+gateColumns+` FROM gate_records
		WHERE project_id = $1 AND work_unit_id = $2 AND log_date = $3
	`, uuid.UUID(key.ProjectID), string(key.WorkUnitID), dayValue(key.Date))
	record, err := scanGateRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find gate record by key: %w", err)
	}
	return record, nil
}

// Execute locks the gate row FOR UPDATE, validates, mutates and writes back
// inside one transaction.
func (s *Postgres) Execute(ctx context.Context, recordID id.GateRecordID, validate func(*models.GateRecord) error, mutate func(*models.GateRecord)) (*models.GateRecord, error) {
	var updated *models.GateRecord
	runner := txcontext.NewSQLRunner(s.db)
	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		row := s.conn(txCtx).QueryRowContext(txCtx,
			`SELECT `+gateColumns+` FROM gate_records WHERE id = $1 FOR UPDATE`,
			uuid.UUID(recordID))
		record, err := scanGateRecord(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock gate record: %w", err)
		}
		if err := validate(record); err != nil {
			return err
		}
		mutate(record)

		checklist, err := json.Marshal(record.Checklist)
		if err != nil {
			return fmt.Errorf("marshal checklist: %w", err)
		}
		crewAcks, err := json.Marshal(record.CrewAcknowledgments)
		if err != nil {
			return fmt.Errorf("marshal crew acknowledgments: %w", err)
		}
		_, err = s.conn(txCtx).ExecContext(txCtx, `
			UPDATE gate_records
			SET status = $2, checklist = $3, verifier_name = $4, signature = $5,
				crew_acknowledgments = $6, on_site_verified = $7,
				verified_at = $8, updated_at = $9
			WHERE id = $1
		`, uuid.UUID(record.ID), string(record.Status), checklist,
			record.VerifierName, record.Signature, crewAcks, record.OnSiteVerified,
			record.VerifiedAt, record.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update gate record: %w", err)
		}
		updated = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CreateLogForVerifiedGate checks the verified-gate predicate and inserts the
// log in one transaction. The SELECT takes FOR UPDATE on the gate row so a
// concurrent expiry or re-verification cannot slip between check and insert.
func (s *Postgres) CreateLogForVerifiedGate(ctx context.Context, key models.Key, gateRequired bool, build func(gate *models.GateRecord) *models.GatedLog) (*models.GatedLog, error) {
	var created *models.GatedLog
	runner := txcontext.NewSQLRunner(s.db)
	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		var gate *models.GateRecord
		if gateRequired {
			row := s.conn(txCtx).QueryRowContext(txCtx, `
				SELECT `+gateColumns+` FROM gate_records
				WHERE project_id = $1 AND work_unit_id = $2 AND log_date = $3
				FOR UPDATE
			`, uuid.UUID(key.ProjectID), string(key.WorkUnitID), dayValue(key.Date))
			record, err := scanGateRecord(row)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return sentinel.ErrNotFound
				}
				return fmt.Errorf("lock gate record: %w", err)
			}
			if record.Status != models.StatusVerified {
				return sentinel.ErrInvalidState
			}
			gate = record
		}

		log := build(gate)
		var gateRecordID any
		if !log.GateRecordID.IsNil() {
			gateRecordID = uuid.UUID(log.GateRecordID)
		}
		res, err := s.conn(txCtx).ExecContext(txCtx, `
			INSERT INTO gated_logs (
				id, gate_record_id, project_id, work_unit_id, log_date,
				summary, crew_count, actor, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (project_id, work_unit_id, log_date) DO NOTHING
		`, uuid.UUID(log.ID), gateRecordID,
			uuid.UUID(key.ProjectID), string(key.WorkUnitID), dayValue(key.Date),
			log.Summary, log.CrewCount, log.Actor, log.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert gated log: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert gated log rows affected: %w", err)
		}
		if affected == 0 {
			return sentinel.ErrAlreadyExists
		}
		created = log
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Postgres) FindLogByKey(ctx context.Context, key models.Key) (*models.GatedLog, error) {
	row := s.conn(ctx).QueryRowContext(ctx, `
		SELECT id, gate_record_id, project_id, work_unit_id, log_date,
			summary, crew_count, actor, created_at
		FROM gated_logs
		WHERE project_id = $1 AND work_unit_id = $2 AND log_date = $3
	`, uuid.UUID(key.ProjectID), string(key.WorkUnitID), dayValue(key.Date))

	var (
		log          models.GatedLog
		logID        uuid.UUID
		gateRecordID sql.Null[uuid.UUID]
		projectID    uuid.UUID
		workUnitID   string
		logDate      time.Time
	)
	err := row.Scan(&logID, &gateRecordID, &projectID, &workUnitID, &logDate,
		&log.Summary, &log.CrewCount, &log.Actor, &log.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find gated log: %w", err)
	}
	log.ID = id.GatedLogID(logID)
	if gateRecordID.Valid {
		log.GateRecordID = id.GateRecordID(gateRecordID.V)
	}
	log.Key = models.Key{
		ProjectID:  id.ProjectID(projectID),
		WorkUnitID: id.WorkUnitID(workUnitID),
		Date:       id.DayOf(logDate),
	}
	return &log, nil
}

// ExpireBefore flips every not-yet-verified record of the project dated before
// cutoff to expired and returns the affected records.
func (s *Postgres) ExpireBefore(ctx context.Context, projectID id.ProjectID, cutoff id.Day, now time.Time) ([]*models.GateRecord, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		UPDATE gate_records
		SET status = $4, updated_at = $5
		WHERE project_id = $1 AND log_date < $2 AND status = ANY($3)
		RETURNING `+gateColumns+`
	`, uuid.UUID(projectID), dayValue(cutoff),
		[]string{string(models.StatusNotStarted), string(models.StatusInProgress)},
		string(models.StatusExpired), now)
	if err != nil {
		return nil, fmt.Errorf("expire gate records: %w", err)
	}
	defer rows.Close()

	var expired []*models.GateRecord
	for rows.Next() {
		record, err := scanGateRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired gate record: %w", err)
		}
		expired = append(expired, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired gate records: %w", err)
	}
	return expired, nil
}

func dayValue(d id.Day) time.Time {
	return d.In(time.UTC)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGateRecord(row rowScanner) (*models.GateRecord, error) {
	var (
		record     models.GateRecord
		recordID   uuid.UUID
		projectID  uuid.UUID
		workUnitID string
		logDate    time.Time
		status     string
		checklist  []byte
		crewAcks   []byte
		verifiedAt sql.NullTime
	)
	err := row.Scan(
		&recordID, &projectID, &workUnitID, &logDate, &status, &checklist,
		&record.VerifierName, &record.Signature, &crewAcks, &record.OnSiteVerified,
		&verifiedAt, &record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.ID = id.GateRecordID(recordID)
	record.Key = models.Key{
		ProjectID:  id.ProjectID(projectID),
		WorkUnitID: id.WorkUnitID(workUnitID),
		Date:       id.DayOf(logDate),
	}
	record.Status = models.Status(status)
	if err := json.Unmarshal(checklist, &record.Checklist); err != nil {
		return nil, fmt.Errorf("unmarshal checklist: %w", err)
	}
	if err := json.Unmarshal(crewAcks, &record.CrewAcknowledgments); err != nil {
		return nil, fmt.Errorf("unmarshal crew acknowledgments: %w", err)
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		record.VerifiedAt = &t
	}
	return &record, nil
}
