package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"sitegate/internal/device/models"
	id "sitegate/pkg/domain"
	"sitegate/pkg/platform/sentinel"
	txcontext "sitegate/pkg/platform/tx"
)

// Postgres persists registered devices. Names are unique so a stolen secret
// cannot be re-registered under a familiar label.
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

const deviceColumns = `
	id, name, secret_hash, active, registered_by, created_at, updated_at
`

func (s *Postgres) Create(ctx context.Context, device *models.Device) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING
	`, uuid.UUID(device.ID), device.Name, device.SecretHash, device.Active,
		device.RegisteredBy, device.CreatedAt, device.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert device rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrAlreadyExists
	}
	return nil
}

func (s *Postgres) FindByID(ctx context.Context, deviceID id.DeviceID) (*models.Device, error) {
	row := s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = $1`, uuid.UUID(deviceID))
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find device: %w", err)
	}
	return device, nil
}

// Execute locks the row FOR UPDATE, validates, mutates and writes back.
func (s *Postgres) Execute(ctx context.Context, deviceID id.DeviceID, validate func(*models.Device) error, mutate func(*models.Device)) (*models.Device, error) {
	var updated *models.Device
	runner := txcontext.NewSQLRunner(s.db)
	err := runner.RunInTx(ctx, func(txCtx context.Context) error {
		row := s.conn(txCtx).QueryRowContext(txCtx,
			`SELECT `+deviceColumns+` FROM devices WHERE id = $1 FOR UPDATE`, uuid.UUID(deviceID))
		device, err := scanDevice(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return sentinel.ErrNotFound
			}
			return fmt.Errorf("lock device: %w", err)
		}
		if err := validate(device); err != nil {
			return err
		}
		mutate(device)

		_, err = s.conn(txCtx).ExecContext(txCtx, `
			UPDATE devices
			SET active = $2, updated_at = $3
			WHERE id = $1
		`, uuid.UUID(device.ID), device.Active, device.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update device: %w", err)
		}
		updated = device
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Postgres) List(ctx context.Context) ([]*models.Device, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*models.Device, error) {
	var (
		device   models.Device
		deviceID uuid.UUID
	)
	err := row.Scan(
		&deviceID, &device.Name, &device.SecretHash, &device.Active,
		&device.RegisteredBy, &device.CreatedAt, &device.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	device.ID = id.DeviceID(deviceID)
	return &device, nil
}
