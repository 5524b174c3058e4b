//go:build integration

// Package containers starts throwaway infrastructure for integration tests.
// Everything here is behind the integration build tag; unit tests never touch
// Docker.
package containers

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresContainer wraps a testcontainers PostgreSQL instance with an open
// database handle.
type PostgresContainer struct {
	Container testcontainers.Container
	URL       string
	DB        *sql.DB
}

// NewPostgresContainer starts PostgreSQL and applies the schema migration.
func NewPostgresContainer(t *testing.T, migrationsDir string) *PostgresContainer {
	t.Helper()

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		tcpostgres.WithDatabase("sitegate_test"),
		tcpostgres.WithUsername("sitegate"),
		tcpostgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	applyMigrations(t, db, migrationsDir)
	return &PostgresContainer{Container: container, URL: url, DB: db}
}

func applyMigrations(t *testing.T, db *sql.DB, dir string) {
	t.Helper()

	paths, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		t.Fatalf("failed to list migrations: %v", err)
	}
	if len(paths) == 0 {
		t.Fatalf("no migrations found in %s", dir)
	}
	for _, path := range paths {
		schema, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read migration %s: %v", path, err)
		}
		if _, err := db.Exec(string(schema)); err != nil {
			t.Fatalf("failed to apply migration %s: %v", path, err)
		}
	}
}

// TruncateAll clears every domain table between tests.
func (p *PostgresContainer) TruncateAll(ctx context.Context) error {
	_, err := p.DB.ExecContext(ctx, `
		TRUNCATE audit_entries, audit_outbox, sync_items, devices, alerts,
			compliance_events, environmental_captures, evidence,
			gated_logs, gate_records, projects CASCADE
	`)
	return err
}
