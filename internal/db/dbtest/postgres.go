//go:build integration

// Package dbtest starts a disposable PostgreSQL container with the
// repository migrations applied.
//
// Run with: go test -tags=integration ./internal/...
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"runtime"
	"sort"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/onnwee/lostfound/internal/db"
)

const image = "postgres:16-alpine"

// migrationScripts returns the up migrations in apply order.
func migrationScripts(t *testing.T) []string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot locate migrations directory")
	}
	dir := filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")
	scripts, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil || len(scripts) == 0 {
		t.Fatalf("no migrations found in %s: %v", dir, err)
	}
	sort.Strings(scripts)
	return scripts
}

// Postgres starts a container, applies migrations and returns an open pool.
// The container is terminated when the test finishes.
func Postgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, image,
		postgres.WithDatabase("lostfound"),
		postgres.WithUsername("lostfound"),
		postgres.WithPassword("lostfound"),
		postgres.WithInitScripts(migrationScripts(t)...),
		postgres.BasicWaitStrategies(),
	)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	conn, err := db.OpenPostgres(ctx, url, db.DefaultPoolConfig())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}
