package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sundial-labs/memoria/internal/types"
)

func newMigratorConn(t *testing.T) *Conn {
	t.Helper()
	pool, err := Open(Config{URL: filepath.Join(t.TempDir(), "migrate_test.db")})
	if err != nil {
		t.Fatalf("failed to open pool: %v", err)
	}
	conn, err := pool.Get(context.Background())
	if err != nil {
		pool.Shutdown()
		t.Fatalf("failed to get connection: %v", err)
	}
	t.Cleanup(func() {
		pool.Release(conn)
		pool.Shutdown()
	})
	return conn
}

func TestCurrentVersionOnFreshDatabase(t *testing.T) {
	conn := newMigratorConn(t)
	m := NewMigrator(conn)

	version, err := m.CurrentVersion(context.Background())
	if err != nil {
		t.Fatalf("current version failed: %v", err)
	}
	if version != 0 {
		t.Errorf("fresh database should be at version 0, got %d", version)
	}
}

func TestInitializeSchemaIdempotent(t *testing.T) {
	conn := newMigratorConn(t)
	m := NewMigrator(conn)
	ctx := context.Background()

	if err := m.InitializeSchema(ctx); err != nil {
		t.Fatalf("first init failed: %v", err)
	}
	if err := m.InitializeSchema(ctx); err != nil {
		t.Fatalf("second init failed: %v", err)
	}

	version, err := m.CurrentVersion(ctx)
	if err != nil {
		t.Fatalf("current version failed: %v", err)
	}
	if version != SchemaVersion {
		t.Errorf("expected version %d, got %d", SchemaVersion, version)
	}

	var ledgerRows int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&ledgerRows); err != nil {
		t.Fatalf("ledger query failed: %v", err)
	}
	if ledgerRows != 1 {
		t.Errorf("repeated init must not duplicate ledger rows, got %d", ledgerRows)
	}

	for _, table := range []string{"rules", "project_docs", "refs"} {
		var name string
		err := conn.QueryRowContext(ctx,
			`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing after init: %v", table, err)
		}
	}
}

func TestApplyAndRollback(t *testing.T) {
	conn := newMigratorConn(t)
	m := NewMigrator(conn)
	ctx := context.Background()

	if err := m.InitializeSchema(ctx); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	v2 := types.Migration{
		Version:     2,
		Description: "Add scratch table",
		Up:          []string{`CREATE TABLE scratch (id TEXT PRIMARY KEY)`},
		Down:        []string{`DROP TABLE scratch`},
	}

	if err := m.Apply(ctx, v2); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if version, _ := m.CurrentVersion(ctx); version != 2 {
		t.Errorf("expected version 2 after apply, got %d", version)
	}
	if _, err := conn.ExecContext(ctx, `INSERT INTO scratch (id) VALUES ('x')`); err != nil {
		t.Errorf("scratch table should exist: %v", err)
	}

	if err := m.Rollback(ctx, v2); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if version, _ := m.CurrentVersion(ctx); version != SchemaVersion {
		t.Errorf("expected version %d after rollback, got %d", SchemaVersion, version)
	}
	if _, err := conn.ExecContext(ctx, `INSERT INTO scratch (id) VALUES ('y')`); err == nil {
		t.Error("scratch table should be gone after rollback")
	}
}

func TestRunAppliesPendingInOrder(t *testing.T) {
	conn := newMigratorConn(t)
	m := NewMigrator(conn)
	ctx := context.Background()

	if err := m.InitializeSchema(ctx); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	// Deliberately out of order; v3 depends on v2's table.
	migrations := []types.Migration{
		{
			Version:     3,
			Description: "Add column to scratch",
			Up:          []string{`ALTER TABLE scratch ADD COLUMN note TEXT`},
		},
		{
			Version:     2,
			Description: "Add scratch table",
			Up:          []string{`CREATE TABLE scratch (id TEXT PRIMARY KEY)`},
		},
	}

	if err := m.Run(ctx, migrations); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if version, _ := m.CurrentVersion(ctx); version != 3 {
		t.Errorf("expected version 3, got %d", version)
	}

	// Running again is a no-op.
	if err := m.Run(ctx, migrations); err != nil {
		t.Fatalf("re-run failed: %v", err)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	conn := newMigratorConn(t)
	m := NewMigrator(conn)
	ctx := context.Background()

	if err := m.InitializeSchema(ctx); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	migrations := []types.Migration{
		{
			Version:     2,
			Description: "Good migration",
			Up:          []string{`CREATE TABLE scratch (id TEXT PRIMARY KEY)`},
		},
		{
			Version:     3,
			Description: "Broken migration",
			Up:          []string{`CREATE TABLE malformed (`},
		},
		{
			Version:     4,
			Description: "Never reached",
			Up:          []string{`CREATE TABLE unreached (id TEXT)`},
		},
	}

	if err := m.Run(ctx, migrations); err == nil {
		t.Fatal("expected run to fail on the broken migration")
	}

	// v2 stays committed, v3 rolled back, v4 never attempted.
	if version, _ := m.CurrentVersion(ctx); version != 2 {
		t.Errorf("expected version 2 after failure, got %d", version)
	}
	var name string
	err := conn.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name='unreached'`).Scan(&name)
	if err == nil {
		t.Error("migration after the failure should not have run")
	}
}
