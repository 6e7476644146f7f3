package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sundial-labs/memoria/internal/logging"
	"github.com/sundial-labs/memoria/internal/types"
)

// Migrator advances the database through a linear version sequence. Each
// migration is applied atomically: the DDL and the ledger row commit
// together or not at all.
type Migrator struct {
	conn *Conn
	log  *logging.Logger
}

// NewMigrator binds a migrator to a checked-out connection.
func NewMigrator(conn *Conn) *Migrator {
	return &Migrator{conn: conn, log: logging.New("migrate")}
}

// CurrentVersion returns the highest recorded schema version, or 0 when the
// ledger table does not exist yet (the very first run).
func (m *Migrator) CurrentVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := m.conn.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&version)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}

// InitializeSchema creates the full v1 schema in one transaction and records
// it in the ledger. A database already at version >= 1 is left untouched, so
// repeated calls are idempotent.
func (m *Migrator) InitializeSchema(ctx context.Context) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}
	if current >= SchemaVersion {
		m.log.Debugf("schema already at version %d", current)
		return nil
	}

	err = m.conn.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schemaV1 {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement failed: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)`,
			SchemaVersion, time.Now().UTC(), "Initial schema")
		return err
	})
	if err != nil {
		m.log.Errorf("schema initialization failed: %v", err)
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	m.log.Infof("initialized schema at version %d", SchemaVersion)
	return nil
}

// Apply runs one migration's up statements and records its version, all in
// one transaction.
func (m *Migrator) Apply(ctx context.Context, mig types.Migration) error {
	err := m.conn.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range mig.Up {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement failed: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)`,
			mig.Version, time.Now().UTC(), mig.Description)
		return err
	})
	if err != nil {
		m.log.Errorf("migration v%d (%s) failed: %v", mig.Version, mig.Description, err)
		return fmt.Errorf("migration v%d failed: %w", mig.Version, err)
	}

	m.log.Infof("applied migration v%d: %s", mig.Version, mig.Description)
	return nil
}

// Rollback runs one migration's down statements and deletes its ledger row.
func (m *Migrator) Rollback(ctx context.Context, mig types.Migration) error {
	err := m.conn.WithTransaction(ctx, func(tx *sql.Tx) error {
		for _, stmt := range mig.Down {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement failed: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, mig.Version)
		return err
	})
	if err != nil {
		m.log.Errorf("rollback of v%d failed: %v", mig.Version, err)
		return fmt.Errorf("rollback of v%d failed: %w", mig.Version, err)
	}

	m.log.Infof("rolled back migration v%d: %s", mig.Version, mig.Description)
	return nil
}

// Run applies every migration newer than the current version, in ascending
// order, stopping at the first failure. Migrations that committed before the
// failure stay committed.
func (m *Migrator) Run(ctx context.Context, migrations []types.Migration) error {
	current, err := m.CurrentVersion(ctx)
	if err != nil {
		return err
	}

	pending := make([]types.Migration, 0, len(migrations))
	for _, mig := range migrations {
		if mig.Version > current {
			pending = append(pending, mig)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].Version < pending[j].Version })

	if len(pending) == 0 {
		m.log.Debugf("no pending migrations (current version %d)", current)
		return nil
	}

	for _, mig := range pending {
		if err := m.Apply(ctx, mig); err != nil {
			return err
		}
	}
	return nil
}
