package repo

import (
	"context"
	"database/sql"
	"fmt"
)

// migration represents a versioned schema change.
type migration struct {
	version int
	up      string
}

// migrations is the ordered list of schema migrations. The SQL is portable
// across SQLite and PostgreSQL. New migrations MUST be appended.
var migrations = []migration{
	{
		version: 1,
		up: `
CREATE TABLE IF NOT EXISTS policy_settings (
    id INTEGER PRIMARY KEY,
    enabled BOOLEAN NOT NULL,
    default_time_window_ms BIGINT NOT NULL,
    default_similarity_threshold DOUBLE PRECISION NOT NULL,
    default_max_duplicates INTEGER NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS policies (
    scope TEXT NOT NULL,
    name TEXT NOT NULL,
    enabled BOOLEAN NOT NULL,
    time_window_ms BIGINT NOT NULL,
    similarity_threshold DOUBLE PRECISION NOT NULL,
    max_duplicates INTEGER NOT NULL,
    PRIMARY KEY (scope, name)
);
`,
	},
	{
		version: 2,
		up: `
CREATE INDEX IF NOT EXISTS idx_policies_scope ON policies(scope);
`,
	},
}

// migrate applies all pending migrations, each in its own transaction.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.inner.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := currentVersion(ctx, db.inner)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := db.inner.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.version, err)
		}

		if _, err := tx.ExecContext(ctx, m.up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.ExecContext(ctx, db.rebind("INSERT INTO schema_version (version) VALUES (?)"), m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}

		db.logger.Debug("applied migration", "version", m.version)
	}

	return nil
}

// currentVersion returns the highest applied migration version, or 0 if none.
func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}
