// Package repo persists the dedup policy configuration in SQLite
// (modernc.org/sqlite, pure Go) or PostgreSQL (lib/pq). Schema migrations
// run automatically on open.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"   // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure-Go SQLite driver, no CGO
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrUnsupportedDriver is returned for a driver other than sqlite or
	// postgres.
	ErrUnsupportedDriver = errors.New("unsupported database driver")

	// ErrDatabaseConnection indicates the database could not be reached.
	ErrDatabaseConnection = errors.New("database connection error")
)

// Config selects and tunes the database.
type Config struct {
	Driver          string
	Path            string
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DB wraps a *sql.DB and rewrites placeholders for the active driver.
type DB struct {
	inner  *sql.DB
	driver string
	logger *slog.Logger
}

// Open connects to the configured database and applies pending migrations.
// SQLite runs in WAL mode with a 5s busy timeout.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "policy-db")

	var dsn string
	switch cfg.Driver {
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("database path must not be empty")
		}
		dsn = cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres DSN must not be empty")
		}
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	inner, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		inner.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		inner.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := inner.PingContext(ctx); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("%w: %w", ErrDatabaseConnection, err)
	}

	db := &DB{inner: inner, driver: cfg.Driver, logger: logger}

	if err := db.migrate(ctx); err != nil {
		_ = inner.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	logger.Info("policy database ready", "driver", cfg.Driver)
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// Ping checks if the database connection is still alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.inner.PingContext(ctx)
}

// Driver returns the active driver name.
func (db *DB) Driver() string {
	return db.driver
}

// SQL returns the underlying handle for modules sharing this database.
func (db *DB) SQL() *sql.DB {
	return db.inner
}

// rebind rewrites ? placeholders to $N for postgres.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	return rebindDollar(query)
}

func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
