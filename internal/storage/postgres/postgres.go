// Package postgres opens the SQL backend on a PostgreSQL server through the
// pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver

	"bloodlink/internal/storage/sqlstore"
)

// Dialect is the PostgreSQL flavour of the shared schema.
var Dialect = sqlstore.Dialect{
	Name:     "postgres",
	Numbered: true,
	LockRows: true,
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS bloodlink_records (
			bucket TEXT NOT NULL,
			id BIGINT NOT NULL,
			payload BYTEA NOT NULL,
			PRIMARY KEY (bucket, id)
		)`,
		`CREATE TABLE IF NOT EXISTS bloodlink_sequence (
			name TEXT PRIMARY KEY,
			next_value BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bloodlink_audit_events (
			seq BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			action TEXT NOT NULL,
			subject_id BIGINT NOT NULL,
			donor_id BIGINT,
			payload BYTEA NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS bloodlink_audit_events_subject ON bloodlink_audit_events (subject_id)`,
		`CREATE INDEX IF NOT EXISTS bloodlink_audit_events_donor ON bloodlink_audit_events (donor_id)`,
	},
}

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects with dsn, verifies the server is reachable and migrates.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sqlstore.Backend, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return OpenDB(ctx, db)
}

// OpenDB migrates and wraps an existing pool.
func OpenDB(ctx context.Context, db *sql.DB) (*sqlstore.Backend, error) {
	backend, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}
