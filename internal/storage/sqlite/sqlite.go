// Package sqlite opens the SQL backend on an embedded sqlite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"bloodlink/internal/storage/sqlstore"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "bloodlink.db"

// Dialect is the sqlite flavour of the shared schema.
var Dialect = sqlstore.Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS bloodlink_records (
			bucket TEXT NOT NULL,
			id INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (bucket, id)
		)`,
		`CREATE TABLE IF NOT EXISTS bloodlink_sequence (
			name TEXT PRIMARY KEY,
			next_value INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS bloodlink_audit_events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL UNIQUE,
			action TEXT NOT NULL,
			subject_id INTEGER NOT NULL,
			donor_id INTEGER,
			payload BLOB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS bloodlink_audit_events_subject ON bloodlink_audit_events (subject_id)`,
		`CREATE INDEX IF NOT EXISTS bloodlink_audit_events_donor ON bloodlink_audit_events (donor_id)`,
	},
}

// Open creates the file and its parent directories when missing.
func Open(ctx context.Context, path string) (*sqlstore.Backend, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer at a time; sqlite locks the whole file anyway
	db.SetMaxOpenConns(1)

	backend, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return backend, nil
}
