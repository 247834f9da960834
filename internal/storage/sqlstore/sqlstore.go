// Package sqlstore implements the storage backend over database/sql. Dialect
// packages (sqlite, postgres) open the connection and supply the differences.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"bloodlink/internal/storage"
	id "bloodlink/pkg/domain"
	"bloodlink/pkg/platform/sentinel"
	"bloodlink/pkg/platform/tx"
)

const sequenceName = "records"

const (
	sqlGet    = `SELECT payload FROM bloodlink_records WHERE bucket = ? AND id = ?`
	sqlScan   = `SELECT id, payload FROM bloodlink_records WHERE bucket = ? ORDER BY id`
	sqlDelete = `DELETE FROM bloodlink_records WHERE bucket = ? AND id = ?`
	sqlUpsert = `INSERT INTO bloodlink_records (bucket, id, payload) VALUES (?, ?, ?)
ON CONFLICT (bucket, id) DO UPDATE SET payload = excluded.payload`
	// the counter row starts at 1 so the first caller gets 0
	sqlNext = `INSERT INTO bloodlink_sequence (name, next_value) VALUES (?, 1)
ON CONFLICT (name) DO UPDATE SET next_value = bloodlink_sequence.next_value + 1
RETURNING next_value - 1`
)

// Dialect captures what differs between SQL engines.
type Dialect struct {
	Name string
	// Numbered selects $1-style placeholders instead of ?.
	Numbered bool
	// LockRows appends FOR UPDATE to reads that precede a write.
	LockRows bool
	// Schema is run once at startup; statements must be idempotent.
	Schema []string
}

// Bind rewrites ? placeholders for numbered dialects.
func (d Dialect) Bind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
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

type queries struct {
	get, getForWrite, scan, upsert, del, next string
}

// Backend stores every bucket in one table keyed by (bucket, id).
type Backend struct {
	db      *sql.DB
	dialect Dialect
	q       queries
}

// New migrates the schema and returns a backend over db.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Backend, error) {
	for _, stmt := range dialect.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s migrate: %w", dialect.Name, err)
		}
	}
	lock := ""
	if dialect.LockRows {
		lock = " FOR UPDATE"
	}
	return &Backend{
		db:      db,
		dialect: dialect,
		q: queries{
			get:         dialect.Bind(sqlGet),
			getForWrite: dialect.Bind(sqlGet + lock),
			scan:        dialect.Bind(sqlScan),
			upsert:      dialect.Bind(sqlUpsert),
			del:         dialect.Bind(sqlDelete),
			next:        dialect.Bind(sqlNext),
		},
	}, nil
}

// DB exposes the pool for callers that open their own transaction with tx.Run.
func (b *Backend) DB() *sql.DB {
	return b.db
}

func (b *Backend) Dialect() Dialect {
	return b.dialect
}

func column(key id.ID) (int64, error) {
	if uint64(key) > math.MaxInt64 {
		return 0, fmt.Errorf("id %d exceeds the SQL key range", key)
	}
	return int64(key), nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return sentinel.ErrNotFound
	case errors.Is(err, sql.ErrConnDone):
		return sentinel.ErrUnavailable
	}
	return err
}

func (b *Backend) Get(ctx context.Context, bucket string, key id.ID) ([]byte, error) {
	k, err := column(key)
	if err != nil {
		return nil, err
	}
	var payload []byte
	err = tx.QuerierFrom(ctx, b.db).QueryRowContext(ctx, b.q.get, bucket, k).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("get %s/%d: %w", bucket, key, translate(err))
	}
	return payload, nil
}

func (b *Backend) Scan(ctx context.Context, bucket string) (entries []storage.Entry, err error) {
	rows, err := tx.QuerierFrom(ctx, b.db).QueryContext(ctx, b.q.scan, bucket)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", bucket, translate(err))
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for rows.Next() {
		var (
			k       int64
			payload []byte
		)
		if err := rows.Scan(&k, &payload); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", bucket, err)
		}
		entries = append(entries, storage.Entry{ID: id.ID(k), Value: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", bucket, translate(err))
	}
	return entries, nil
}

func (b *Backend) Put(ctx context.Context, bucket string, key id.ID, value []byte) (prev []byte, existed bool, err error) {
	k, err := column(key)
	if err != nil {
		return nil, false, err
	}
	err = tx.Run(ctx, b.db, func(ctx context.Context) error {
		q := tx.QuerierFrom(ctx, b.db)
		prev, existed, err = b.current(ctx, q, bucket, k)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, b.q.upsert, bucket, k, value); err != nil {
			return fmt.Errorf("upsert %s/%d: %w", bucket, key, translate(err))
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return prev, existed, nil
}

func (b *Backend) Delete(ctx context.Context, bucket string, key id.ID) error {
	k, err := column(key)
	if err != nil {
		return err
	}
	if _, err := tx.QuerierFrom(ctx, b.db).ExecContext(ctx, b.q.del, bucket, k); err != nil {
		return fmt.Errorf("delete %s/%d: %w", bucket, key, translate(err))
	}
	return nil
}

func (b *Backend) NextSequence(ctx context.Context) (uint64, error) {
	var v int64
	if err := tx.QuerierFrom(ctx, b.db).QueryRowContext(ctx, b.q.next, sequenceName).Scan(&v); err != nil {
		return 0, fmt.Errorf("next sequence: %w", translate(err))
	}
	return uint64(v), nil
}

// Apply writes every mutation in one SQL transaction. Rows are read with
// FOR UPDATE where the dialect supports it so expectations hold until commit.
func (b *Backend) Apply(ctx context.Context, mutations []storage.Mutation) error {
	return tx.Run(ctx, b.db, func(ctx context.Context) error {
		q := tx.QuerierFrom(ctx, b.db)
		for _, m := range mutations {
			k, err := column(m.ID)
			if err != nil {
				return err
			}
			_, existed, err := b.current(ctx, q, m.Bucket, k)
			if err != nil {
				return err
			}
			if err := m.Check(existed); err != nil {
				return err
			}
			if _, err := q.ExecContext(ctx, b.q.upsert, m.Bucket, k, m.Value); err != nil {
				return fmt.Errorf("upsert %s/%d: %w", m.Bucket, m.ID, translate(err))
			}
		}
		return nil
	})
}

func (b *Backend) current(ctx context.Context, q tx.Querier, bucket string, k int64) ([]byte, bool, error) {
	var payload []byte
	err := q.QueryRowContext(ctx, b.q.getForWrite, bucket, k).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("read %s/%d: %w", bucket, k, translate(err))
	}
	return payload, true, nil
}

func (b *Backend) Ping(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%s ping: %w: %w", b.dialect.Name, sentinel.ErrUnavailable, err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.db.Close()
}

var (
	_ storage.Backend = (*Backend)(nil)
	_ storage.Batcher = (*Backend)(nil)
)
