package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	"bloodlink/internal/storage/sqlstore"
	id "bloodlink/pkg/domain"
	"bloodlink/pkg/platform/tx"
)

// SQLStore keeps the audit trail in the bloodlink_audit_events table created
// by the SQL storage dialects. Appends join a transaction carried by ctx.
type SQLStore struct {
	db *sql.DB
	q  auditQueries
}

type auditQueries struct {
	insert, bySubject, recent string
}

func NewSQLStore(db *sql.DB, dialect sqlstore.Dialect) *SQLStore {
	return &SQLStore{
		db: db,
		q: auditQueries{
			// redelivered events keep their first row
			insert: dialect.Bind(`INSERT INTO bloodlink_audit_events (event_id, action, subject_id, donor_id, payload)
VALUES (?, ?, ?, ?, ?) ON CONFLICT (event_id) DO NOTHING`),
			bySubject: dialect.Bind(`SELECT payload FROM bloodlink_audit_events
WHERE subject_id = ? OR donor_id = ? ORDER BY seq`),
			recent: dialect.Bind(`SELECT payload FROM (
SELECT seq, payload FROM bloodlink_audit_events ORDER BY seq DESC LIMIT ?
) AS recent ORDER BY seq`),
		},
	}
}

func idColumn(v id.ID) (int64, error) {
	if uint64(v) > math.MaxInt64 {
		return 0, fmt.Errorf("id %d exceeds the SQL key range", v)
	}
	return int64(v), nil
}

func (s *SQLStore) Append(ctx context.Context, event Event) error {
	subject, err := idColumn(event.SubjectID)
	if err != nil {
		return err
	}
	var donor sql.NullInt64
	if event.DonorID != nil {
		if donor.Int64, err = idColumn(*event.DonorID); err != nil {
			return err
		}
		donor.Valid = true
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	_, err = tx.QuerierFrom(ctx, s.db).ExecContext(ctx, s.q.insert,
		event.ID.String(),
		string(event.Action),
		subject,
		donor,
		payload,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListBySubject returns events for subjectID, including pledges where it was
// the donor, in append order.
func (s *SQLStore) ListBySubject(ctx context.Context, subjectID id.ID) ([]Event, error) {
	k, err := idColumn(subjectID)
	if err != nil {
		return nil, err
	}
	return s.query(ctx, s.q.bySubject, k, k)
}

func (s *SQLStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.query(ctx, s.q.recent, limit)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (events []Event, err error) {
	rows, err := tx.QuerierFrom(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		var e Event
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("decode audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
