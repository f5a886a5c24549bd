package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS audit_event (
	seq            INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT NOT NULL UNIQUE,
	time           TEXT NOT NULL,
	kind           TEXT NOT NULL,
	session_id     TEXT,
	requester      TEXT,
	tool           TEXT,
	correlation_id TEXT,
	outcome        TEXT NOT NULL,
	detail         TEXT,
	elapsed_ns     INTEGER
)`

// SQLiteSink appends events to a SQLite table. The seq column preserves
// append order.
type SQLiteSink struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteSink opens the database at path and ensures the schema.
func NewSQLiteSink(ctx context.Context, path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Append(ctx context.Context, e Event) error {
	e = Stamp(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(context.WithoutCancel(ctx),
		`INSERT INTO audit_event (id, time, kind, session_id, requester, tool, correlation_id, outcome, detail, elapsed_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Time.Format(time.RFC3339Nano), string(e.Kind), e.SessionID, e.Requester, e.Tool,
		e.CorrelationID, e.Outcome, e.Detail, int64(e.Elapsed),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAppendFailed, err)
	}
	return nil
}

// Query returns events in append order, optionally filtered by session.
func (s *SQLiteSink) Query(ctx context.Context, sessionID string) ([]Event, error) {
	query := `SELECT id, time, kind, session_id, requester, tool, correlation_id, outcome, detail, elapsed_ns
		FROM audit_event`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			ts      string
			kind    string
			elapsed int64
		)
		if err := rows.Scan(&e.ID, &ts, &kind, &e.SessionID, &e.Requester, &e.Tool,
			&e.CorrelationID, &e.Outcome, &e.Detail, &elapsed); err != nil {
			return nil, err
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		e.Kind = Kind(kind)
		e.Elapsed = time.Duration(elapsed)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
