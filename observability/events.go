package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/plainlicense/herokit/idgen"
)

// Schema for the worker_events table.
const Schema = `
CREATE TABLE IF NOT EXISTS worker_events (
	event_id   TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	subject    TEXT NOT NULL DEFAULT '',
	detail     TEXT NOT NULL DEFAULT '',
	success    INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_worker_events_ts ON worker_events(created_at);
`

// Event is one recorded worker occurrence: a lifecycle transition, a
// precache outcome, a stale-key prune, a hero store teardown.
type Event struct {
	Type    string
	Subject string
	Detail  string
	Success bool
}

// EventLog writes worker events and manages retention cleanup.
type EventLog struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLogOption configures an EventLog.
type EventLogOption func(*EventLog)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLogOption {
	return func(l *EventLog) { l.newID = gen }
}

// NewEventLog creates an event log backed by the given database.
func NewEventLog(db *sql.DB, opts ...EventLogOption) *EventLog {
	l := &EventLog{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Init creates the worker_events table if absent.
func (l *EventLog) Init() error {
	_, err := l.db.Exec(Schema)
	return err
}

// Record persists an event. Best-effort: failures are logged via slog but
// never propagate, so a failing observability store never blocks the worker.
func (l *EventLog) Record(ctx context.Context, e Event) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO worker_events (event_id, event_type, subject, detail, success, created_at)
		VALUES (?,?,?,?,?,?)`,
		l.newID(), e.Type, e.Subject, e.Detail, e.Success, time.Now().Unix())
	if err != nil {
		slog.Error("observability: event record failed", "error", err, "event_type", e.Type)
	}
}

// Recent returns the n most recent events, newest first.
func (l *EventLog) Recent(ctx context.Context, n int) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_type, subject, detail, success
		FROM worker_events ORDER BY created_at DESC, event_id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Type, &e.Subject, &e.Detail, &e.Success); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Cleanup deletes events older than the retention window. Zero days means
// no cleanup.
func Cleanup(ctx context.Context, db *sql.DB, days int) error {
	if days <= 0 {
		return nil
	}
	cutoff := time.Now().Unix() - int64(days*86400)
	_, err := db.ExecContext(ctx, `DELETE FROM worker_events WHERE created_at < ?`, cutoff)
	return err
}
