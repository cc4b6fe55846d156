package calendar

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/domain/scheduling"
	"smartsched/internal/infra/sqlitedb"
)

// SQLite is a local calendar persisted in a WAL-mode SQLite database.
// Instants are stored as UTC unix nanoseconds so range scans stay indexable.
type SQLite struct {
	db         *sql.DB
	calendarID string
}

// OpenSQLite opens (or creates) the calendar database at path.
func OpenSQLite(path, calendarID string) (*SQLite, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	s := &SQLite{db: db, calendarID: calendarID}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate calendar: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id          TEXT PRIMARY KEY,
		calendar_id TEXT NOT NULL,
		title       TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		attendees   TEXT NOT NULL DEFAULT '[]',
		start_ns    INTEGER NOT NULL,
		end_ns      INTEGER NOT NULL,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_range ON events(calendar_id, start_ns, end_ns);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Add stores an event and returns its id.
func (s *SQLite) Add(ctx context.Context, ev Event) (string, error) {
	if err := ev.validate(); err != nil {
		return "", err
	}
	if ev.ID == "" {
		ev.ID = newEventID()
	}
	if ev.CalendarID == "" {
		ev.CalendarID = s.calendarID
	}
	attendees, err := json.Marshal(nonNil(ev.Attendees))
	if err != nil {
		return "", fmt.Errorf("encode attendees: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	err = sqlitedb.RetryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO events (id, calendar_id, title, description, attendees, start_ns, end_ns, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.ID, ev.CalendarID, ev.Title, ev.Description, string(attendees),
			ev.Start.UTC().UnixNano(), ev.End.UTC().UnixNano(), now,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return ev.ID, nil
}

// Events lists every event of this calendar overlapping [from, to).
func (s *SQLite) Events(ctx context.Context, from, to time.Time) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, calendar_id, title, description, attendees, start_ns, end_ns
		 FROM events
		 WHERE calendar_id = ? AND start_ns < ? AND end_ns > ?
		 ORDER BY start_ns, end_ns`,
		s.calendarID, to.UTC().UnixNano(), from.UTC().UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev             Event
			attendees      string
			startNs, endNs int64
		)
		if err := rows.Scan(&ev.ID, &ev.CalendarID, &ev.Title, &ev.Description, &attendees, &startNs, &endNs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(attendees), &ev.Attendees); err != nil {
			return nil, fmt.Errorf("decode attendees of %s: %w", ev.ID, err)
		}
		ev.Start = time.Unix(0, startNs).UTC()
		ev.End = time.Unix(0, endNs).UTC()
		events = append(events, ev)
	}
	return events, rows.Err()
}

// BusyIntervals returns events overlapping [from, to).
func (s *SQLite) BusyIntervals(ctx context.Context, from, to time.Time) ([]scheduling.BusyInterval, error) {
	events, err := s.Events(ctx, from, to)
	if err != nil {
		return nil, err
	}
	busy := make([]scheduling.BusyInterval, 0, len(events))
	for _, ev := range events {
		busy = append(busy, ev.Busy())
	}
	return busy, nil
}

// CreateEvent books the window.
func (s *SQLite) CreateEvent(ctx context.Context, window scheduling.CandidateWindow, meta negotiation.EventMetadata) (string, error) {
	return s.Add(ctx, Event{
		Title:       meta.Title,
		Description: meta.Description,
		Attendees:   meta.Attendees,
		Start:       window.Start,
		End:         window.End,
	})
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

var _ negotiation.Calendar = (*SQLite)(nil)
