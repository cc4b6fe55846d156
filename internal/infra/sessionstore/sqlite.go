package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/infra/sqlitedb"
)

// SQLite stores each session as a JSON document keyed by id.
type SQLite struct {
	db      *sql.DB
	idleTTL time.Duration
	now     func() time.Time
}

// OpenSQLite opens (or creates) the session database.
func OpenSQLite(path string, idleTTL time.Duration) (*SQLite, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	s := &SQLite{db: db, idleTTL: idleTTL, now: time.Now}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		phase      TEXT NOT NULL,
		data       TEXT NOT NULL,
		updated_ns INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_ns);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sessions: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Get(ctx context.Context, sessionID string) (*negotiation.ConversationContext, error) {
	var (
		data      string
		updatedNs int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, updated_ns FROM sessions WHERE id = ?`, sessionID,
	).Scan(&data, &updatedNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if s.idleTTL > 0 && s.now().Sub(time.Unix(0, updatedNs)) > s.idleTTL {
		_ = s.Delete(ctx, sessionID)
		return nil, notFound(sessionID)
	}

	var conv negotiation.ConversationContext
	if err := json.Unmarshal([]byte(data), &conv); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &conv, nil
}

func (s *SQLite) Put(ctx context.Context, conv *negotiation.ConversationContext) error {
	if conv == nil {
		return fmt.Errorf("nil conversation")
	}
	if err := ValidateID(conv.SessionID); err != nil {
		return err
	}
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", conv.SessionID, err)
	}
	updated := s.now().UnixNano()
	return sqlitedb.RetryOnContention(func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, phase, data, updated_ns) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET phase = excluded.phase, data = excluded.data, updated_ns = excluded.updated_ns`,
			conv.SessionID, string(conv.Phase), string(data), updated,
		)
		return err
	})
}

func (s *SQLite) Delete(ctx context.Context, sessionID string) error {
	return sqlitedb.RetryOnContention(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
		return err
	})
}

// Prune removes idle sessions and returns how many went.
func (s *SQLite) Prune(ctx context.Context) (int, error) {
	if s.idleTTL <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-s.idleTTL).UnixNano()
	var removed int64
	err := sqlitedb.RetryOnContention(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_ns < ?`, cutoff)
		if err != nil {
			return err
		}
		removed, err = res.RowsAffected()
		return err
	})
	return int(removed), err
}

var _ negotiation.SessionStore = (*SQLite)(nil)
