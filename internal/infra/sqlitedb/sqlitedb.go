// Package sqlitedb opens WAL-mode SQLite databases and retries writes that
// hit lock contention.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"math/rand"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"smartsched/internal/infra/filestore"
)

// Open opens (or creates) the database at path with WAL journaling. A
// leading ~ and environment variables in path are expanded.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		path = filestore.ResolvePath(path, "")
		if err := filestore.EnsureParentDir(path); err != nil {
			return nil, fmt.Errorf("ensure db directory: %w", err)
		}
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// RetryConfig controls retries of contended writes.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryConfig is used by RetryOnContention.
var DefaultRetryConfig = RetryConfig{
	MaxRetries: 3,
	BaseDelay:  25 * time.Millisecond,
	MaxDelay:   250 * time.Millisecond,
}

// IsTransient reports SQLite lock errors that busy_timeout does not absorb.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// RetryOnContention runs fn with the default retry config.
func RetryOnContention(fn func() error) error {
	return Retry(DefaultRetryConfig, fn)
}

// Retry runs fn with exponential backoff plus jitter while it fails with a
// transient SQLite error.
func Retry(cfg RetryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !IsTransient(lastErr) {
			return lastErr
		}
		if attempt < cfg.MaxRetries {
			time.Sleep(backoffDelay(cfg, attempt))
		}
	}
	return lastErr
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay << uint(attempt)
	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if cfg.BaseDelay > 0 {
		delay += time.Duration(rand.Int63n(int64(cfg.BaseDelay)))
	}
	return delay
}
