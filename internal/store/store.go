package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors for callers. ErrUnavailable wraps any storage I/O failure;
// callers must treat it as fatal for the in-flight request.
var (
	ErrUnavailable = errors.New("store unavailable")
	ErrNotFound    = errors.New("record not found")
	ErrConflict    = errors.New("conflicting concurrent update")
)

// Store owns all durable state: sessions, QuickConnect requests, playback
// state and the translated-library cache. Every other component holds only
// transient views reconstructed from reads.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// SQLite tuning for concurrent readers + single writer use case
	// - WAL enables readers during writes
	// - busy_timeout retries briefly on lock contention instead of failing immediately
	// - synchronous=NORMAL is a good balance for WAL
	_, _ = db.Exec(`PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON; PRAGMA busy_timeout=10000; PRAGMA synchronous=NORMAL;`)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for migrations and health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

// wrapErr maps driver errors into the store taxonomy. sql.ErrNoRows becomes
// ErrNotFound; anything else is an ErrUnavailable with the cause preserved.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
