package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	maxRetryAttempts    = 8
	initialRetryBackoff = 25 * time.Millisecond
)

// isBusyError returns true when the error represents a transient SQLite busy/locked state.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_BUSY_SNAPSHOT:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// withTx runs fn inside a transaction, retrying the whole unit when SQLite
// reports a busy/locked state. fn must be safe to re-run.
func withTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	var lastErr error
	backoff := initialRetryBackoff
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		err := runTx(db, fn)
		if err == nil || !isBusyError(err) {
			return err
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 800*time.Millisecond {
			backoff *= 2
		}
	}
	return lastErr
}

func runTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// execWithRetry executes the statement, retrying a few times if SQLite reports a busy/locked state.
func execWithRetry(db *sql.DB, query string, args ...any) (sql.Result, error) {
	var lastErr error
	backoff := initialRetryBackoff
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		res, err := db.Exec(query, args...)
		if err == nil {
			return res, nil
		}
		if !isBusyError(err) {
			return nil, err
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 800*time.Millisecond {
			backoff *= 2
		}
	}
	return nil, lastErr
}
