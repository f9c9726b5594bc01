package store

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Session binds a Jellyfin account to a gateway-issued credential. The local
// username mirrors the Jellyfin username; the password is stored as a bcrypt
// hash plus a plaintext copy that survives only until its one-time reveal.
// Sessions never auto-expire; upstream 401 is the only expiry signal.
type Session struct {
	ID             string
	JellyfinUserID string
	AccessToken    string
	Username       string
	PasswordHash   string
	RevealPassword string
	CreatedAt      time.Time
	LastUsedAt     time.Time
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}

// CreateSession inserts a new session record. A username collision maps to
// ErrConflict so the caller can resolve to the existing session.
func (s *Store) CreateSession(sess Session) error {
	_, err := execWithRetry(s.db, `
        INSERT INTO session (id, jellyfin_user_id, access_token, username, password_hash, reveal_password, created_at, last_used_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.JellyfinUserID, sess.AccessToken, sess.Username,
		sess.PasswordHash, nullIfEmpty(sess.RevealPassword),
		sess.CreatedAt.UTC(), sess.LastUsedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return wrapErr(err)
	}
	return nil
}

func (s *Store) SessionByID(id string) (*Session, error) {
	return s.scanSession(s.db.QueryRow(`
        SELECT id, jellyfin_user_id, access_token, username, password_hash, reveal_password, created_at, last_used_at
        FROM session WHERE id = ?`, id))
}

func (s *Store) SessionByUsername(username string) (*Session, error) {
	return s.scanSession(s.db.QueryRow(`
        SELECT id, jellyfin_user_id, access_token, username, password_hash, reveal_password, created_at, last_used_at
        FROM session WHERE username = ? COLLATE NOCASE`, username))
}

func (s *Store) scanSession(row *sql.Row) (*Session, error) {
	var sess Session
	var reveal sql.NullString
	err := row.Scan(&sess.ID, &sess.JellyfinUserID, &sess.AccessToken, &sess.Username,
		&sess.PasswordHash, &reveal, &sess.CreatedAt, &sess.LastUsedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	sess.RevealPassword = reveal.String
	return &sess, nil
}

// TouchSession bumps last_used_at; the rest of the record is immutable
// except for token refresh.
func (s *Store) TouchSession(id string, at time.Time) error {
	_, err := execWithRetry(s.db, `UPDATE session SET last_used_at = ? WHERE id = ?`, at.UTC(), id)
	return wrapErr(err)
}

// ClearRevealPassword drops the plaintext copy after the one-time reveal.
func (s *Store) ClearRevealPassword(id string) error {
	_, err := execWithRetry(s.db, `UPDATE session SET reveal_password = NULL WHERE id = ?`, id)
	return wrapErr(err)
}

// Sessions returns all session records, oldest first. Used by the playback
// relay loop; reads only, all mutation goes through the per-key operations.
func (s *Store) Sessions() ([]Session, error) {
	rows, err := s.db.Query(`
        SELECT id, jellyfin_user_id, access_token, username, password_hash, reveal_password, created_at, last_used_at
        FROM session ORDER BY created_at`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var reveal sql.NullString
		if err := rows.Scan(&sess.ID, &sess.JellyfinUserID, &sess.AccessToken, &sess.Username,
			&sess.PasswordHash, &reveal, &sess.CreatedAt, &sess.LastUsedAt); err != nil {
			return nil, wrapErr(err)
		}
		sess.RevealPassword = reveal.String
		out = append(out, sess)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) SessionCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM session`).Scan(&n)
	return n, wrapErr(err)
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}
