package store

import (
	"database/sql"
	"errors"
	"time"
)

// QuickConnect request statuses. Transitions are monotonic:
// pending -> authorized or pending -> expired, never back.
const (
	QCPending    = "pending"
	QCAuthorized = "authorized"
	QCExpired    = "expired"
)

// QuickConnectRequest is one in-flight device-authorization attempt, keyed by
// the upstream polling secret. Superseded pending requests are kept, not
// deleted.
type QuickConnectRequest struct {
	Secret    string
	Code      string
	Status    string
	SessionID string // set when authorized
	CreatedAt time.Time
}

func (s *Store) CreateQuickConnect(req QuickConnectRequest) error {
	_, err := execWithRetry(s.db, `
        INSERT INTO quick_connect (secret, code, status, session_id, created_at)
        VALUES (?, ?, ?, ?, ?)`,
		req.Secret, req.Code, req.Status, nullIfEmpty(req.SessionID), req.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return wrapErr(err)
	}
	return nil
}

func (s *Store) QuickConnectBySecret(secret string) (*QuickConnectRequest, error) {
	var req QuickConnectRequest
	var sessionID sql.NullString
	err := s.db.QueryRow(`
        SELECT secret, code, status, session_id, created_at
        FROM quick_connect WHERE secret = ?`, secret).
		Scan(&req.Secret, &req.Code, &req.Status, &sessionID, &req.CreatedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	req.SessionID = sessionID.String
	return &req, nil
}

// TransitionQuickConnect is the compare-and-swap backing idempotent session
// creation: the row moves from `from` to `to` only if it is still in `from`.
// Zero rows affected means another poller won the race (or the request
// already reached a terminal state) and the caller must re-read instead of
// creating a duplicate.
// AuthorizeQuickConnect atomically moves a pending request to authorized and
// binds it to a session, in one transaction. The request row is the lock:
// claiming it happens before any session write, so a poller that lost the
// race gets ErrConflict with nothing mutated and re-reads the winner's
// committed result. A username collision reuses the existing session row,
// rotating its token and credential.
func (s *Store) AuthorizeQuickConnect(secret string, sess Session) (*Session, error) {
	final := sess
	err := withTx(s.db, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
            UPDATE quick_connect SET status = ?, session_id = ?
            WHERE secret = ? AND status = ?`,
			QCAuthorized, sess.ID, secret, QCPending)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConflict
		}

		row := tx.QueryRow(`
            INSERT INTO session (id, jellyfin_user_id, access_token, username, password_hash, reveal_password, created_at, last_used_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT (username) DO UPDATE SET
                jellyfin_user_id = excluded.jellyfin_user_id,
                access_token     = excluded.access_token,
                password_hash    = excluded.password_hash,
                reveal_password  = excluded.reveal_password,
                last_used_at     = excluded.last_used_at
            RETURNING id, username, created_at`,
			sess.ID, sess.JellyfinUserID, sess.AccessToken, sess.Username,
			sess.PasswordHash, nullIfEmpty(sess.RevealPassword),
			sess.CreatedAt.UTC(), sess.LastUsedAt.UTC())
		if err := row.Scan(&final.ID, &final.Username, &final.CreatedAt); err != nil {
			return err
		}
		if final.ID != sess.ID {
			// Relogin reused an existing session row; point the request at it.
			if _, err := tx.Exec(`UPDATE quick_connect SET session_id = ? WHERE secret = ?`, final.ID, secret); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrConflict
		}
		return nil, wrapErr(err)
	}
	return &final, nil
}

func (s *Store) TransitionQuickConnect(secret, from, to, sessionID string) error {
	res, err := execWithRetry(s.db, `
        UPDATE quick_connect SET status = ?, session_id = ?
        WHERE secret = ? AND status = ?`,
		to, nullIfEmpty(sessionID), secret, from)
	if err != nil {
		return wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr(err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
