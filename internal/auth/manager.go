package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"jellyvr/internal/jellyfin"
	"jellyvr/internal/logging"
	"jellyvr/internal/store"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials  = errors.New("unknown username or wrong password")
	ErrQuickConnectExpired = errors.New("quick connect window elapsed, restart login")
	ErrUnknownRequest      = errors.New("unknown quick connect secret")
)

type LoginState int

const (
	LoginPending LoginState = iota
	LoginApproved
	LoginExpired
)

type LoginStatus struct {
	State   LoginState
	Code    string         // display code while pending
	Session *store.Session // set when approved
	// PlainPassword carries the generated credential while it is still
	// revealable; empty once the one-time reveal has happened.
	PlainPassword string
}

// upstream is the subset of the Jellyfin client the manager drives,
// narrowed so tests can fake it.
type upstream interface {
	QuickConnectInitiate(ctx context.Context) (*jellyfin.QuickConnectState, error)
	QuickConnectPoll(ctx context.Context, secret string) (bool, error)
	AuthenticateQuickConnect(ctx context.Context, secret string) (*jellyfin.AuthResult, error)
}

// Manager drives the QuickConnect state machine and owns all Session and
// QuickConnectRequest mutation. The flow lives entirely in the store, so a
// browser dropping its connection mid-poll resumes from persisted state.
type Manager struct {
	store   *store.Store
	jf      upstream
	timeout time.Duration
	now     func() time.Time
}

func New(st *store.Store, jf upstream, timeout time.Duration) *Manager {
	return &Manager{
		store:   st,
		jf:      jf,
		timeout: timeout,
		now:     time.Now,
	}
}

// StartLogin initiates a fresh QuickConnect request and persists it pending.
func (m *Manager) StartLogin(ctx context.Context) (*store.QuickConnectRequest, error) {
	qc, err := m.jf.QuickConnectInitiate(ctx)
	if err != nil {
		return nil, err
	}
	req := store.QuickConnectRequest{
		Secret:    qc.Secret,
		Code:      qc.Code,
		Status:    store.QCPending,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.CreateQuickConnect(req); err != nil {
		return nil, fmt.Errorf("persist quick connect: %w", err)
	}
	logging.Info("quick connect started", "code", qc.Code)
	return &req, nil
}

// PollLogin advances the state machine for one request. It is idempotent:
// concurrent pollers of the same secret observe exactly one session creation,
// enforced by the store's compare-and-swap on the request row. An expired
// request is terminal even if a stale upstream approval arrives later.
func (m *Manager) PollLogin(ctx context.Context, secret string) (*LoginStatus, error) {
	req, err := m.store.QuickConnectBySecret(secret)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownRequest
		}
		return nil, err
	}

	switch req.Status {
	case store.QCAuthorized:
		return m.approvedStatus(req.SessionID)
	case store.QCExpired:
		return &LoginStatus{State: LoginExpired}, nil
	}

	if m.now().Sub(req.CreatedAt) > m.timeout {
		if err := m.store.TransitionQuickConnect(secret, store.QCPending, store.QCExpired, ""); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// Lost the race against an authorizer; resolve from the row.
				return m.resolve(secret)
			}
			return nil, err
		}
		return &LoginStatus{State: LoginExpired}, nil
	}

	authenticated, err := m.jf.QuickConnectPoll(ctx, secret)
	if err != nil {
		if errors.Is(err, jellyfin.ErrRejected) {
			// Upstream no longer knows the secret; terminal.
			_ = m.store.TransitionQuickConnect(secret, store.QCPending, store.QCExpired, "")
			return &LoginStatus{State: LoginExpired}, nil
		}
		return nil, err
	}
	if !authenticated {
		return &LoginStatus{State: LoginPending, Code: req.Code}, nil
	}

	return m.createSession(ctx, secret)
}

// createSession exchanges the approved secret for a Jellyfin token and mints
// the local credential. The store claims the pending request before any
// session write happens, so the CAS loser mutates nothing and reads the
// winner's committed result instead.
func (m *Manager) createSession(ctx context.Context, secret string) (*LoginStatus, error) {
	res, err := m.jf.AuthenticateQuickConnect(ctx, secret)
	if err != nil {
		if errors.Is(err, jellyfin.ErrRejected) {
			_ = m.store.TransitionQuickConnect(secret, store.QCPending, store.QCExpired, "")
			return &LoginStatus{State: LoginExpired}, nil
		}
		return nil, err
	}

	plain, err := generatePassword(passwordLength)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	sess, err := m.store.AuthorizeQuickConnect(secret, store.Session{
		ID:             uuid.NewString(),
		JellyfinUserID: res.UserID,
		AccessToken:    res.AccessToken,
		Username:       res.Username,
		PasswordHash:   string(hash),
		RevealPassword: plain,
		CreatedAt:      now,
		LastUsedAt:     now,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return m.resolve(secret)
		}
		return nil, err
	}

	logging.Info("session created", "username", sess.Username, "session_id", sess.ID)
	return &LoginStatus{State: LoginApproved, Session: sess, PlainPassword: plain}, nil
}

// resolve re-reads a request after losing a CAS race and reports its
// terminal outcome.
func (m *Manager) resolve(secret string) (*LoginStatus, error) {
	req, err := m.store.QuickConnectBySecret(secret)
	if err != nil {
		return nil, err
	}
	switch req.Status {
	case store.QCAuthorized:
		return m.approvedStatus(req.SessionID)
	case store.QCExpired:
		return &LoginStatus{State: LoginExpired}, nil
	default:
		return &LoginStatus{State: LoginPending, Code: req.Code}, nil
	}
}

func (m *Manager) approvedStatus(sessionID string) (*LoginStatus, error) {
	sess, err := m.store.SessionByID(sessionID)
	if err != nil {
		return nil, err
	}
	return &LoginStatus{State: LoginApproved, Session: sess, PlainPassword: sess.RevealPassword}, nil
}

// AuthenticateLocal verifies the gateway-issued credential and bumps the
// session's last_used_at.
func (m *Manager) AuthenticateLocal(username, password string) (*store.Session, error) {
	sess, err := m.store.SessionByUsername(username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(sess.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	if err := m.store.TouchSession(sess.ID, m.now()); err != nil {
		return nil, err
	}
	return sess, nil
}

// SessionByID loads a session for cookie-based dashboard access.
func (m *Manager) SessionByID(id string) (*store.Session, error) {
	return m.store.SessionByID(id)
}

// RevealPassword returns the plaintext credential exactly once, clearing the
// stored copy. Subsequent calls return empty.
func (m *Manager) RevealPassword(sessionID string) (string, error) {
	sess, err := m.store.SessionByID(sessionID)
	if err != nil {
		return "", err
	}
	if sess.RevealPassword == "" {
		return "", nil
	}
	if err := m.store.ClearRevealPassword(sessionID); err != nil {
		return "", err
	}
	return sess.RevealPassword, nil
}

const passwordLength = 6

// generatePassword returns a short lowercase secret. It exists to bound the
// blast radius of exposing the secondary credential, not to replace
// Jellyfin's own access control.
func generatePassword(length int) (string, error) {
	const alphabet = "abcdefghijklmnopqrstuvwxyz"
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
