package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	if err := MigrateUp("sqlite://" + path); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testSession(id, username string) Session {
	now := time.Now().UTC()
	return Session{
		ID:             id,
		JellyfinUserID: "jf-" + id,
		AccessToken:    "tok-" + id,
		Username:       username,
		PasswordHash:   "hash",
		RevealPassword: "abcdef",
		CreatedAt:      now,
		LastUsedAt:     now,
	}
}

func TestCreateSessionUniqueUsername(t *testing.T) {
	s := newTestStore(t)

	if err := s.CreateSession(testSession("s1", "alice")); err != nil {
		t.Fatalf("first CreateSession: %v", err)
	}
	err := s.CreateSession(testSession("s2", "alice"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate username, got %v", err)
	}
	// Usernames collide case-insensitively; Jellyfin treats them the same.
	err = s.CreateSession(testSession("s3", "ALICE"))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for case-folded duplicate, got %v", err)
	}
}

func TestSessionByUsernameCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession(testSession("s1", "Alice")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sess, err := s.SessionByUsername("alice")
	if err != nil {
		t.Fatalf("SessionByUsername: %v", err)
	}
	if sess.ID != "s1" {
		t.Errorf("expected session s1, got %s", sess.ID)
	}
}

func TestSessionByIDNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SessionByID("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClearRevealPassword(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateSession(testSession("s1", "alice")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.ClearRevealPassword("s1"); err != nil {
		t.Fatalf("ClearRevealPassword: %v", err)
	}
	sess, err := s.SessionByID("s1")
	if err != nil {
		t.Fatalf("SessionByID: %v", err)
	}
	if sess.RevealPassword != "" {
		t.Errorf("expected cleared reveal password, got %q", sess.RevealPassword)
	}
	if sess.PasswordHash != "hash" {
		t.Errorf("password hash must survive the reveal, got %q", sess.PasswordHash)
	}
}

func TestQuickConnectTransitionCAS(t *testing.T) {
	s := newTestStore(t)
	req := QuickConnectRequest{
		Secret:    "sec1",
		Code:      "ABC123",
		Status:    QCPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateQuickConnect(req); err != nil {
		t.Fatalf("CreateQuickConnect: %v", err)
	}
	if err := s.CreateSession(testSession("s1", "alice")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	if err := s.TransitionQuickConnect("sec1", QCPending, QCAuthorized, "s1"); err != nil {
		t.Fatalf("first transition: %v", err)
	}

	// The loser of the race sees ErrConflict, and the row keeps the
	// winner's state.
	err := s.TransitionQuickConnect("sec1", QCPending, QCExpired, "")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for second transition, got %v", err)
	}
	got, err := s.QuickConnectBySecret("sec1")
	if err != nil {
		t.Fatalf("QuickConnectBySecret: %v", err)
	}
	if got.Status != QCAuthorized || got.SessionID != "s1" {
		t.Errorf("expected authorized/s1, got %s/%s", got.Status, got.SessionID)
	}
}

func TestAuthorizeQuickConnectLoserWritesNothing(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateQuickConnect(QuickConnectRequest{
		Secret: "sec1", Code: "ABC123", Status: QCPending, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("CreateQuickConnect: %v", err)
	}

	winner := testSession("s1", "alice")
	winner.PasswordHash = "hash-winner"
	winner.RevealPassword = "reveal-winner"
	got, err := s.AuthorizeQuickConnect("sec1", winner)
	if err != nil {
		t.Fatalf("winner authorize: %v", err)
	}
	if got.ID != "s1" {
		t.Fatalf("winner session id %s, want s1", got.ID)
	}

	loser := testSession("s2", "alice")
	loser.PasswordHash = "hash-loser"
	loser.RevealPassword = "reveal-loser"
	if _, err := s.AuthorizeQuickConnect("sec1", loser); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for loser, got %v", err)
	}

	// The loser must not have touched the winner's credential.
	sess, err := s.SessionByUsername("alice")
	if err != nil {
		t.Fatalf("SessionByUsername: %v", err)
	}
	if sess.ID != "s1" || sess.PasswordHash != "hash-winner" || sess.RevealPassword != "reveal-winner" {
		t.Errorf("winner session mutated by loser: %+v", sess)
	}
	req, err := s.QuickConnectBySecret("sec1")
	if err != nil {
		t.Fatalf("QuickConnectBySecret: %v", err)
	}
	if req.Status != QCAuthorized || req.SessionID != "s1" {
		t.Errorf("request should stay bound to the winner, got %+v", req)
	}
	if n, _ := s.SessionCount(); n != 1 {
		t.Errorf("expected one session, got %d", n)
	}
}

func TestAuthorizeQuickConnectReusesExistingSession(t *testing.T) {
	s := newTestStore(t)
	for _, secret := range []string{"sec1", "sec2"} {
		if err := s.CreateQuickConnect(QuickConnectRequest{
			Secret: secret, Code: "ABC123", Status: QCPending, CreatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("CreateQuickConnect %s: %v", secret, err)
		}
	}

	first := testSession("s1", "alice")
	if _, err := s.AuthorizeQuickConnect("sec1", first); err != nil {
		t.Fatalf("first authorize: %v", err)
	}

	relogin := testSession("s2", "alice")
	relogin.AccessToken = "tok-fresh"
	relogin.PasswordHash = "hash-fresh"
	relogin.RevealPassword = "reveal-fresh"
	got, err := s.AuthorizeQuickConnect("sec2", relogin)
	if err != nil {
		t.Fatalf("relogin authorize: %v", err)
	}
	if got.ID != "s1" {
		t.Fatalf("relogin must reuse session s1, got %s", got.ID)
	}

	sess, err := s.SessionByUsername("alice")
	if err != nil {
		t.Fatalf("SessionByUsername: %v", err)
	}
	if sess.AccessToken != "tok-fresh" || sess.PasswordHash != "hash-fresh" || sess.RevealPassword != "reveal-fresh" {
		t.Errorf("relogin must rotate token and credential, got %+v", sess)
	}
	req, err := s.QuickConnectBySecret("sec2")
	if err != nil {
		t.Fatalf("QuickConnectBySecret: %v", err)
	}
	if req.SessionID != "s1" {
		t.Errorf("relogin request must point at the reused session, got %s", req.SessionID)
	}
	if n, _ := s.SessionCount(); n != 1 {
		t.Errorf("expected one session, got %d", n)
	}
}

func TestQuickConnectExpiredIsTerminal(t *testing.T) {
	s := newTestStore(t)
	req := QuickConnectRequest{
		Secret:    "sec1",
		Code:      "ABC123",
		Status:    QCPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.CreateQuickConnect(req); err != nil {
		t.Fatalf("CreateQuickConnect: %v", err)
	}
	if err := s.TransitionQuickConnect("sec1", QCPending, QCExpired, ""); err != nil {
		t.Fatalf("expire transition: %v", err)
	}

	// A stale approval arriving after expiry must not resurrect the request.
	err := s.TransitionQuickConnect("sec1", QCPending, QCAuthorized, "s1")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after expiry, got %v", err)
	}
	got, _ := s.QuickConnectBySecret("sec1")
	if got.Status != QCExpired {
		t.Errorf("expected expired, got %s", got.Status)
	}
}

func TestUpsertPlaybackLastWriterWins(t *testing.T) {
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	r1 := PlaybackState{SessionID: "s1", ItemID: "i1", PositionTicks: 1000, LastReportedAt: base}
	r2 := PlaybackState{SessionID: "s1", ItemID: "i1", PositionTicks: 5000, Watched: true, LastReportedAt: base.Add(10 * time.Second)}

	// Either arrival order must converge on r2.
	for name, order := range map[string][]PlaybackState{
		"in_order":     {r1, r2},
		"out_of_order": {r2, r1},
	} {
		s := newTestStore(t)
		for _, r := range order {
			if _, err := s.UpsertPlayback(r); err != nil {
				t.Fatalf("%s: UpsertPlayback: %v", name, err)
			}
		}
		got, err := s.PlaybackFor("s1", "i1")
		if err != nil {
			t.Fatalf("%s: PlaybackFor: %v", name, err)
		}
		if got.PositionTicks != r2.PositionTicks || !got.Watched {
			t.Errorf("%s: expected final state %+v, got %+v", name, r2, got)
		}
	}
}

func TestUpsertPlaybackStaleNotApplied(t *testing.T) {
	s := newTestStore(t)
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	applied, err := s.UpsertPlayback(PlaybackState{SessionID: "s1", ItemID: "i1", PositionTicks: 5000, LastReportedAt: base})
	if err != nil || !applied {
		t.Fatalf("fresh upsert: applied=%v err=%v", applied, err)
	}
	applied, err = s.UpsertPlayback(PlaybackState{SessionID: "s1", ItemID: "i1", PositionTicks: 100, LastReportedAt: base.Add(-time.Minute)})
	if err != nil {
		t.Fatalf("stale upsert: %v", err)
	}
	if applied {
		t.Error("stale report must not be applied")
	}
	got, _ := s.PlaybackFor("s1", "i1")
	if got.PositionTicks != 5000 {
		t.Errorf("position regressed to %d", got.PositionTicks)
	}
}

func TestLivePlaybackReplacedPerSession(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	first := LivePlayback{SessionID: "s1", ItemID: "i1", PlaySessionID: "p1", Speed: 1, IsPaused: true, StartedAt: now, LastUpdate: now}
	if err := s.PutLivePlayback(first); err != nil {
		t.Fatalf("PutLivePlayback: %v", err)
	}
	second := first
	second.ItemID = "i2"
	second.PlaySessionID = "p2"
	if err := s.PutLivePlayback(second); err != nil {
		t.Fatalf("PutLivePlayback replace: %v", err)
	}

	got, err := s.LivePlaybackFor("s1")
	if err != nil {
		t.Fatalf("LivePlaybackFor: %v", err)
	}
	if got.ItemID != "i2" || got.PlaySessionID != "p2" {
		t.Errorf("expected replacement row, got %+v", got)
	}

	if err := s.DeleteLivePlayback("s1"); err != nil {
		t.Fatalf("DeleteLivePlayback: %v", err)
	}
	if _, err := s.LivePlaybackFor("s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestIndexCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := s.PutIndex("u1", []byte(`{"library":{}}`), at); err != nil {
		t.Fatalf("PutIndex: %v", err)
	}
	payload, updatedAt, err := s.GetIndex("u1")
	if err != nil {
		t.Fatalf("GetIndex: %v", err)
	}
	if string(payload) != `{"library":{}}` {
		t.Errorf("payload mismatch: %s", payload)
	}
	if !updatedAt.Equal(at) {
		t.Errorf("updatedAt mismatch: %v", updatedAt)
	}

	if err := s.PutVideo("u1", "i1", []byte(`{"title":"x"}`), at); err != nil {
		t.Fatalf("PutVideo: %v", err)
	}
	if err := s.InvalidateIndexes(); err != nil {
		t.Fatalf("InvalidateIndexes: %v", err)
	}
	if _, _, err := s.GetIndex("u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after invalidate, got %v", err)
	}
	if _, err := s.GetVideo("u1", "i1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected video gone after invalidate, got %v", err)
	}
}
