package store

import (
	"time"
)

// PlaybackState is the last-known progress of one (session, item) pair.
// Rows are never deleted; Jellyfin stays the source of truth for long-term
// history, this is a forwarding buffer plus idempotency guard.
type PlaybackState struct {
	SessionID      string
	ItemID         string
	PositionTicks  int64
	Watched        bool
	LastReportedAt time.Time
}

// UpsertPlayback applies a report with last-writer-wins semantics keyed on
// LastReportedAt: an older report never regresses a newer row, regardless of
// arrival order. Returns whether the row changed.
func (s *Store) UpsertPlayback(ps PlaybackState) (bool, error) {
	res, err := execWithRetry(s.db, `
        INSERT INTO playback_state (session_id, item_id, position_ticks, watched, last_reported_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (session_id, item_id) DO UPDATE SET
            position_ticks   = excluded.position_ticks,
            watched          = excluded.watched,
            last_reported_at = excluded.last_reported_at
        WHERE excluded.last_reported_at >= playback_state.last_reported_at`,
		ps.SessionID, ps.ItemID, ps.PositionTicks, ps.Watched, ps.LastReportedAt.UTC())
	if err != nil {
		return false, wrapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(err)
	}
	return n > 0, nil
}

func (s *Store) PlaybackFor(sessionID, itemID string) (*PlaybackState, error) {
	var ps PlaybackState
	var watched int
	err := s.db.QueryRow(`
        SELECT session_id, item_id, position_ticks, watched, last_reported_at
        FROM playback_state WHERE session_id = ? AND item_id = ?`, sessionID, itemID).
		Scan(&ps.SessionID, &ps.ItemID, &ps.PositionTicks, &watched, &ps.LastReportedAt)
	if err != nil {
		return nil, wrapErr(err)
	}
	ps.Watched = watched != 0
	return &ps, nil
}

func (s *Store) PlaybackCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM playback_state`).Scan(&n)
	return n, wrapErr(err)
}

// LivePlayback is the in-flight playback of one session: the Jellyfin play
// session plus enough state (speed, paused flag, last update time) to
// estimate the current position between client events.
type LivePlayback struct {
	SessionID     string
	ItemID        string
	PlaySessionID string
	DurationTicks int64
	PositionTicks int64
	Speed         float64
	IsPaused      bool
	StartedAt     time.Time
	LastUpdate    time.Time
}

// PutLivePlayback replaces the live playback for a session (one per session,
// a new video supersedes the previous one).
func (s *Store) PutLivePlayback(lp LivePlayback) error {
	_, err := execWithRetry(s.db, `
        INSERT INTO live_playback (session_id, item_id, play_session_id, duration_ticks, position_ticks, speed, is_paused, started_at, last_update)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (session_id) DO UPDATE SET
            item_id         = excluded.item_id,
            play_session_id = excluded.play_session_id,
            duration_ticks  = excluded.duration_ticks,
            position_ticks  = excluded.position_ticks,
            speed           = excluded.speed,
            is_paused       = excluded.is_paused,
            started_at      = excluded.started_at,
            last_update     = excluded.last_update`,
		lp.SessionID, lp.ItemID, lp.PlaySessionID, lp.DurationTicks, lp.PositionTicks,
		lp.Speed, lp.IsPaused, lp.StartedAt.UTC(), lp.LastUpdate.UTC())
	return wrapErr(err)
}

func (s *Store) LivePlaybackFor(sessionID string) (*LivePlayback, error) {
	var lp LivePlayback
	var paused int
	err := s.db.QueryRow(`
        SELECT session_id, item_id, play_session_id, duration_ticks, position_ticks, speed, is_paused, started_at, last_update
        FROM live_playback WHERE session_id = ?`, sessionID).
		Scan(&lp.SessionID, &lp.ItemID, &lp.PlaySessionID, &lp.DurationTicks, &lp.PositionTicks,
			&lp.Speed, &paused, &lp.StartedAt, &lp.LastUpdate)
	if err != nil {
		return nil, wrapErr(err)
	}
	lp.IsPaused = paused != 0
	return &lp, nil
}

func (s *Store) LivePlaybacks() ([]LivePlayback, error) {
	rows, err := s.db.Query(`
        SELECT session_id, item_id, play_session_id, duration_ticks, position_ticks, speed, is_paused, started_at, last_update
        FROM live_playback`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []LivePlayback
	for rows.Next() {
		var lp LivePlayback
		var paused int
		if err := rows.Scan(&lp.SessionID, &lp.ItemID, &lp.PlaySessionID, &lp.DurationTicks,
			&lp.PositionTicks, &lp.Speed, &paused, &lp.StartedAt, &lp.LastUpdate); err != nil {
			return nil, wrapErr(err)
		}
		lp.IsPaused = paused != 0
		out = append(out, lp)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) DeleteLivePlayback(sessionID string) error {
	_, err := execWithRetry(s.db, `DELETE FROM live_playback WHERE session_id = ?`, sessionID)
	return wrapErr(err)
}
