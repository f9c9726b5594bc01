package playback

import (
	"context"
	"errors"
	"time"

	"jellyvr/internal/jellyfin"
	"jellyvr/internal/logging"
	"jellyvr/internal/store"
)

type Kind int

const (
	KindProgress Kind = iota
	KindStop
	KindWatched
)

// upstream is the relay surface of the Jellyfin client, narrowed for tests.
type upstream interface {
	ReportStart(ctx context.Context, token, itemID, playSessionID string) error
	ReportProgress(ctx context.Context, token, itemID, playSessionID string, positionTicks int64, isPaused bool) error
	ReportStopped(ctx context.Context, token, itemID, playSessionID string, positionTicks int64) error
	MarkPlayed(ctx context.Context, token, userID, itemID string) error
}

type relayJob struct {
	kind          Kind
	token         string
	userID        string
	itemID        string
	playSessionID string
	positionTicks int64
	isPaused      bool
}

// Tracker ingests playback events from the VR client, persists them with
// last-writer-wins semantics and relays them to Jellyfin off the request
// path. A relay failure never rolls back local state; the store row is the
// durable record of what the client last told us.
type Tracker struct {
	store *store.Store
	jf    upstream
	relay chan relayJob
	now   func() time.Time
}

const relayQueueSize = 256
const relayTimeout = 10 * time.Second

func New(st *store.Store, jf upstream) *Tracker {
	return &Tracker{
		store: st,
		jf:    jf,
		relay: make(chan relayJob, relayQueueSize),
		now:   time.Now,
	}
}

// Report is the single ingestion point for playback events. The local upsert
// is authoritative; the upstream relay is queued and never blocks the VR
// client's playback loop. Duplicate or out-of-order reports cannot regress
// the stored position (compared on reportedAt, not arrival order).
func (t *Tracker) Report(sess *store.Session, itemID string, positionTicks int64, kind Kind, isPaused bool, speed float64, reportedAt time.Time) error {
	applied, err := t.store.UpsertPlayback(store.PlaybackState{
		SessionID:      sess.ID,
		ItemID:         itemID,
		PositionTicks:  positionTicks,
		Watched:        kind == KindWatched,
		LastReportedAt: reportedAt,
	})
	if err != nil {
		return err
	}

	playSessionID := t.syncLive(sess.ID, itemID, positionTicks, isPaused, speed, kind)

	if !applied {
		logging.Debug("stale playback report ignored for relay",
			"session_id", sess.ID, "item_id", itemID, "position_ticks", positionTicks)
		return nil
	}

	t.enqueue(relayJob{
		kind:          kind,
		token:         sess.AccessToken,
		userID:        sess.JellyfinUserID,
		itemID:        itemID,
		playSessionID: playSessionID,
		positionTicks: positionTicks,
		isPaused:      isPaused,
	})
	return nil
}

// A close event past this fraction of the duration also marks the item
// played upstream.
const watchedThreshold = 0.9

// Finish ingests a close event: a stop report, followed by a watched report
// when playback ended past the watched threshold of the known duration.
func (t *Tracker) Finish(sess *store.Session, itemID string, positionTicks int64, reportedAt time.Time) error {
	var durationTicks int64
	if lp, err := t.store.LivePlaybackFor(sess.ID); err == nil && lp.ItemID == itemID {
		durationTicks = lp.DurationTicks
	}
	if err := t.Report(sess, itemID, positionTicks, KindStop, true, 0, reportedAt); err != nil {
		return err
	}
	if durationTicks > 0 && float64(positionTicks) >= watchedThreshold*float64(durationTicks) {
		return t.Report(sess, itemID, positionTicks, KindWatched, true, 0, reportedAt.Add(time.Millisecond))
	}
	return nil
}

// SyncOpen refreshes the live playback row when the player opens a video.
// An open is not a progress report: nothing is upserted and nothing is
// relayed, so the stored resume position survives a re-open.
func (t *Tracker) SyncOpen(sess *store.Session, itemID string, positionTicks int64, speed float64) {
	t.syncLive(sess.ID, itemID, positionTicks, true, speed, KindProgress)
}

// BeginPlayback records the live playback handed out with a media source and
// tells Jellyfin the play session started.
func (t *Tracker) BeginPlayback(sess *store.Session, itemID, playSessionID string, durationTicks int64) error {
	now := t.now().UTC()
	err := t.store.PutLivePlayback(store.LivePlayback{
		SessionID:     sess.ID,
		ItemID:        itemID,
		PlaySessionID: playSessionID,
		DurationTicks: durationTicks,
		PositionTicks: 0,
		Speed:         1.0,
		IsPaused:      true,
		StartedAt:     now,
		LastUpdate:    now,
	})
	if err != nil {
		return err
	}
	t.enqueue(relayJob{
		kind:          KindProgress,
		token:         sess.AccessToken,
		userID:        sess.JellyfinUserID,
		itemID:        itemID,
		playSessionID: playSessionID,
		isPaused:      true,
	})
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := t.jf.ReportStart(ctx, sess.AccessToken, itemID, playSessionID); err != nil {
		logging.Warn("playback start relay failed", "item_id", itemID, "error", err)
	}
	return nil
}

// syncLive updates the session's live playback row when the report matches
// the item it is playing, returning the play session id for the relay.
func (t *Tracker) syncLive(sessionID, itemID string, positionTicks int64, isPaused bool, speed float64, kind Kind) string {
	lp, err := t.store.LivePlaybackFor(sessionID)
	if err != nil || lp.ItemID != itemID {
		return ""
	}
	if kind == KindStop {
		if err := t.store.DeleteLivePlayback(sessionID); err != nil {
			logging.Warn("live playback cleanup failed", "session_id", sessionID, "error", err)
		}
		return lp.PlaySessionID
	}
	lp.PositionTicks = positionTicks
	lp.IsPaused = isPaused
	if speed > 0 {
		lp.Speed = speed
	}
	lp.LastUpdate = t.now().UTC()
	if err := t.store.PutLivePlayback(*lp); err != nil {
		logging.Warn("live playback update failed", "session_id", sessionID, "error", err)
	}
	return lp.PlaySessionID
}

// enqueue never blocks; when the relay queue is full the job is dropped and
// the periodic estimator catches the position up later.
func (t *Tracker) enqueue(job relayJob) {
	select {
	case t.relay <- job:
	default:
		logging.Warn("relay queue full, dropping upstream report", "item_id", job.itemID)
	}
}

// StartRelayWorker consumes queued reports until the context is cancelled.
func (t *Tracker) StartRelayWorker(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-t.relay:
				t.deliver(ctx, job)
			}
		}
	}()
}

func (t *Tracker) deliver(ctx context.Context, job relayJob) {
	ctx, cancel := context.WithTimeout(ctx, relayTimeout)
	defer cancel()

	var err error
	switch job.kind {
	case KindStop:
		err = t.jf.ReportStopped(ctx, job.token, job.itemID, job.playSessionID, job.positionTicks)
	case KindWatched:
		err = t.jf.MarkPlayed(ctx, job.token, job.userID, job.itemID)
	default:
		err = t.jf.ReportProgress(ctx, job.token, job.itemID, job.playSessionID, job.positionTicks, job.isPaused)
	}
	if err != nil {
		if errors.Is(err, jellyfin.ErrAuthExpired) {
			logging.Warn("upstream rejected session token during relay", "item_id", job.itemID)
			return
		}
		logging.Warn("upstream relay failed", "item_id", job.itemID, "error", err)
	}
}

// StartEstimator advances non-paused playback positions by wall-clock time
// between client events and relays the estimate, so Jellyfin's watch state
// tracks even when the VR client goes quiet. Positions predicted past the
// item's duration flip the playback to paused instead of running off the end.
func (t *Tracker) StartEstimator(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.estimateOnce()
			}
		}
	}()
}

func (t *Tracker) estimateOnce() {
	lps, err := t.store.LivePlaybacks()
	if err != nil {
		logging.Warn("estimator read failed", "error", err)
		return
	}
	updated := 0
	for _, lp := range lps {
		if lp.IsPaused {
			continue
		}
		now := t.now().UTC()
		elapsedMs := now.Sub(lp.LastUpdate).Milliseconds()
		newPos := lp.PositionTicks + int64(float64(elapsedMs)*lp.Speed)*jellyfin.TicksPerMillisecond

		if lp.DurationTicks > 0 && newPos > lp.DurationTicks {
			lp.IsPaused = true
			lp.LastUpdate = now
			if err := t.store.PutLivePlayback(lp); err != nil {
				logging.Warn("estimator pause write failed", "session_id", lp.SessionID, "error", err)
			}
			continue
		}

		sess, err := t.store.SessionByID(lp.SessionID)
		if err != nil {
			continue
		}
		t.enqueue(relayJob{
			kind:          KindProgress,
			token:         sess.AccessToken,
			userID:        sess.JellyfinUserID,
			itemID:        lp.ItemID,
			playSessionID: lp.PlaySessionID,
			positionTicks: newPos,
			isPaused:      false,
		})
		lp.PositionTicks = newPos
		lp.LastUpdate = now
		if err := t.store.PutLivePlayback(lp); err != nil {
			logging.Warn("estimator write failed", "session_id", lp.SessionID, "error", err)
			continue
		}
		updated++
	}
	if updated > 0 {
		logging.Debug("estimated playback positions", "updated", updated)
	}
}
