package hsapi

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"

	"jellyvr/internal/heresphere"
	"jellyvr/internal/jellyfin"
	"jellyvr/internal/logging"
	"jellyvr/internal/playback"
	"jellyvr/internal/store"
)

// Events receives the player's playback callbacks. The session rides in the
// URL because HereSphere posts events without the login body. Responses are
// always small and fast; the upstream relay happens off this path.
func Events(d Deps) fiber.Handler {
	return func(c fiber.Ctx) error {
		sessionID := c.Params("sid")
		itemID := c.Params("vid")

		var ev heresphere.Event
		if err := c.Bind().Body(&ev); err != nil {
			return respond(c, fiber.StatusBadRequest, fiber.Map{"error": "bad event body"})
		}

		sess, err := d.Auth.SessionByID(sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return respond(c, fiber.StatusUnauthorized, fiber.Map{"error": "unknown session"})
			}
			return fail(c, err)
		}

		positionTicks := int64(ev.Time) * jellyfin.TicksPerMillisecond
		reportedAt := eventTime(ev.UTC)
		speed := ev.Speed
		if speed == 0 {
			speed = 1
		}

		switch ev.Event {
		case heresphere.EventClose:
			err = d.Tracker.Finish(sess, itemID, positionTicks, reportedAt)
		case heresphere.EventPause:
			err = d.Tracker.Report(sess, itemID, positionTicks, playback.KindProgress, true, speed, reportedAt)
		case heresphere.EventPlay:
			err = d.Tracker.Report(sess, itemID, positionTicks, playback.KindProgress, false, speed, reportedAt)
		default:
			// The player opens at position zero; recording that as
			// progress would wipe the stored resume point.
			d.Tracker.SyncOpen(sess, itemID, positionTicks, speed)
		}
		if err != nil {
			return fail(c, err)
		}

		logging.Debug("playback event",
			"session_id", sess.ID, "item_id", itemID,
			"event", int(ev.Event), "position_ticks", positionTicks)
		return respond(c, fiber.StatusOK, fiber.Map{"ok": true})
	}
}

// eventTime trusts the player's clock when it sends one so retried events
// keep their original ordering, and falls back to the server clock. The
// player reports utc as milliseconds since the epoch.
func eventTime(utcMillis float64) time.Time {
	if utcMillis <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(int64(utcMillis)).UTC()
}
