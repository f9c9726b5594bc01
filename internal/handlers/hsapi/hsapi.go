package hsapi

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"

	"jellyvr/internal/auth"
	"jellyvr/internal/heresphere"
	"jellyvr/internal/jellyfin"
	"jellyvr/internal/logging"
	"jellyvr/internal/playback"
	"jellyvr/internal/store"
)

const requestTimeout = 30 * time.Second

// Deps bundles what the HereSphere endpoints need. Every handler closes over
// one of these; there is no package-level state.
type Deps struct {
	Auth    *auth.Manager
	Catalog *heresphere.Catalog
	Tracker *playback.Tracker
	JF      *jellyfin.Client
}

// Library serves the top-level listing. Unauthenticated players get the
// login prompt instead of an error so HereSphere shows its login form.
func Library(d Deps) fiber.Handler {
	return func(c fiber.Ctx) error {
		sess, err := authenticate(c, d)
		if err != nil {
			return fail(c, err)
		}
		if sess == nil {
			return respond(c, fiber.StatusOK, heresphere.LoginPrompt())
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		idx, err := d.Catalog.Index(ctx, c.BaseURL(), sess)
		if err != nil {
			return fail(c, err)
		}
		return respond(c, fiber.StatusOK, idx)
	}
}

// Scan serves the bulk metadata document.
func Scan(d Deps) fiber.Handler {
	return func(c fiber.Ctx) error {
		sess, err := authenticate(c, d)
		if err != nil {
			return fail(c, err)
		}
		if sess == nil {
			return respond(c, fiber.StatusUnauthorized, fiber.Map{"error": "login required"})
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		scan, err := d.Catalog.Scan(ctx, c.BaseURL(), sess)
		if err != nil {
			return fail(c, err)
		}
		return respond(c, fiber.StatusOK, scan)
	}
}

// Video serves one item's detail document. When the player asks for a media
// source it gets a play-session-bound stream and an event server URL, and
// the play session is registered with the tracker.
func Video(d Deps) fiber.Handler {
	return func(c fiber.Ctx) error {
		itemID := c.Params("id")
		req, sess, err := parseRequest(c, d)
		if err != nil {
			return fail(c, err)
		}
		if sess == nil {
			return respond(c, fiber.StatusOK, heresphere.LoginPrompt())
		}

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		video, err := d.Catalog.Video(ctx, c.BaseURL(), sess, itemID)
		if err != nil {
			return fail(c, err)
		}

		if req.NeedsMediaSource != nil && *req.NeedsMediaSource {
			if err := bindMediaSource(ctx, d, c.BaseURL(), sess, itemID, video); err != nil {
				return fail(c, err)
			}
		}
		return respond(c, fiber.StatusOK, video)
	}
}

// bindMediaSource swaps the cached download URLs for a play-session stream,
// wires the event server and registers the play session.
func bindMediaSource(ctx context.Context, d Deps, host string, sess *store.Session, itemID string, video *heresphere.VideoData) error {
	info, err := d.JF.PlaybackInfo(ctx, sess.AccessToken, sess.JellyfinUserID, itemID)
	if err != nil {
		return err
	}

	media := make([]heresphere.Media, 0, len(info.MediaSources))
	for _, ms := range info.MediaSources {
		var streamURL string
		if ms.TranscodingURL != "" {
			streamURL = d.JF.AbsoluteURL(ms.TranscodingURL)
		} else {
			streamURL = d.JF.StreamURL(itemID, info.PlaySessionID, ms.Id, sess.AccessToken)
		}
		name := ms.Container
		if name == "" {
			name = "hls"
		}
		media = append(media, heresphere.Media{
			Name:    name,
			Sources: []heresphere.MediaSource{{URL: streamURL}},
		})
	}
	if len(media) > 0 {
		video.Media = media
	}
	video.EventServer = host + "/heresphere/events/" + sess.ID + "/" + itemID

	durationTicks := int64(video.Duration) * jellyfin.TicksPerMillisecond
	if err := d.Tracker.BeginPlayback(sess, itemID, info.PlaySessionID, durationTicks); err != nil {
		logging.Warn("registering play session failed", "item_id", itemID, "error", err)
	}
	return nil
}

// authenticate resolves the credential in the request body to a session.
// A missing or wrong credential returns (nil, nil): the endpoints answer
// with the login prompt, not an error.
func authenticate(c fiber.Ctx, d Deps) (*store.Session, error) {
	_, sess, err := parseRequest(c, d)
	return sess, err
}

func parseRequest(c fiber.Ctx, d Deps) (*heresphere.Request, *store.Session, error) {
	var req heresphere.Request
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&req); err != nil {
			logging.Debug("unparseable heresphere request body", "error", err)
			return &req, nil, nil
		}
	}
	if req.Username == "" {
		return &req, nil, nil
	}
	sess, err := d.Auth.AuthenticateLocal(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			return &req, nil, nil
		}
		return &req, nil, err
	}
	return &req, sess, nil
}

func respond(c fiber.Ctx, status int, body any) error {
	c.Set(heresphere.JSONVersionHeader, heresphere.JSONVersion)
	return c.Status(status).JSON(body)
}

// fail maps the error taxonomy onto responses. An upstream 401 means the
// stored token died; the player is told to log in again.
func fail(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, jellyfin.ErrAuthExpired):
		logging.Warn("session token rejected upstream", "error", err)
		return respond(c, fiber.StatusOK, heresphere.LoginPrompt())
	case errors.Is(err, jellyfin.ErrUpstreamUnavailable):
		logging.Error("jellyfin unreachable", "error", err)
		return respond(c, fiber.StatusBadGateway, fiber.Map{"error": "upstream unavailable"})
	case errors.Is(err, store.ErrUnavailable):
		logging.Error("store unavailable", "error", err)
		return respond(c, fiber.StatusServiceUnavailable, fiber.Map{"error": "storage unavailable"})
	case errors.Is(err, store.ErrNotFound):
		return respond(c, fiber.StatusNotFound, fiber.Map{"error": "not found"})
	default:
		logging.Error("heresphere request failed", "error", err)
		return respond(c, fiber.StatusInternalServerError, fiber.Map{"error": "internal error"})
	}
}
