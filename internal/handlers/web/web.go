package web

import (
	"errors"
	"html/template"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"jellyvr/internal/auth"
	"jellyvr/internal/logging"
	"jellyvr/internal/store"
)

// The one cookie the gateway sets. While login is in flight it carries the
// QuickConnect secret; once approved it carries "s:" + session id.
const SessionCookie = "jellyvr_session"
const sessionPrefix = "s:"

var pendingPage = template.Must(template.New("pending").Parse(`<!DOCTYPE html>
<html>
<head>
<title>JellyVR</title>
<meta http-equiv="refresh" content="3">
<style>body{font-family:sans-serif;background:#101418;color:#eee;text-align:center;padding-top:4em}
.code{font-size:3em;letter-spacing:.2em;margin:1em}</style>
</head>
<body>
<h1>JellyVR</h1>
<p>Enter this code in Jellyfin under Quick Connect:</p>
<div class="code">{{.Code}}</div>
<p>Waiting for approval...</p>
<script>
var ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/login/ws");
ws.onmessage = function (ev) {
  var st = JSON.parse(ev.data);
  if (st.state !== "pending") { location.reload(); }
};
</script>
</body>
</html>
`))

var dashboardPage = template.Must(template.New("dashboard").Parse(`<!DOCTYPE html>
<html>
<head>
<title>JellyVR</title>
<style>body{font-family:sans-serif;background:#101418;color:#eee;text-align:center;padding-top:4em}
code{font-size:1.4em;background:#1c242c;padding:.2em .5em;border-radius:4px}</style>
</head>
<body>
<h1>JellyVR</h1>
<p>Signed in as <code>{{.Username}}</code></p>
{{if .Password}}
<p>Your HereSphere password is <code>{{.Password}}</code></p>
<p>Write it down. It is shown only this once.</p>
{{else}}
<p>Your HereSphere password was already shown. Log in again if you lost it.</p>
{{end}}
<p>Point HereSphere at <code>{{.Endpoint}}</code></p>
</body>
</html>
`))

var failurePage = template.Must(template.New("failure").Parse(`<!DOCTYPE html>
<html>
<head><title>JellyVR</title>
<style>body{font-family:sans-serif;background:#101418;color:#eee;text-align:center;padding-top:4em}</style>
</head>
<body>
<h1>JellyVR</h1>
<p>{{.Message}}</p>
<p><a href="/" style="color:#8cf">Try again</a></p>
</body>
</html>
`))

// Root drives the browser side of the QuickConnect flow and, once a session
// exists, the credential dashboard.
func Root(mgr *auth.Manager) fiber.Handler {
	return func(c fiber.Ctx) error {
		cookie := c.Cookies(SessionCookie)

		if strings.HasPrefix(cookie, sessionPrefix) {
			sess, err := mgr.SessionByID(strings.TrimPrefix(cookie, sessionPrefix))
			if err == nil {
				return dashboard(c, mgr, sess)
			}
			if !errors.Is(err, store.ErrNotFound) {
				return unavailable(c, err)
			}
			// Session gone; fall through to a fresh login.
		} else if cookie != "" {
			st, err := mgr.PollLogin(c.RequestCtx(), cookie)
			switch {
			case err == nil && st.State == auth.LoginApproved:
				setCookie(c, sessionPrefix+st.Session.ID)
				return dashboard(c, mgr, st.Session)
			case err == nil && st.State == auth.LoginPending:
				return render(c, pendingPage, fiber.Map{"Code": st.Code})
			case err == nil: // expired
			case errors.Is(err, auth.ErrUnknownRequest):
			case errors.Is(err, auth.ErrQuickConnectExpired):
			default:
				return unavailable(c, err)
			}
			// Request expired or unknown; fall through to a fresh login.
		}

		req, err := mgr.StartLogin(c.RequestCtx())
		if err != nil {
			return unavailable(c, err)
		}
		setCookie(c, req.Secret)
		return render(c, pendingPage, fiber.Map{"Code": req.Code})
	}
}

func dashboard(c fiber.Ctx, mgr *auth.Manager, sess *store.Session) error {
	password, err := mgr.RevealPassword(sess.ID)
	if err != nil {
		return unavailable(c, err)
	}
	return render(c, dashboardPage, fiber.Map{
		"Username": sess.Username,
		"Password": password,
		"Endpoint": c.BaseURL() + "/heresphere",
	})
}

func render(c fiber.Ctx, page *template.Template, data fiber.Map) error {
	c.Set("Content-Type", "text/html; charset=utf-8")
	return page.Execute(c.Response().BodyWriter(), data)
}

func unavailable(c fiber.Ctx, err error) error {
	logging.Error("root page failed", "error", err)
	c.Status(fiber.StatusServiceUnavailable)
	return render(c, failurePage, fiber.Map{
		"Message": "The gateway is having trouble reaching Jellyfin or its own storage. Give it a moment.",
	})
}

func setCookie(c fiber.Ctx, value string) {
	c.Cookie(&fiber.Cookie{
		Name:     SessionCookie,
		Value:    value,
		Expires:  time.Now().Add(365 * 24 * time.Hour),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})
}
