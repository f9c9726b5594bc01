package web

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	ws "github.com/saveblush/gofiber3-contrib/websocket"

	"jellyvr/internal/auth"
	"jellyvr/internal/logging"
)

const loginPollInterval = 2 * time.Second

type loginMessage struct {
	State string `json:"state"`
	Code  string `json:"code,omitempty"`
}

// LoginWS pushes QuickConnect status to the pending page so the browser can
// reload the moment the code is approved. Polling state lives in the store,
// so a dropped socket changes nothing; the page's meta refresh is the
// fallback.
func LoginWS(mgr *auth.Manager) fiber.Handler {
	return ws.New(func(conn *ws.Conn) {
		defer conn.Close()

		secret := conn.Cookies(SessionCookie)
		if secret == "" || strings.HasPrefix(secret, sessionPrefix) {
			_ = conn.WriteJSON(loginMessage{State: "approved"})
			return
		}

		ticker := time.NewTicker(loginPollInterval)
		defer ticker.Stop()

		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			st, err := mgr.PollLogin(ctx, secret)
			cancel()
			if err != nil {
				logging.Debug("login ws poll failed", "error", err)
				_ = conn.WriteJSON(loginMessage{State: "expired"})
				return
			}
			switch st.State {
			case auth.LoginApproved:
				_ = conn.WriteJSON(loginMessage{State: "approved"})
				return
			case auth.LoginExpired:
				_ = conn.WriteJSON(loginMessage{State: "expired"})
				return
			default:
				if err := conn.WriteJSON(loginMessage{State: "pending", Code: st.Code}); err != nil {
					return
				}
			}
		}
	})
}
