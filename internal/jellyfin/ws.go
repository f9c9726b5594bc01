package jellyfin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"jellyvr/internal/logging"

	"github.com/gorilla/websocket"
)

// WS listens on Jellyfin's websocket for library changes so the cached
// translated index can be invalidated instead of waiting out its TTL.
// The token must belong to an authenticated session; the listener
// reconnects with backoff until its context is cancelled.
type WS struct {
	BaseURL string
	Token   string
	// Handler is invoked for LibraryChanged and UserDataChanged messages.
	Handler func(messageType string)

	conn   *websocket.Conn
	cancel context.CancelFunc
}

type wsMessage struct {
	MessageType string          `json:"MessageType"`
	Data        json.RawMessage `json:"Data"`
}

func (w *WS) dial() (*websocket.Conn, *http.Response, error) {
	u, err := url.Parse(w.BaseURL)
	if err != nil {
		return nil, nil, err
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/socket"
	q := u.Query()
	q.Set("api_key", w.Token)
	q.Set("deviceId", "jellyvr-gateway")
	u.RawQuery = q.Encode()

	dialer := &websocket.Dialer{
		HandshakeTimeout:  15 * time.Second,
		EnableCompression: true,
	}
	header := http.Header{"Accept": []string{"application/json"}}
	return dialer.Dial(u.String(), header)
}

func (w *WS) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go func() {
		defer func() {
			if w.conn != nil {
				w.conn.Close()
			}
		}()

		retry := 2 * time.Second
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			c, _, err := w.dial()
			if err != nil {
				logging.Debug("jellyfin ws dial failed", "error", err)
				time.Sleep(retry)
				if retry < 30*time.Second {
					retry *= 2
				}
				continue
			}
			w.conn = c
			retry = 2 * time.Second
			logging.Info("jellyfin ws connected")

			// Keep the socket alive; Jellyfin drops silent connections.
			keepAlive := `{"MessageType":"KeepAlive"}`
			if err := w.conn.WriteMessage(websocket.TextMessage, []byte(keepAlive)); err != nil {
				logging.Debug("jellyfin ws keepalive failed", "error", err)
			}

			for {
				_, p, err := c.ReadMessage()
				if err != nil {
					logging.Debug("jellyfin ws read error", "error", err)
					break
				}
				var msg wsMessage
				if err := json.Unmarshal(p, &msg); err != nil {
					continue
				}
				switch msg.MessageType {
				case "ForceKeepAlive", "KeepAlive":
					_ = c.WriteMessage(websocket.TextMessage, []byte(keepAlive))
				case "LibraryChanged", "UserDataChanged":
					if w.Handler != nil {
						w.Handler(msg.MessageType)
					}
				}
			}
			logging.Info("jellyfin ws connection lost, reconnecting")
			time.Sleep(retry)
		}
	}()
}

func (w *WS) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
}
