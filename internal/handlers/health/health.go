package health

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"jellyvr/internal/logging"
	"jellyvr/internal/store"
)

type Status struct {
	OK        bool           `json:"ok"`
	Timestamp string         `json:"timestamp"`
	Database  DatabaseHealth `json:"database"`
}

type DatabaseHealth struct {
	OK             bool   `json:"ok"`
	Error          string `json:"error,omitempty"`
	ConnectionTime string `json:"connection_time"`
	SessionCount   int    `json:"session_count"`
	PlaybackCount  int    `json:"playback_count"`
}

// Health reports liveness with no side effects. Only the store is probed;
// Jellyfin being down is a degraded state the endpoints surface themselves,
// not a reason for orchestration to restart the gateway.
func Health(st *store.Store) fiber.Handler {
	return func(c fiber.Ctx) error {
		status := Status{
			OK:        true,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}

		dbStart := time.Now()
		err := st.DB().Ping()
		status.Database.ConnectionTime = time.Since(dbStart).String()
		if err != nil {
			status.OK = false
			status.Database.Error = err.Error()
			logging.Debug("health db ping failed", "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(status)
		}
		status.Database.OK = true

		if n, err := st.SessionCount(); err == nil {
			status.Database.SessionCount = n
		}
		if n, err := st.PlaybackCount(); err == nil {
			status.Database.PlaybackCount = n
		}
		return c.JSON(status)
	}
}
