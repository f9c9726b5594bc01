package main

import (
	"context"
	"log"
	"os"
	"time"

	"jellyvr/internal/auth"
	"jellyvr/internal/config"
	"jellyvr/internal/handlers/health"
	"jellyvr/internal/handlers/hsapi"
	"jellyvr/internal/handlers/web"
	"jellyvr/internal/heresphere"
	"jellyvr/internal/jellyfin"
	"jellyvr/internal/logging"
	"jellyvr/internal/playback"
	"jellyvr/internal/store"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"
	ws "github.com/saveblush/gofiber3-contrib/websocket"
)

func main() {
	_ = godotenv.Load()

	// ---- Config & Logging ----
	cfg := config.Load()
	logging.SetDefault(logging.NewLogger(logging.FromEnv()))

	// ---- Store & Migrations ----
	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	if err := store.MigrateUp("sqlite://" + cfg.SQLitePath); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// ---- Upstream Client & Core Components ----
	jf := jellyfin.New(cfg.JellyfinBaseURL, cfg.JellyfinExternalURL)
	mgr := auth.New(st, jf, time.Duration(cfg.QuickConnectTimeoutSec)*time.Second)

	tr := heresphere.NewTranslator(jf, cfg.SubtitleLanguage, jellyfin.ImageOpts{
		MaxWidth: cfg.ImgMaxWidth,
		Quality:  cfg.ImgQuality,
	})
	catalog := heresphere.NewCatalog(st, jf, tr, time.Duration(cfg.IndexCacheSec)*time.Second)

	tracker := playback.New(st, jf)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tracker.StartRelayWorker(ctx)
	if cfg.WatchtimeTracking {
		tracker.StartEstimator(ctx, time.Duration(cfg.ProgressRelaySec)*time.Second)
	}

	// ---- Library-change listener ----
	// Jellyfin's socket needs a user token, so the listener waits for the
	// first session before connecting.
	go watchLibrary(ctx, st, cfg.JellyfinBaseURL, catalog)

	// ---- Fiber v3 App ----
	app := fiber.New(fiber.Config{
		EnableIPValidation: true,
		ProxyHeader:        fiber.HeaderXForwardedFor,
	})
	app.Use(recover.New())
	app.Use(logging.FiberMiddleware(logging.Default()))

	// ---- Routes ----
	app.Get("/", web.Root(mgr))
	app.Get("/login/ws", func(c fiber.Ctx) error {
		if ws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, web.LoginWS(mgr))

	deps := hsapi.Deps{Auth: mgr, Catalog: catalog, Tracker: tracker, JF: jf}
	app.Post("/heresphere", hsapi.Library(deps))
	app.Get("/heresphere", hsapi.Library(deps))
	app.Post("/heresphere/scan", hsapi.Scan(deps))
	app.Post("/heresphere/events/:sid/:vid", hsapi.Events(deps))
	app.Post("/heresphere/:id", hsapi.Video(deps))
	app.Get("/heresphere/:id", hsapi.Video(deps))

	app.Get("/health", health.Health(st))

	// ---- Start Server ----
	addr := ":3000"
	if p := os.Getenv("PORT"); p != "" {
		addr = ":" + p
	}
	log.Printf("Starting jellyvr gateway on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatal(err)
	}
}

// watchLibrary connects to Jellyfin's websocket with the first available
// session token and invalidates the translated-index cache on library
// changes. Until a session exists there is nothing cached to invalidate.
func watchLibrary(ctx context.Context, st *store.Store, baseURL string, catalog *heresphere.Catalog) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		sessions, err := st.Sessions()
		if err == nil && len(sessions) > 0 {
			sock := &jellyfin.WS{
				BaseURL: baseURL,
				Token:   sessions[0].AccessToken,
				Handler: func(messageType string) {
					logging.Info("library change reported, invalidating cache", "type", messageType)
					catalog.Invalidate()
				},
			}
			sock.Start(ctx)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
