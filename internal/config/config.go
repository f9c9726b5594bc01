package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	// Jellyfin upstream. ExternalURL is optional; when set, media/image URLs
	// handed to the VR client are rewritten from BaseURL to ExternalURL.
	JellyfinBaseURL     string
	JellyfinExternalURL string

	SQLitePath string

	// QuickConnect
	QuickConnectTimeoutSec int // window before a pending request expires

	// Library index cache
	IndexCacheSec int

	// Playback relay
	ProgressRelaySec  int
	WatchtimeTracking bool

	// Translation
	SubtitleLanguage string // preferred subtitle language (3-letter code), "" = all

	// Images
	ImgQuality  int
	ImgMaxWidth int
}

func Load() Config {
	dbPath := env("SQLITE_PATH", "/var/lib/jellyvr/jellyvr.db")
	_ = os.MkdirAll(filepath.Dir(dbPath), 0755)

	base := strings.TrimRight(env("JELLYFIN_BASE_URL", "http://jellyfin:8096"), "/")
	external := strings.TrimRight(env("JELLYFIN_EXTERNAL_URL", ""), "/")

	cfg := Config{
		JellyfinBaseURL:        base,
		JellyfinExternalURL:    external,
		SQLitePath:             dbPath,
		QuickConnectTimeoutSec: envInt("QUICKCONNECT_TIMEOUT_SEC", 300),
		IndexCacheSec:          envInt("INDEX_CACHE_SEC", 120),
		ProgressRelaySec:       envInt("PROGRESS_RELAY_SEC", 30),
		WatchtimeTracking:      envBool("WATCHTIME_TRACKING", true),
		SubtitleLanguage:       env("SUBTITLE_LANGUAGE", ""),
		ImgQuality:             envInt("IMG_QUALITY", 90),
		ImgMaxWidth:            envInt("IMG_MAX_WIDTH", 300),
	}

	fmt.Printf("[INFO] Using SQLite DB at: %s\n", dbPath)
	fmt.Printf("[INFO] Jellyfin Base URL: %s\n", base)
	if external != "" {
		fmt.Printf("[INFO] Jellyfin External URL: %s\n", external)
	}
	return cfg
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
