package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries the backend's environment knobs. DatabaseURL and RedisURL
// may be empty: the server then falls back to in-memory storage, which is
// what local development and the test suite use.
type Config struct {
	Addr        string
	DatabaseURL string
	RedisURL    string
	CORSOrigin  string
	Debounce    time.Duration
	MaxHistory  int
	SnapshotTTL time.Duration
}

func Load() Config {
	return Config{
		Addr:        getenv("GRIDSYNC_ADDR", ":8686"),
		DatabaseURL: getenv("DATABASE_URL", ""),
		RedisURL:    getenv("REDIS_URL", ""),
		CORSOrigin:  getenv("GRIDSYNC_CORS_ORIGIN", "*"),
		Debounce:    time.Duration(getenvInt("GRIDSYNC_DEBOUNCE_MS", 1500)) * time.Millisecond,
		MaxHistory:  getenvInt("GRIDSYNC_MAX_HISTORY", 50),
		SnapshotTTL: time.Duration(getenvInt("GRIDSYNC_SNAPSHOT_TTL_SECONDS", 3600)) * time.Second,
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
