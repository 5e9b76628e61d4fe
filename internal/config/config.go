package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseURL string

	BoardCacheTTL   time.Duration
	MetaCacheTTL    time.Duration
	CacheMaxEntries int

	RateLimitPerMinute     int
	RateLimitBurst         int
	ViewRateLimitPerMinute int
	ViewRateLimitBurst     int
}

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	return Config{
		Port:                   port,
		DatabaseURL:            os.Getenv("DB_DSN"),
		BoardCacheTTL:          readDurationSeconds("BOARD_CACHE_TTL_SECONDS", 5),
		MetaCacheTTL:           readDurationSeconds("META_CACHE_TTL_SECONDS", 120),
		CacheMaxEntries:        readInt("CACHE_MAX_ENTRIES", 4096),
		RateLimitPerMinute:     readInt("RATE_LIMIT_PER_MIN", 240),
		RateLimitBurst:         readInt("RATE_LIMIT_BURST", 60),
		ViewRateLimitPerMinute: readInt("VIEW_RATE_LIMIT_PER_MIN", 600),
		ViewRateLimitBurst:     readInt("VIEW_RATE_LIMIT_BURST", 120),
	}
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
