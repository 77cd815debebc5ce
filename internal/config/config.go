// Package config は環境変数ベースのアプリケーション設定を提供する。
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Relay
	RelayURL            string
	SubscribeLimit      int
	RelayRateLimit      float64
	RelayRateBurst      int
	ProfileCacheSize    int
	ProfileBatchTimeout time.Duration

	// Feed
	MaxVideos              int
	PreloadAhead           int
	PreloadBehind          int
	MaxRetries             int
	PreloadTimeout         time.Duration
	EnableMemoryManagement bool
	MemoryTrimFraction     float64
	PoolCapacity           int

	// Composer
	SocialThreshold int
	Following       []string
	FallbackAuthors []string

	// Database
	DatabasePath string

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.RelayURL = os.Getenv("RELAY_URL")
	if cfg.RelayURL == "" {
		missing = append(missing, "RELAY_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SubscribeLimit = getEnvInt("SUBSCRIBE_LIMIT", 200)
	cfg.RelayRateLimit = getEnvFloat("RELAY_RATE_LIMIT", 2.0)
	cfg.RelayRateBurst = getEnvInt("RELAY_RATE_BURST", 5)
	cfg.ProfileCacheSize = getEnvInt("PROFILE_CACHE_SIZE", 512)
	cfg.ProfileBatchTimeout = getEnvDuration("PROFILE_BATCH_TIMEOUT", 5*time.Second)

	cfg.MaxVideos = getEnvInt("MAX_VIDEOS", 100)
	cfg.PreloadAhead = getEnvInt("PRELOAD_AHEAD", 3)
	cfg.PreloadBehind = getEnvInt("PRELOAD_BEHIND", 2)
	cfg.MaxRetries = getEnvInt("MAX_RETRIES", 3)
	cfg.PreloadTimeout = getEnvDuration("PRELOAD_TIMEOUT", 10*time.Second)
	cfg.EnableMemoryManagement = getEnvBool("ENABLE_MEMORY_MANAGEMENT", true)
	cfg.MemoryTrimFraction = getEnvFloat("MEMORY_TRIM_FRACTION", 0.7)
	cfg.PoolCapacity = getEnvInt("POOL_CAPACITY", 5)

	cfg.SocialThreshold = getEnvInt("SOCIAL_THRESHOLD", 5)
	cfg.Following = getEnvList("FOLLOWING")
	cfg.FallbackAuthors = getEnvList("FALLBACK_AUTHORS")

	cfg.DatabasePath = getEnvString("DATABASE_PATH", "vinefeed.db")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if cfg.MemoryTrimFraction <= 0 || cfg.MemoryTrimFraction > 1 {
		return nil, fmt.Errorf("MEMORY_TRIM_FRACTION must be in (0, 1], got %v", cfg.MemoryTrimFraction)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を文字列スライスとして読み込む。
// 空要素は除去される。未設定の場合は空スライスを返す。
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
