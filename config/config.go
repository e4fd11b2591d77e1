// Package config reads the gateway configuration from environment
// variables with sane defaults. There is no config file: the binary is
// meant to run in containers where env is the interface.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Fetch     FetchConfig
	Cache     CacheConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the shared Chromium instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages is the page pool capacity (max concurrent tabs).
	MaxPages int // default: 5

	// WarmPages is the number of pages opened at startup.
	WarmPages int // default: 3

	// QueueTimeout bounds the wait for a free page.
	QueueTimeout time.Duration // default: 30s

	// Proxy is the default proxy URL for browser traffic.
	Proxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// Bin overrides the Chromium binary path.
	Bin string
}

// FetchConfig controls the HTTP rungs.
type FetchConfig struct {
	// AllowLocal disables SSRF protection for loopback and private
	// targets. Only for self-hosted deployments peeling intranet pages.
	AllowLocal bool // default: false
}

// CacheConfig controls both cache tiers.
type CacheConfig struct {
	// RedisURL enables the L2 tier when set (redis:// or rediss://).
	RedisURL string

	MaxEntries int           // L1 entry cap; default: 1000
	MaxBytes   int64         // L1 byte cap; default: 256 MiB
	MemoryTTL  time.Duration // default: 5m
	RedisTTL   time.Duration // default: 15m

	// ErrorCooldown is how long a failed fetch suppresses retries.
	ErrorCooldown time.Duration // default: 30s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true when keys are configured

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging. DEBUG=1 forces level debug.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host: envOr("WEBPEEL_HOST", "0.0.0.0"),
			Port: envIntOr("WEBPEEL_PORT", 8080),
			Mode: envOr("WEBPEEL_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("WEBPEEL_HEADLESS", true),
			MaxPages:     envIntOr("WEBPEEL_MAX_PAGES", 5),
			WarmPages:    envIntOr("WEBPEEL_WARM_PAGES", 3),
			QueueTimeout: envDurationOr("WEBPEEL_QUEUE_TIMEOUT", 30*time.Second),
			Proxy:        os.Getenv("WEBPEEL_PROXY"),
			NoSandbox:    envBoolOr("WEBPEEL_NO_SANDBOX", false),
			Bin:          os.Getenv("WEBPEEL_BROWSER_BIN"),
		},
		Fetch: FetchConfig{
			AllowLocal: envBoolOr("WEBPEEL_ALLOW_LOCAL", false),
		},
		Cache: CacheConfig{
			RedisURL:      envOr("REDIS_URL", os.Getenv("WEBPEEL_REDIS_URL")),
			MaxEntries:    envIntOr("WEBPEEL_CACHE_ENTRIES", 1000),
			MaxBytes:      int64(envIntOr("WEBPEEL_CACHE_MB", 256)) << 20,
			MemoryTTL:     envDurationOr("WEBPEEL_CACHE_TTL", 5*time.Minute),
			RedisTTL:      envDurationOr("WEBPEEL_REDIS_TTL", 15*time.Minute),
			ErrorCooldown: envDurationOr("WEBPEEL_ERROR_COOLDOWN", 30*time.Second),
		},
		Auth: AuthConfig{
			APIKeys: envSliceOr("WEBPEEL_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("WEBPEEL_RATE_RPS", 5.0),
			Burst:             envIntOr("WEBPEEL_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("WEBPEEL_LOG_LEVEL", "info"),
			Format: envOr("WEBPEEL_LOG_FORMAT", "json"),
		},
	}
	cfg.Auth.Enabled = envBoolOr("WEBPEEL_AUTH_ENABLED", len(cfg.Auth.APIKeys) > 0)
	if envBoolOr("DEBUG", false) {
		cfg.Log.Level = "debug"
	}
	return cfg
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
