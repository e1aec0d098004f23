// Package config loads gateway configuration from the environment, with
// an optional YAML profile for per-key rate limit overrides.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds server configuration.
type Config struct {
	Addr     string
	LogLevel string

	// Maximum clock skew accepted on X-Timestamp. The shared HMAC
	// secret itself is resolved through credentials.SecretSource, not
	// here.
	ClockSkew time.Duration

	// Per-key daily request limit.
	DailyLimit int64
	// Optional YAML file with per-key limit overrides.
	LimitsFile string

	// Reliability wrapper policy.
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Daily budget for the metered summarization dependency.
	SummaryBudget int64

	IdempotencyTTL  time.Duration
	DispatchTimeout time.Duration

	// Optional backends. Empty means in-memory.
	RedisAddr   string
	DatabaseURL string

	// Optional OTLP metrics endpoint. Empty disables telemetry.
	OTELEndpoint string
}

// Load reads configuration from environment variables, applying
// defaults everywhere.
func Load() (*Config, error) {
	cfg := &Config{
		Addr:             envOr("GATEWAY_ADDR", ":8080"),
		LogLevel:         envOr("LOG_LEVEL", "INFO"),
		ClockSkew:        envDuration("GATEWAY_CLOCK_SKEW", 300*time.Second),
		DailyLimit:       envInt64("GATEWAY_DAILY_LIMIT", 100),
		LimitsFile:       os.Getenv("GATEWAY_LIMITS_FILE"),
		RetryMaxAttempts: int(envInt64("GATEWAY_RETRY_MAX_ATTEMPTS", 3)),
		RetryBaseDelay:   envDuration("GATEWAY_RETRY_BASE_DELAY", 100*time.Millisecond),
		RetryMaxDelay:    envDuration("GATEWAY_RETRY_MAX_DELAY", 5*time.Second),
		BreakerThreshold: int(envInt64("GATEWAY_BREAKER_THRESHOLD", 5)),
		BreakerCooldown:  envDuration("GATEWAY_BREAKER_COOLDOWN", 60*time.Second),
		SummaryBudget:    envInt64("GATEWAY_SUMMARY_BUDGET", 50),
		IdempotencyTTL:   envDuration("GATEWAY_IDEMPOTENCY_TTL", 24*time.Hour),
		DispatchTimeout:  envDuration("GATEWAY_DISPATCH_TIMEOUT", 30*time.Second),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		OTELEndpoint:     os.Getenv("OTEL_ENDPOINT"),
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	// Accept both Go durations ("5m") and bare seconds ("300").
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
