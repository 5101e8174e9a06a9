package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds service configuration.
type Config struct {
	ServerAddr  string
	DatabaseURL string
	RedisURL    string
	ReplicaPath string

	// CustomPatterns is an optional JSON document of operator-defined rule
	// sets, mapping game types to pattern expressions.
	CustomPatterns string

	ClaimTimeout      time.Duration
	ReconcileInterval time.Duration
	FlushInterval     time.Duration
	PublishTimeout    time.Duration

	HeartbeatInterval    time.Duration
	LivenessTimeout      time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
}

// Load reads configuration from environment. DATABASE_URL and REDIS_URL may
// be empty, in which case the service falls back to in-process storage and
// transport.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" && os.Getenv("POSTGRES_HOST") != "" {
		user := getenv("POSTGRES_USER", "housie")
		pass := getenv("POSTGRES_PASSWORD", "housie_pass")
		db := getenv("POSTGRES_DB", "housie")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	return &Config{
		ServerAddr:  getenv("SERVER_ADDR", "0.0.0.0:8080"),
		DatabaseURL: dsn,
		RedisURL:    os.Getenv("REDIS_URL"),
		ReplicaPath: getenv("REPLICA_PATH", "housie-replica.db"),

		CustomPatterns: os.Getenv("CUSTOM_PATTERNS"),

		ClaimTimeout:      parseDuration(getenv("CLAIM_TIMEOUT", "10s"), 10*time.Second),
		ReconcileInterval: parseDuration(getenv("RECONCILE_INTERVAL", "2s"), 2*time.Second),
		FlushInterval:     parseDuration(getenv("FLUSH_INTERVAL", "10s"), 10*time.Second),
		PublishTimeout:    parseDuration(getenv("PUBLISH_TIMEOUT", "10s"), 10*time.Second),

		HeartbeatInterval:    parseDuration(getenv("HEARTBEAT_INTERVAL", "15s"), 15*time.Second),
		LivenessTimeout:      parseDuration(getenv("LIVENESS_TIMEOUT", "45s"), 45*time.Second),
		ReconnectBaseDelay:   parseDuration(getenv("RECONNECT_BASE_DELAY", "1s"), time.Second),
		ReconnectMaxDelay:    parseDuration(getenv("RECONNECT_MAX_DELAY", "30s"), 30*time.Second),
		ReconnectMaxAttempts: parseInt(getenv("RECONNECT_MAX_ATTEMPTS", "8"), 8),
	}, nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}
