package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the router worker.
type Config struct {
	Port     string
	Env      string
	RedisURL string

	// Streams and consumer group
	InboundStream  string
	OutboundStream string
	ConsumerGroup  string
	ConsumerName   string // empty means generate one per process
	PollInterval   time.Duration
	ReclaimIdle    time.Duration
	ReclaimBatch   int64
	StatusTTL      time.Duration
	RestartDelay   time.Duration

	// Outbound dedup and publishing
	DedupEnabled       bool
	DedupTTL           time.Duration
	DedupFailOpen      bool
	PublishMaxAttempts int
	PublishBackoff     time.Duration

	// Knowledge base
	KnowledgeBackend string // "redis", "postgres" or "sqlite"
	DatabaseURL      string
	SQLitePath       string
	KnowledgeFile    string

	// Replies
	SupportPhone string
	SupportEmail string
	SalesReply   string

	// Ingest rate limiting
	IngestRateLimit    int      // requests per minute per IP
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		InboundStream:  getEnv("INBOUND_STREAM", "omni.messages"),
		OutboundStream: getEnv("OUTBOUND_STREAM", "omni.outbox"),
		ConsumerGroup:  getEnv("CONSUMER_GROUP", "router"),
		ConsumerName:   os.Getenv("CONSUMER_NAME"),
		PollInterval:   getMillis("POLL_MS", 250),
		ReclaimIdle:    getMillis("RECLAIM_IDLE_MS", 5000),
		ReclaimBatch:   int64(getInt("RECLAIM_BATCH", 100)),
		StatusTTL:      time.Duration(getInt("STATUS_TTL_HOURS", 24)) * time.Hour,
		RestartDelay:   getMillis("RESTART_DELAY_MS", 1000),

		DedupEnabled:       getBool("DEDUP_ENABLED", true),
		DedupTTL:           time.Duration(getInt("DEDUP_TTL_SECONDS", 600)) * time.Second,
		DedupFailOpen:      getBool("DEDUP_FAIL_OPEN", true),
		PublishMaxAttempts: getInt("PUBLISH_MAX_ATTEMPTS", 3),
		PublishBackoff:     getMillis("PUBLISH_BACKOFF_MS", 50),

		KnowledgeBackend: strings.ToLower(getEnv("KNOWLEDGE_BACKEND", "redis")),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       os.Getenv("SQLITE_PATH"),
		KnowledgeFile:    os.Getenv("KNOWLEDGE_FILE"),

		SupportPhone: getEnv("SUPPORT_PHONE", "+55 11 4000-0000"),
		SupportEmail: getEnv("SUPPORT_EMAIL", "suporte@example.com"),
		SalesReply:   os.Getenv("SALES_REPLY"),

		IngestRateLimit: getInt("INGEST_RATE_LIMIT", 120),
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// In production, require an explicit redis URL
	if cfg.Env == "production" && os.Getenv("REDIS_URL") == "" {
		panic("REDIS_URL is required in production")
	}
	if cfg.KnowledgeBackend == "postgres" && cfg.DatabaseURL == "" {
		panic("DATABASE_URL is required for KNOWLEDGE_BACKEND=postgres")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getInt(key, defaultValue)) * time.Millisecond
}
