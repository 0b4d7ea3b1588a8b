// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN for the analytical and control-plane stores.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis address for the time-series store and the shared dedup window (e.g. localhost:6379).
	// Empty means in-memory dedup and a disabled metric store (single-process/dev mode).
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the optional Redis AUTH password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	// Empty means the in-memory queue is used (single-process/dev mode).
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// KafkaTopicPrefix prefixes the per-type topics (e.g. "tip" -> tip.logs, tip.metrics, ...).
	KafkaTopicPrefix string `mapstructure:"KAFKA_TOPIC_PREFIX"`
	// KafkaGroupID is the consumer group ID for the normalizer workers.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// RateCapacity is the default org token-bucket capacity (burst size). Per-org overrides win.
	RateCapacity int `mapstructure:"RATE_CAPACITY"`
	// RateRefillPerSec is the default org bucket refill rate in tokens per second. Per-org overrides win.
	RateRefillPerSec float64 `mapstructure:"RATE_REFILL_PER_SEC"`
	// AddrRateCapacity is the per-source-address bucket capacity.
	AddrRateCapacity int `mapstructure:"ADDR_RATE_CAPACITY"`
	// AddrRateRefillPerSec is the per-source-address bucket refill rate in tokens per second.
	AddrRateRefillPerSec float64 `mapstructure:"ADDR_RATE_REFILL_PER_SEC"`

	// DedupWindow is how long an idempotency key suppresses duplicates (e.g. "24h").
	DedupWindow string `mapstructure:"DEDUP_WINDOW"`
	// ReplayWindow is the max allowed skew between x-timestamp and server time for signed requests (e.g. "5m").
	ReplayWindow string `mapstructure:"REPLAY_WINDOW"`
	// EnqueueTimeout bounds how long the gateway blocks on a queue publish before failing the request (e.g. "5s").
	EnqueueTimeout string `mapstructure:"ENQUEUE_TIMEOUT"`
	// StoreWriteTimeout bounds a single store write from the normalizer (e.g. "10s").
	StoreWriteTimeout string `mapstructure:"STORE_WRITE_TIMEOUT"`
	// MaxBodyBytes caps the ingest request body size.
	MaxBodyBytes int64 `mapstructure:"MAX_BODY_BYTES"`

	// NormalizerWorkers is the number of queue consumers in the worker process.
	NormalizerWorkers int `mapstructure:"NORMALIZER_WORKERS"`
	// NormalizerBatchSize is the max events pulled per batch.
	NormalizerBatchSize int `mapstructure:"NORMALIZER_BATCH_SIZE"`

	// ScrubHashSecret enables reversible-hash redaction markers when set: each marker carries a short
	// keyed hash of the original value so redacted values can still be correlated. Empty disables it.
	ScrubHashSecret string `mapstructure:"SCRUB_HASH_SECRET"`
	// GeoIPDBPath is the path to a MaxMind GeoIP2/GeoLite2 City database. Empty disables geolocation.
	GeoIPDBPath string `mapstructure:"GEOIP_DB_PATH"`

	// OTLPEndpoint is the OTLP gRPC endpoint for self-observability exports. Empty means no-op providers.
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export even for https endpoints.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC_PREFIX", "tip")
	v.SetDefault("KAFKA_GROUP_ID", "tip-normalizer")
	v.SetDefault("RATE_CAPACITY", 200)
	v.SetDefault("RATE_REFILL_PER_SEC", 100.0)
	v.SetDefault("ADDR_RATE_CAPACITY", 500)
	v.SetDefault("ADDR_RATE_REFILL_PER_SEC", 250.0)
	v.SetDefault("DEDUP_WINDOW", "24h")
	v.SetDefault("REPLAY_WINDOW", "5m")
	v.SetDefault("ENQUEUE_TIMEOUT", "5s")
	v.SetDefault("STORE_WRITE_TIMEOUT", "10s")
	v.SetDefault("MAX_BODY_BYTES", 1<<20)
	v.SetDefault("NORMALIZER_WORKERS", 4)
	v.SetDefault("NORMALIZER_BATCH_SIZE", 100)
	v.SetDefault("SCRUB_HASH_SECRET", "")
	v.SetDefault("GEOIP_DB_PATH", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.RateCapacity <= 0 {
		return nil, errors.New("config: RATE_CAPACITY must be positive")
	}
	if cfg.RateRefillPerSec <= 0 {
		return nil, errors.New("config: RATE_REFILL_PER_SEC must be positive")
	}
	if cfg.AddrRateCapacity <= 0 {
		return nil, errors.New("config: ADDR_RATE_CAPACITY must be positive")
	}
	if cfg.AddrRateRefillPerSec <= 0 {
		return nil, errors.New("config: ADDR_RATE_REFILL_PER_SEC must be positive")
	}
	if cfg.NormalizerWorkers <= 0 {
		cfg.NormalizerWorkers = 4
	}
	if cfg.NormalizerBatchSize <= 0 {
		cfg.NormalizerBatchSize = 100
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}

	return &cfg, nil
}

// DedupWindowDuration parses DedupWindow as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) DedupWindowDuration() time.Duration {
	d, err := time.ParseDuration(c.DedupWindow)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// ReplayWindowDuration parses ReplayWindow as a time.Duration. Returns 5m if unset or invalid.
func (c *Config) ReplayWindowDuration() time.Duration {
	d, err := time.ParseDuration(c.ReplayWindow)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// EnqueueTimeoutDuration parses EnqueueTimeout as a time.Duration. Returns 5s if unset or invalid.
func (c *Config) EnqueueTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.EnqueueTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// StoreWriteTimeoutDuration parses StoreWriteTimeout as a time.Duration. Returns 10s if unset or invalid.
func (c *Config) StoreWriteTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.StoreWriteTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide between the Kafka queue (non-empty list) and the in-memory queue.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
