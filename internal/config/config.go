package config

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/utafrali/stockalloc/pkg/config"
)

// Config holds all configuration for the stock allocation service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"STOCKALLOC_HTTP_PORT" envDefault:"8017"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB   string `env:"STOCKALLOC_DB_NAME" envDefault:"stockalloc_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis, for the warehouse directory cache and event deduplication
	RedisHost             string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort             int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword         string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB               int    `env:"REDIS_DB" envDefault:"0"`
	WarehouseCacheTTLSecs int    `env:"WAREHOUSE_CACHE_TTL_SECONDS" envDefault:"300"`
	EventDedupTTLHours    int    `env:"EVENT_DEDUP_TTL_HOURS" envDefault:"24"`

	// Kafka
	KafkaBrokers   []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaEnableDLQ bool     `env:"KAFKA_ENABLE_DLQ" envDefault:"true"`

	// Stock locks
	LockTTLSecs           int `env:"LOCK_TTL_SECONDS" envDefault:"900"`
	LockSweepIntervalSecs int `env:"LOCK_SWEEP_INTERVAL_SECONDS" envDefault:"60"`

	// Order service, used by the checkout paths. Empty disables them.
	OrderServiceURL       string `env:"ORDER_SERVICE_URL" envDefault:"http://localhost:8003"`
	OrderServiceTimeoutMs int    `env:"ORDER_SERVICE_TIMEOUT_MS" envDefault:"5000"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load stockalloc config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 1 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d/%d", c.DBMinConns, c.DBMaxConns)
	}
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.WarehouseCacheTTLSecs <= 0 {
		return fmt.Errorf("WAREHOUSE_CACHE_TTL_SECONDS must be > 0, got %d", c.WarehouseCacheTTLSecs)
	}
	if c.EventDedupTTLHours <= 0 {
		return fmt.Errorf("EVENT_DEDUP_TTL_HOURS must be > 0, got %d", c.EventDedupTTLHours)
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.LockTTLSecs <= 0 {
		return fmt.Errorf("LOCK_TTL_SECONDS must be > 0, got %d", c.LockTTLSecs)
	}
	if c.LockSweepIntervalSecs <= 0 {
		return fmt.Errorf("LOCK_SWEEP_INTERVAL_SECONDS must be > 0, got %d", c.LockSweepIntervalSecs)
	}
	if c.LockSweepIntervalSecs > c.LockTTLSecs {
		return fmt.Errorf("LOCK_SWEEP_INTERVAL_SECONDS (%d) must not exceed LOCK_TTL_SECONDS (%d)", c.LockSweepIntervalSecs, c.LockTTLSecs)
	}
	if c.OrderServiceURL != "" {
		u, err := url.Parse(c.OrderServiceURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("ORDER_SERVICE_URL must be an absolute http(s) URL, got %q", c.OrderServiceURL)
		}
		if c.OrderServiceTimeoutMs <= 0 {
			return fmt.Errorf("ORDER_SERVICE_TIMEOUT_MS must be > 0, got %d", c.OrderServiceTimeoutMs)
		}
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}

// LockTTL returns the lifetime of a held lock.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSecs) * time.Second
}

// LockSweepInterval returns how often expired locks and batches are swept.
func (c *Config) LockSweepInterval() time.Duration {
	return time.Duration(c.LockSweepIntervalSecs) * time.Second
}

// WarehouseCacheTTL returns how long the warehouse directory stays cached.
func (c *Config) WarehouseCacheTTL() time.Duration {
	return time.Duration(c.WarehouseCacheTTLSecs) * time.Second
}

// OrderServiceTimeout returns the per-call timeout towards the order service.
func (c *Config) OrderServiceTimeout() time.Duration {
	return time.Duration(c.OrderServiceTimeoutMs) * time.Millisecond
}

// SlowQueryThreshold returns the duration above which queries are logged.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMs) * time.Millisecond
}
