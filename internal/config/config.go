package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	DriverSqlite   = "sqlite"
	DriverPostgres = "postgres"

	BusMemory = "memory"
	BusRedis  = "redis"
)

// Config is the process configuration, loaded from environment variables.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseDSN    string `env:"DATABASE_DSN" envDefault:"file:auctions.db?_busy_timeout=5000"`
	// SearchDSN is the replica database. The search service owns its own store.
	SearchDSN string `env:"SEARCH_DSN" envDefault:"file:search.db?_busy_timeout=5000"`

	BusDriver     string `env:"BUS_DRIVER" envDefault:"memory"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	StreamPrefix  string `env:"BUS_STREAM_PREFIX" envDefault:"auction"`
	ConsumerGroup string `env:"BUS_CONSUMER_GROUP" envDefault:"search"`
	ConsumerName  string `env:"BUS_CONSUMER_NAME" envDefault:"search-1"`
	BusWorkers    int    `env:"BUS_WORKERS" envDefault:"4"`

	MaxDeliveries int           `env:"BUS_MAX_DELIVERIES" envDefault:"5"`
	RetryBackoff  time.Duration `env:"BUS_RETRY_BACKOFF" envDefault:"200ms"`
	MaxBackoff    time.Duration `env:"BUS_MAX_BACKOFF" envDefault:"10s"`

	PollInterval time.Duration `env:"FINALIZE_POLL_INTERVAL" envDefault:"5s"`
	TickBudget   time.Duration `env:"FINALIZE_TICK_BUDGET" envDefault:"4s"`
	CallTimeout  time.Duration `env:"FINALIZE_CALL_TIMEOUT" envDefault:"2s"`
	BatchSize    int           `env:"FINALIZE_BATCH_SIZE" envDefault:"100"`
	RelayGrace   time.Duration `env:"OUTBOX_RELAY_GRACE" envDefault:"30s"`

	PublishTimeout   time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"3s"`
	ProjectorStripes int           `env:"PROJECTOR_STRIPES" envDefault:"64"`
}

// Load parses the environment into a validated Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case DriverSqlite, DriverPostgres:
	default:
		return fmt.Errorf("config: unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	switch c.BusDriver {
	case BusMemory, BusRedis:
	default:
		return fmt.Errorf("config: unsupported BUS_DRIVER %q", c.BusDriver)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("config: FINALIZE_POLL_INTERVAL must be positive")
	}
	if c.TickBudget <= 0 || c.TickBudget > c.PollInterval {
		return fmt.Errorf("config: FINALIZE_TICK_BUDGET must be positive and not exceed the poll interval")
	}
	if c.CallTimeout <= 0 || c.PublishTimeout <= 0 {
		return fmt.Errorf("config: call and publish timeouts must be positive")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: FINALIZE_BATCH_SIZE must be at least 1")
	}
	if c.MaxDeliveries < 1 {
		return fmt.Errorf("config: BUS_MAX_DELIVERIES must be at least 1")
	}
	if c.BusWorkers < 1 || c.ProjectorStripes < 1 {
		return fmt.Errorf("config: BUS_WORKERS and PROJECTOR_STRIPES must be at least 1")
	}
	return nil
}
