// Package config loads pipeline configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	LogEndpoint       string        `env:"BEACON_LOG_ENDPOINT" envDefault:"http://localhost:8000/api/logs/frontend"`
	ExceptionEndpoint string        `env:"BEACON_EXCEPTION_ENDPOINT" envDefault:"http://localhost:8000/api/errors/frontend"`
	DBPath            string        `env:"BEACON_DB_PATH" envDefault:"beacon.db"`
	ConsoleLevel      string        `env:"BEACON_CONSOLE_LEVEL" envDefault:"warning"`
	SinkLevel         string        `env:"BEACON_SINK_LEVEL" envDefault:"info"`
	BatchSize         int           `env:"BEACON_BATCH_SIZE" envDefault:"50"`
	MaxQueue          int           `env:"BEACON_MAX_QUEUE" envDefault:"1000"`
	FlushInterval     time.Duration `env:"BEACON_FLUSH_INTERVAL" envDefault:"5s"`
	DedupWindow       time.Duration `env:"BEACON_DEDUP_WINDOW" envDefault:"10s"`
	RecoveryEnabled   bool          `env:"BEACON_RECOVERY" envDefault:"true"`
	CacheTTL          time.Duration `env:"BEACON_CACHE_TTL" envDefault:"5m"`
	DashboardAddr     string        `env:"BEACON_DASHBOARD_ADDR" envDefault:"127.0.0.1:4545"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
