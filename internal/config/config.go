package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends for sessions.
const (
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

type Config struct {
	Port           string        `env:"PORT" envDefault:"8080"`
	Environment    string        `env:"ENVIRONMENT" envDefault:"development"`
	LogLevelName   string        `env:"LOG_LEVEL" envDefault:"info"`
	LogLevel       slog.Level    `env:"-"`
	RedisURL       string        `env:"REDIS_URL" envDefault:"localhost:6379"`
	DataDir        string        `env:"DATA_DIR" envDefault:"./data"`
	StorageBackend string        `env:"STORAGE_BACKEND" envDefault:"redis"`
	SQLitePath     string        `env:"SQLITE_PATH" envDefault:"./data/saves.db"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"24h"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))

	switch cfg.StorageBackend {
	case BackendRedis, BackendSQLite:
	default:
		return nil, fmt.Errorf("invalid STORAGE_BACKEND %q: must be %s or %s", cfg.StorageBackend, BackendRedis, BackendSQLite)
	}
	if cfg.SessionTTL < 0 {
		return nil, fmt.Errorf("invalid SESSION_TTL %s: must not be negative", cfg.SessionTTL)
	}

	return &cfg, nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
