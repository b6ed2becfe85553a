package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" default:"development"`
	Port        string `env:"PORT" default:"8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	// HealthInterval is the period of the system_health broadcast.
	HealthInterval time.Duration `env:"HEALTH_INTERVAL" default:"30s"`

	// WSMessageRate and WSMessageBurst bound inbound messages per connection.
	WSMessageRate  float64 `env:"WS_MESSAGE_RATE" default:"10"`
	WSMessageBurst int     `env:"WS_MESSAGE_BURST" default:"20"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.HealthInterval < time.Second {
		return fmt.Errorf("HEALTH_INTERVAL must be at least 1s, got %s", cfg.HealthInterval)
	}
	if cfg.WSMessageRate <= 0 || cfg.WSMessageBurst <= 0 {
		return fmt.Errorf("WS_MESSAGE_RATE and WS_MESSAGE_BURST must be positive")
	}
	return nil
}
