// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Upstream Galaxy user API
	GalaxyAPIURL     string        `env:"GALAXY_API_URL"`
	GalaxyAPIKey     string        `env:"GALAXY_API_KEY"`
	GalaxyAPITimeout time.Duration `env:"GALAXY_API_TIMEOUT" default:"10s"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	SessionSecret string        `env:"SESSION_SECRET"`
	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" default:"168h"` // 7 days

	// Per-IP rate limit on favorite mutation routes
	MutationRatePerSecond float64 `env:"MUTATION_RATE_PER_SECOND" default:"5"`
	MutationRateBurst     int     `env:"MUTATION_RATE_BURST" default:"10"`
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
	required := map[string]string{
		"GALAXY_API_URL": cfg.GalaxyAPIURL,
		"GALAXY_API_KEY": cfg.GalaxyAPIKey,
		"DATABASE_URL":   cfg.DatabaseURL,
		"SESSION_SECRET": cfg.SessionSecret,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	// Redis is optional: without it, user-change events stay instance-local.

	if len(cfg.SessionSecret) < 16 {
		return fmt.Errorf("SESSION_SECRET must be at least 16 characters")
	}
	if cfg.GalaxyAPITimeout <= 0 {
		return fmt.Errorf("GALAXY_API_TIMEOUT must be positive")
	}

	return nil
}
