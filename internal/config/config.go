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

	// Key used to verify externally issued identity tokens. The core never
	// issues tokens.
	TokenSigningKey string `env:"TOKEN_SIGNING_KEY"`

	// Command lifecycle knobs.
	CommandTimeout    time.Duration `env:"COMMAND_TIMEOUT" default:"60s"`
	CommandMaxRetries int           `env:"COMMAND_MAX_RETRIES" default:"3"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" default:"15s"`

	// Activation window granted on claim.
	ActivationValidity time.Duration `env:"ACTIVATION_VALIDITY" default:"8760h"` // 1 year

	// Connection limits for the websocket surface.
	MaxConnections      int64   `env:"MAX_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP int     `env:"MAX_CONNECTIONS_PER_IP" default:"20"`
	ConnectionsPerSec   float64 `env:"CONNECTIONS_PER_SEC" default:"10"`
	ConnectionBurst     int     `env:"CONNECTION_BURST" default:"10"`

	// Per-device report rate limiting.
	ReportBurst         int `env:"REPORT_BURST" default:"30"`
	ReportRatePerMinute int `env:"REPORT_RATE_PER_MINUTE" default:"60"`
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
		"DATABASE_URL":      cfg.DatabaseURL,
		"REDIS_URL":         cfg.RedisURL,
		"TOKEN_SIGNING_KEY": cfg.TokenSigningKey,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	if len(cfg.TokenSigningKey) < 32 {
		return fmt.Errorf("TOKEN_SIGNING_KEY must be at least 32 characters, got %d", len(cfg.TokenSigningKey))
	}
	if cfg.CommandMaxRetries < 0 {
		return fmt.Errorf("COMMAND_MAX_RETRIES must not be negative")
	}
	if cfg.CommandTimeout <= 0 {
		return fmt.Errorf("COMMAND_TIMEOUT must be positive")
	}

	return nil
}
