package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix namespaces every environment override.
const EnvPrefix = "CERTLEDGER_"

// Load reads ~/.certledger/config.yaml and secrets.yaml, then applies .env
// files and CERTLEDGER_* environment overrides on top.
func Load() (*LocalConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := LoadLocalConfig()
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotEnv loads .env from the working directory and the config dir.
// Variables already set in the environment win.
func loadDotEnv() error {
	paths := []string{".env"}
	if dir, err := Dir(); err == nil {
		paths = append(paths, filepath.Join(dir, ".env"))
	}

	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// applyEnv overrides file values with CERTLEDGER_* variables
func applyEnv(cfg *LocalConfig) {
	cfg.Daemon.Port = getEnvInt(EnvPrefix+"PORT", cfg.Daemon.Port)
	cfg.Daemon.Bind = getEnv(EnvPrefix+"BIND", cfg.Daemon.Bind)
	cfg.Daemon.LogLevel = getEnv(EnvPrefix+"LOG_LEVEL", cfg.Daemon.LogLevel)
	cfg.Daemon.WritesPerSecond = getEnvInt(EnvPrefix+"WRITES_PER_SECOND", cfg.Daemon.WritesPerSecond)

	cfg.Registry.Owner = getEnv(EnvPrefix+"OWNER", cfg.Registry.Owner)
	cfg.Registry.Name = getEnv(EnvPrefix+"NAME", cfg.Registry.Name)
	cfg.Registry.Symbol = getEnv(EnvPrefix+"SYMBOL", cfg.Registry.Symbol)

	cfg.Storage.Driver = getEnv(EnvPrefix+"STORAGE", cfg.Storage.Driver)
	cfg.Storage.SQLitePath = getEnv(EnvPrefix+"SQLITE_PATH", cfg.Storage.SQLitePath)
	cfg.Storage.PostgresURL = getEnv(EnvPrefix+"DATABASE_URL", cfg.Storage.PostgresURL)

	cfg.Events.Enabled = getEnvBool(EnvPrefix+"EVENTS_ENABLED", cfg.Events.Enabled)
	cfg.Events.RabbitMQURL = getEnv(EnvPrefix+"RABBITMQ_URL", cfg.Events.RabbitMQURL)
	cfg.Events.Queue = getEnv(EnvPrefix+"EVENTS_QUEUE", cfg.Events.Queue)
	cfg.Events.RelaySchedule = getEnv(EnvPrefix+"RELAY_SCHEDULE", cfg.Events.RelaySchedule)

	cfg.Auth.Secret = getEnv(EnvPrefix+"AUTH_SECRET", cfg.Auth.Secret)
	cfg.Auth.TokenTTL = getEnvDuration(EnvPrefix+"TOKEN_TTL", cfg.Auth.TokenTTL)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
