// Package config loads the process-wide configuration of spec §6: read
// once at startup, never hot-reloaded. Follows the same pattern as
// r3e-network-service_layer's internal/config.Load: an optional .env
// file loaded via godotenv, then individual env vars read with typed
// getters and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every process-wide setting named by spec §6.
type Config struct {
	// PostgresDSN is the Persistence Adapter's connection string.
	PostgresDSN string

	// PollIntervalMinutes is the configured poll interval in minutes. The
	// Endpoint Monitor does not read it; it uses each row's own check
	// interval.
	PollIntervalMinutes int

	// AdminKey gates the /monitor and /heartbeat trigger endpoints.
	AdminKey string

	// StorageMode selects the Persistence Adapter backend; "postgres" is
	// the only implemented mode, kept as a field so a future in-memory
	// or sqlite mode has somewhere to plug in without widening the
	// engine facade's constructor signature.
	StorageMode string

	// NotifierWebhookURL and NotifierToken are the external notifier's
	// credentials for the fire-and-forget callouts of spec §4.7.
	NotifierWebhookURL string
	NotifierToken      string

	// BackgroundMonitoringEnabled is the feature flag spec §6 calls out
	// by name; when false, the Scheduler's monitor-pass job is not
	// registered.
	BackgroundMonitoringEnabled bool

	// HTTPAddr is the trigger surface's listen address.
	HTTPAddr string

	// LogLevel controls the slog handler's minimum level.
	LogLevel string

	// MetricsBackend selects the metrics.Provider implementation:
	// "prometheus" (default), "otel", or "noop".
	MetricsBackend string
}

// Load reads .env (if present) then environment variables, applying
// defaults for everything but PostgresDSN and AdminKey.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("warning: could not load .env: %v\n", err)
	}

	cfg := Defaults()
	cfg.PostgresDSN = getEnv("RACEOPS_POSTGRES_DSN", cfg.PostgresDSN)
	cfg.AdminKey = getEnv("RACEOPS_ADMIN_KEY", cfg.AdminKey)
	cfg.StorageMode = getEnv("RACEOPS_STORAGE_MODE", cfg.StorageMode)
	cfg.NotifierWebhookURL = getEnv("RACEOPS_NOTIFIER_WEBHOOK_URL", cfg.NotifierWebhookURL)
	cfg.NotifierToken = getEnv("RACEOPS_NOTIFIER_TOKEN", cfg.NotifierToken)
	cfg.HTTPAddr = getEnv("RACEOPS_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = getEnv("RACEOPS_LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsBackend = getEnv("RACEOPS_METRICS_BACKEND", cfg.MetricsBackend)
	cfg.PollIntervalMinutes = getIntEnv("RACEOPS_POLL_INTERVAL_MINUTES", cfg.PollIntervalMinutes)
	cfg.BackgroundMonitoringEnabled = getBoolEnv("RACEOPS_BACKGROUND_MONITORING_ENABLED", cfg.BackgroundMonitoringEnabled)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration a fresh checkout runs with before
// any environment variables are applied.
func Defaults() *Config {
	return &Config{
		PollIntervalMinutes:         5,
		StorageMode:                 "postgres",
		BackgroundMonitoringEnabled: true,
		HTTPAddr:                    ":8090",
		LogLevel:                    "info",
		MetricsBackend:              "prometheus",
	}
}

// Validate enforces the settings that have no safe default.
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("RACEOPS_POSTGRES_DSN is required")
	}
	if c.AdminKey == "" {
		return fmt.Errorf("RACEOPS_ADMIN_KEY is required")
	}
	if c.StorageMode != "postgres" {
		return fmt.Errorf("unsupported RACEOPS_STORAGE_MODE %q", c.StorageMode)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// PollInterval is PollIntervalMinutes as a time.Duration convenience.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMinutes) * time.Minute
}
