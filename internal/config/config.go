// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default values for worker and permission settings.
const (
	DefaultServerPort        = 8080
	DefaultWorkerConcurrency = 5
	DefaultPollInterval      = time.Second
	DefaultLockDuration      = 5 * time.Minute
	DefaultRetryBackoff      = 30 * time.Second
	DefaultPermissionMaxWait = 24 * time.Hour
	DefaultPermissionPoll    = 500 * time.Millisecond
)

// Config holds the runtime configuration for the server and worker.
type Config struct {
	ServerPort int

	// Worker settings
	WorkerConcurrency int
	PollInterval      time.Duration
	LockDuration      time.Duration
	RetryBackoff      time.Duration

	// Permission settings
	PermissionMaxWait      time.Duration
	PermissionPollInterval time.Duration

	// AgentCommand is the executable invoked by the session runner to drive
	// an agent conversation. Empty disables the session-runner handler.
	AgentCommand string

	// Database settings, passed through to db.Options.
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
}

// Load builds a Config from environment variables, applying defaults for
// anything unset.
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:             DefaultServerPort,
		WorkerConcurrency:      DefaultWorkerConcurrency,
		PollInterval:           DefaultPollInterval,
		LockDuration:           DefaultLockDuration,
		RetryBackoff:           DefaultRetryBackoff,
		PermissionMaxWait:      DefaultPermissionMaxWait,
		PermissionPollInterval: DefaultPermissionPoll,
		AgentCommand:           os.Getenv("AGENT_COMMAND"),
		DBHost:                 GetEnv("DB_HOST", "localhost"),
		DBUser:                 GetEnv("DB_USER", "postgres"),
		DBPassword:             GetEnv("DB_PASSWORD", "postgres"),
		DBName:                 GetEnv("DB_NAME", "postgres"),
	}

	var err error
	if cfg.ServerPort, err = getEnvInt("SERVER_PORT", DefaultServerPort); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.WorkerConcurrency, err = getEnvInt("WORKER_CONCURRENCY", DefaultWorkerConcurrency); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getEnvDuration("WORKER_POLL_INTERVAL", DefaultPollInterval); err != nil {
		return nil, err
	}
	if cfg.LockDuration, err = getEnvDuration("WORKER_LOCK_DURATION", DefaultLockDuration); err != nil {
		return nil, err
	}
	if cfg.RetryBackoff, err = getEnvDuration("WORKER_RETRY_BACKOFF", DefaultRetryBackoff); err != nil {
		return nil, err
	}
	if cfg.PermissionMaxWait, err = getEnvDuration("PERMISSION_MAX_WAIT", DefaultPermissionMaxWait); err != nil {
		return nil, err
	}
	if cfg.PermissionPollInterval, err = getEnvDuration("PERMISSION_POLL_INTERVAL", DefaultPermissionPoll); err != nil {
		return nil, err
	}

	return cfg, nil
}

// GetEnv retrieves the value of an environment variable with a fallback value if not set
func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return d, nil
}
