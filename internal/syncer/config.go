package syncer

import (
	"fmt"
	"time"
)

// Config defines the synchronizer's retry budget and trigger cadence
type Config struct {
	// Attempts per operation before it is dropped with a terminal failure
	MaxRetries int `toml:"max_retries"`

	// Upper bound on a single executor call
	ExecutionTimeout time.Duration `toml:"execution_timeout"`

	// Periodic re-check while online
	SyncInterval time.Duration `toml:"sync_interval"`

	// Delay before the first check after Start
	InitialDelay time.Duration `toml:"initial_delay"`

	// Account whose queue is processed until SetActiveAccount is called
	ActiveAccount string `toml:"active_account"`
}

// DefaultConfig returns the synchronizer defaults
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		ExecutionTimeout: 60 * time.Second,
		SyncInterval:     5 * time.Minute,
		InitialDelay:     2 * time.Second,
	}
}

// ValidateConfig validates synchronizer configuration and returns error if invalid
func ValidateConfig(config Config) error {
	if config.MaxRetries <= 0 {
		return fmt.Errorf("MaxRetries must be positive, got %d", config.MaxRetries)
	}

	if config.ExecutionTimeout <= 0 {
		return fmt.Errorf("ExecutionTimeout must be positive, got %v", config.ExecutionTimeout)
	}

	if config.SyncInterval <= 0 {
		return fmt.Errorf("SyncInterval must be positive, got %v", config.SyncInterval)
	}

	if config.InitialDelay < 0 {
		return fmt.Errorf("InitialDelay must not be negative, got %v", config.InitialDelay)
	}

	return nil
}
