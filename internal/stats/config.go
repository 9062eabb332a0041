package stats

import (
	"fmt"
	"time"
)

// Config defines configuration for the stats collector
type Config struct {
	// Inbox configuration
	InboxBufferSize  int           `toml:"inbox_buffer_size"`
	InboxSendTimeout time.Duration `toml:"inbox_send_timeout"`

	// Flush configuration
	FlushInterval  time.Duration `toml:"flush_interval"`
	FlushThreshold int           `toml:"flush_threshold"`

	// Stats period configuration
	PeriodDuration time.Duration `toml:"period_duration"`

	// Number of recent passes in the moving average of pass duration
	AverageWindow int `toml:"average_window"`
}

// DefaultConfig returns default stats collector configuration
func DefaultConfig() Config {
	return Config{
		InboxBufferSize:  100,
		InboxSendTimeout: time.Second,
		FlushInterval:    time.Minute,
		FlushThreshold:   50,
		PeriodDuration:   time.Hour,
		AverageWindow:    10,
	}
}

// ValidateConfig validates stats configuration and returns error if invalid
func ValidateConfig(config Config) error {
	if config.InboxBufferSize <= 0 {
		return fmt.Errorf("InboxBufferSize must be positive, got %d", config.InboxBufferSize)
	}
	if config.InboxSendTimeout <= 0 {
		return fmt.Errorf("InboxSendTimeout must be positive, got %v", config.InboxSendTimeout)
	}
	if config.FlushInterval <= 0 {
		return fmt.Errorf("FlushInterval must be positive, got %v", config.FlushInterval)
	}
	if config.FlushThreshold <= 0 {
		return fmt.Errorf("FlushThreshold must be positive, got %d", config.FlushThreshold)
	}
	if config.PeriodDuration <= 0 {
		return fmt.Errorf("PeriodDuration must be positive, got %v", config.PeriodDuration)
	}
	if config.AverageWindow <= 0 {
		return fmt.Errorf("AverageWindow must be positive, got %d", config.AverageWindow)
	}
	return nil
}
