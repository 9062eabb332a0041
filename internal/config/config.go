package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"

	"github.com/livinlefevreloca/stakequeue/internal/connectivity"
	"github.com/livinlefevreloca/stakequeue/internal/db"
	"github.com/livinlefevreloca/stakequeue/internal/events"
	"github.com/livinlefevreloca/stakequeue/internal/executor"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
	"github.com/livinlefevreloca/stakequeue/internal/queue/kvstore"
	"github.com/livinlefevreloca/stakequeue/internal/snapshot"
	"github.com/livinlefevreloca/stakequeue/internal/stats"
	"github.com/livinlefevreloca/stakequeue/internal/syncer"
)

// Queue store backends
const (
	BackendSQL    = "sql"
	BackendBadger = "badger"
)

// Config represents the application configuration
type Config struct {
	Database     db.Config           `toml:"database"`
	Store        StoreConfig         `toml:"store"`
	Sync         syncer.Config       `toml:"sync"`
	Executor     executor.Config     `toml:"executor"`
	Connectivity connectivity.Config `toml:"connectivity"`
	Snapshot     snapshot.Config     `toml:"snapshot"`
	Events       events.Config       `toml:"events"`
	Stats        StatsConfig         `toml:"stats"`
	Notifier     NotifierConfig      `toml:"notifier"`
	HTTP         HTTPConfig          `toml:"http"`
	Metrics      MetricsConfig       `toml:"metrics"`
	Logging      LoggingConfig       `toml:"logging"`
}

// StoreConfig selects the queue backend and its limits
type StoreConfig struct {
	Backend string         `toml:"backend"`
	Limits  queue.Config   `toml:"limits"`
	Badger  kvstore.Config `toml:"badger"`
}

// StatsConfig enables per-period pass statistics in the database
type StatsConfig struct {
	Enabled   bool         `toml:"enabled"`
	Collector stats.Config `toml:"collector"`
}

// NotifierConfig holds notification delivery settings
type NotifierConfig struct {
	Enabled bool `toml:"enabled"`

	// Notifications kept for GET /api/v1/notifications
	History int `toml:"history"`
}

// HTTPConfig holds HTTP API server settings
type HTTPConfig struct {
	Enabled         bool          `toml:"enabled"`
	Address         string        `toml:"address"`
	Port            int           `toml:"port"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// MetricsConfig holds metrics/monitoring settings
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "stakequeue.db",
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			SkipMigrations:  false,
		},
		Store: StoreConfig{
			Backend: BackendSQL,
			Limits:  queue.DefaultConfig(),
			Badger:  kvstore.DefaultConfig(),
		},
		Sync:         syncer.DefaultConfig(),
		Executor:     executor.DefaultConfig(),
		Connectivity: connectivity.DefaultConfig(),
		Snapshot:     snapshot.DefaultConfig(),
		Events:       events.DefaultConfig(),
		Stats: StatsConfig{
			Enabled:   true,
			Collector: stats.DefaultConfig(),
		},
		Notifier: NotifierConfig{
			Enabled: true,
			History: 50,
		},
		HTTP: HTTPConfig{
			Enabled:         true,
			Address:         "127.0.0.1",
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid. Every problem is reported.
func (c *Config) Validate() error {
	var result *multierror.Error

	add := func(section string, err error) {
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", section, err))
		}
	}

	switch c.Store.Backend {
	case BackendSQL:
		if c.Database.Driver == "" {
			add("database", fmt.Errorf("driver must be specified"))
		} else if c.Database.Driver != "sqlite3" && c.Database.Driver != "sqlite" {
			add("database", fmt.Errorf("unsupported driver: %s (must be sqlite3 or sqlite)", c.Database.Driver))
		}
		if c.Database.DSN == "" {
			add("database", fmt.Errorf("DSN must be specified"))
		}
	case BackendBadger:
		add("store.badger", kvstore.ValidateConfig(c.Store.Badger))
	default:
		add("store", fmt.Errorf("unknown backend %q (must be %s or %s)", c.Store.Backend, BackendSQL, BackendBadger))
	}

	add("store.limits", queue.ValidateConfig(c.Store.Limits))
	add("sync", syncer.ValidateConfig(c.Sync))
	if c.Sync.ActiveAccount != "" {
		if _, err := queue.NormalizeAddress(c.Sync.ActiveAccount); err != nil {
			add("sync", err)
		}
	}
	add("executor", executor.ValidateConfig(c.Executor))
	add("connectivity", connectivity.ValidateConfig(c.Connectivity))
	add("snapshot", snapshot.ValidateConfig(c.Snapshot))
	add("events", events.ValidateConfig(c.Events))

	if c.Stats.Enabled {
		if c.Store.Backend != BackendSQL {
			add("stats", fmt.Errorf("requires the %s store backend", BackendSQL))
		}
		add("stats", stats.ValidateConfig(c.Stats.Collector))
	}

	if c.Notifier.Enabled && c.Notifier.History <= 0 {
		add("notifier", fmt.Errorf("history must be positive"))
	}

	if c.HTTP.Enabled {
		if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
			add("http", fmt.Errorf("port must be between 1 and 65535"))
		}
		if c.HTTP.ShutdownTimeout <= 0 {
			add("http", fmt.Errorf("shutdown_timeout must be positive"))
		}
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		add("logging", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		add("logging", fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format))
	}

	return result.ErrorOrNil()
}

// HTTPAddr returns the listen address of the HTTP server
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Address, c.HTTP.Port)
}

func parseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
}

// NewLogger builds the process logger described by the logging section
func (l LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format: %s (must be text or json)", l.Format)
}
