package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Config controls the initial status and the optional health probe
type Config struct {
	InitialOnline bool          `toml:"initial_online"`
	ProbeURL      string        `toml:"probe_url"`
	ProbeInterval time.Duration `toml:"probe_interval"`
	ProbeTimeout  time.Duration `toml:"probe_timeout"`
}

// DefaultConfig starts online with probing disabled
func DefaultConfig() Config {
	return Config{
		InitialOnline: true,
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
	}
}

// ValidateConfig checks probe settings when a probe URL is set
func ValidateConfig(config Config) error {
	if config.ProbeURL == "" {
		return nil
	}
	if config.ProbeInterval <= 0 {
		return fmt.Errorf("ProbeInterval must be positive, got %v", config.ProbeInterval)
	}
	if config.ProbeTimeout <= 0 {
		return fmt.Errorf("ProbeTimeout must be positive, got %v", config.ProbeTimeout)
	}
	return nil
}

// Prober polls a health URL and feeds the result into a Monitor.
// Any response below 500 counts as online.
type Prober struct {
	config  Config
	monitor *Monitor
	client  *http.Client
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProber creates a prober for config.ProbeURL
func NewProber(config Config, monitor *Monitor, logger *slog.Logger) (*Prober, error) {
	if config.ProbeURL == "" {
		return nil, fmt.Errorf("ProbeURL must be set")
	}
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	return &Prober{
		config:  config,
		monitor: monitor,
		client:  &http.Client{Timeout: config.ProbeTimeout},
		logger:  logger,
	}, nil
}

// Probe performs a single health check and updates the monitor
func (p *Prober) Probe(ctx context.Context) bool {
	online := p.check(ctx)
	p.monitor.Set(online)
	return online
}

func (p *Prober) check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.ProbeURL, nil)
	if err != nil {
		p.logger.Error("invalid probe request", "url", p.config.ProbeURL, "error", err)
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "url", p.config.ProbeURL, "error", err)
		return false
	}
	resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}

// Start probes immediately and then every ProbeInterval until Stop
func (p *Prober) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.config.ProbeInterval)
		defer ticker.Stop()

		p.Probe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Probe(ctx)
			}
		}
	}()
}

// Stop ends probing and waits for the probe goroutine to exit
func (p *Prober) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}
