// Package snapshot owns the confirmed account state. The Refresher is the
// only component that writes account snapshots: it reads live state through an
// AccountReader and persists it while online and for the active account.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/livinlefevreloca/stakequeue/internal/connectivity"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
)

var (
	// ErrOffline is returned when a refresh is requested while offline
	ErrOffline = errors.New("offline: snapshot not refreshed")

	// ErrInactiveAccount is returned when refreshing an account other than the active one
	ErrInactiveAccount = errors.New("account is not the active account")
)

// AccountReader reads confirmed on-chain state
type AccountReader interface {
	ReadAccount(ctx context.Context, account string) (queue.Snapshot, error)
}

// Writer persists snapshots
type Writer interface {
	SaveSnapshot(queue.Snapshot) error
}

// Connectivity reports whether live reads are possible
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan connectivity.Transition, func())
}

// Config controls retries and the periodic refresh
type Config struct {
	MaxAttempts    uint64        `toml:"max_attempts"`
	InitialBackoff time.Duration `toml:"initial_backoff"`
	MaxBackoff     time.Duration `toml:"max_backoff"`
	ReadTimeout    time.Duration `toml:"read_timeout"`

	// Zero disables the periodic refresh
	RefreshInterval time.Duration `toml:"refresh_interval"`
}

// DefaultConfig returns the refresher defaults
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     3,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      5 * time.Second,
		ReadTimeout:     10 * time.Second,
		RefreshInterval: time.Minute,
	}
}

// ValidateConfig validates refresher configuration and returns error if invalid
func ValidateConfig(config Config) error {
	if config.MaxAttempts == 0 {
		return fmt.Errorf("MaxAttempts must be positive")
	}
	if config.InitialBackoff <= 0 {
		return fmt.Errorf("InitialBackoff must be positive, got %v", config.InitialBackoff)
	}
	if config.MaxBackoff < config.InitialBackoff {
		return fmt.Errorf("MaxBackoff (%v) must be at least InitialBackoff (%v)", config.MaxBackoff, config.InitialBackoff)
	}
	if config.ReadTimeout <= 0 {
		return fmt.Errorf("ReadTimeout must be positive, got %v", config.ReadTimeout)
	}
	if config.RefreshInterval < 0 {
		return fmt.Errorf("RefreshInterval must not be negative, got %v", config.RefreshInterval)
	}
	return nil
}

// Refresher keeps the active account's snapshot current
type Refresher struct {
	config       Config
	reader       AccountReader
	writer       Writer
	connectivity Connectivity
	logger       *slog.Logger

	mu     sync.Mutex
	active func() string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRefresher creates a refresher. active reports the account whose snapshot
// may be written; it may be set later with SetActiveSource.
func NewRefresher(config Config, reader AccountReader, writer Writer, conn Connectivity, logger *slog.Logger) (*Refresher, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if reader == nil || writer == nil || conn == nil {
		return nil, errors.New("reader, writer and connectivity are required")
	}

	return &Refresher{
		config:       config,
		reader:       reader,
		writer:       writer,
		connectivity: conn,
		logger:       logger,
	}, nil
}

// SetActiveSource sets the function reporting the active account
func (r *Refresher) SetActiveSource(active func() string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = active
}

func (r *Refresher) activeAccount() string {
	r.mu.Lock()
	active := r.active
	r.mu.Unlock()

	if active == nil {
		return ""
	}
	return active()
}

// Refresh reads account's confirmed state and saves it. The write is skipped
// with ErrOffline or ErrInactiveAccount if either condition fails before or
// after the read.
func (r *Refresher) Refresh(ctx context.Context, account string) error {
	account, err := queue.NormalizeAddress(account)
	if err != nil {
		return err
	}
	if err := r.writable(account); err != nil {
		return err
	}

	backoff := retry.NewExponential(r.config.InitialBackoff)
	backoff = retry.WithCappedDuration(r.config.MaxBackoff, backoff)
	backoff = retry.WithJitterPercent(10, backoff)
	backoff = retry.WithMaxRetries(r.config.MaxAttempts-1, backoff)

	var snap queue.Snapshot
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		readCtx, cancel := context.WithTimeout(ctx, r.config.ReadTimeout)
		defer cancel()

		s, err := r.reader.ReadAccount(readCtx, account)
		if err != nil {
			r.logger.Debug("account read failed", "account", account, "attempt", attempt, "error", err)
			if !r.connectivity.Online() {
				return ErrOffline
			}
			return retry.RetryableError(err)
		}
		snap = s
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read account %s after %d attempts: %w", account, attempt, err)
	}

	if err := r.writable(account); err != nil {
		return err
	}

	snap.Address = account
	if snap.LastUpdated.IsZero() {
		snap.LastUpdated = time.Now().UTC()
	}
	if err := r.writer.SaveSnapshot(snap); err != nil {
		return err
	}

	r.logger.Info("account snapshot refreshed",
		"account", account,
		"staked_amount", snap.StakedAmount,
		"rewards_accrued", snap.RewardsAccrued)
	return nil
}

func (r *Refresher) writable(account string) error {
	if !r.connectivity.Online() {
		return ErrOffline
	}
	if active := r.activeAccount(); active != "" && active != account {
		return fmt.Errorf("%w: %s (active %s)", ErrInactiveAccount, account, active)
	}
	return nil
}

// Start refreshes the active account on every RefreshInterval and whenever
// connectivity comes back
func (r *Refresher) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	transitions, unsubscribe := r.connectivity.Subscribe()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer unsubscribe()

		var tick <-chan time.Time
		if r.config.RefreshInterval > 0 {
			ticker := time.NewTicker(r.config.RefreshInterval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-tick:
				r.refreshActive(ctx, "periodic")
			case t, ok := <-transitions:
				if !ok {
					transitions = nil
					continue
				}
				if t.Online {
					r.refreshActive(ctx, "online")
				}
			}
		}
	}()
}

func (r *Refresher) refreshActive(ctx context.Context, trigger string) {
	account := r.activeAccount()
	if account == "" || !r.connectivity.Online() {
		return
	}
	if err := r.Refresh(ctx, account); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("snapshot refresh failed", "trigger", trigger, "account", account, "error", err)
	}
}

// Stop ends the periodic refresh
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}
