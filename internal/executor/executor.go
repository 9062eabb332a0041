// Package executor provides the implementations of syncer.Executor: a
// simulated executor for development and tests, and a websocket bridge that
// delegates signing to a connected wallet client.
package executor

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/livinlefevreloca/stakequeue/internal/queue"
	"github.com/livinlefevreloca/stakequeue/internal/syncer"
)

// Executor modes
const (
	ModeSimulated = "simulated"
	ModeBridge    = "bridge"
)

// Config selects and tunes the executor
type Config struct {
	Mode string `toml:"mode"`

	// Simulated executor
	SimulatedDelay     time.Duration `toml:"simulated_delay"`
	SimulatedFailEvery int           `toml:"simulated_fail_every"`

	// Bridge executor
	WriteTimeout time.Duration `toml:"write_timeout"`
	PingInterval time.Duration `toml:"ping_interval"`
	SendBuffer   int           `toml:"send_buffer"`
}

// DefaultConfig returns the executor defaults
func DefaultConfig() Config {
	return Config{
		Mode:           ModeSimulated,
		SimulatedDelay: 500 * time.Millisecond,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		SendBuffer:     16,
	}
}

// ValidateConfig validates executor configuration and returns error if invalid
func ValidateConfig(config Config) error {
	switch config.Mode {
	case ModeSimulated:
		if config.SimulatedDelay < 0 {
			return fmt.Errorf("SimulatedDelay must not be negative, got %v", config.SimulatedDelay)
		}
		if config.SimulatedFailEvery < 0 {
			return fmt.Errorf("SimulatedFailEvery must not be negative, got %d", config.SimulatedFailEvery)
		}
	case ModeBridge:
		if config.WriteTimeout <= 0 {
			return fmt.Errorf("WriteTimeout must be positive, got %v", config.WriteTimeout)
		}
		if config.PingInterval <= 0 {
			return fmt.Errorf("PingInterval must be positive, got %v", config.PingInterval)
		}
		if config.SendBuffer <= 0 {
			return fmt.Errorf("SendBuffer must be positive, got %d", config.SendBuffer)
		}
	default:
		return fmt.Errorf("unknown executor mode %q (want %q or %q)", config.Mode, ModeSimulated, ModeBridge)
	}
	return nil
}

// ErrSimulatedFailure is returned by the simulated executor on scheduled failures
var ErrSimulatedFailure = errors.New("simulated execution failure")

// Simulated pretends to submit transactions. Every SimulatedFailEvery-th call
// fails; zero never fails. Successful operations are applied to an in-memory
// ledger that ReadAccount reports as confirmed state.
type Simulated struct {
	delay     time.Duration
	failEvery int
	logger    *slog.Logger

	mu     sync.Mutex
	calls  int
	ledger map[string]queue.Snapshot
}

var _ syncer.Executor = (*Simulated)(nil)

// NewSimulated creates a simulated executor
func NewSimulated(config Config, logger *slog.Logger) *Simulated {
	return &Simulated{
		delay:     config.SimulatedDelay,
		failEvery: config.SimulatedFailEvery,
		logger:    logger,
		ledger:    make(map[string]queue.Snapshot),
	}
}

// Seed sets the confirmed state of an account
func (s *Simulated) Seed(snapshot queue.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger[snapshot.Address] = *snapshot.Clone()
}

// ReadAccount returns the ledger entry for account; unknown accounts hold nothing
func (s *Simulated) ReadAccount(ctx context.Context, account string) (queue.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return queue.Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.ledger[account]
	if !ok {
		return queue.Snapshot{
			Address:        account,
			StakedAmount:   new(big.Int),
			RewardsAccrued: new(big.Int),
			LastUpdated:    time.Now().UTC(),
		}, nil
	}
	out := snap.Clone()
	out.LastUpdated = time.Now().UTC()
	return *out, nil
}

func (s *Simulated) apply(op queue.Operation) {
	snap, ok := s.ledger[op.Account]
	if !ok {
		snap = queue.Snapshot{Address: op.Account, StakedAmount: new(big.Int), RewardsAccrued: new(big.Int)}
	} else {
		snap = *snap.Clone()
	}

	amount, ok := op.Amount()
	switch {
	case op.Kind == queue.KindStake && ok:
		snap.StakedAmount.Add(snap.StakedAmount, amount)
	case op.Kind == queue.KindUnstake && ok:
		snap.StakedAmount.Sub(snap.StakedAmount, amount)
	case op.Kind == queue.KindClaim:
		snap.RewardsAccrued.SetInt64(0)
	}
	s.ledger[op.Account] = snap
}

// Execute waits for the configured delay and returns a deterministic transaction hash
func (s *Simulated) Execute(ctx context.Context, op queue.Operation) (syncer.ExecutionResult, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()

	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return syncer.ExecutionResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	if s.failEvery > 0 && call%s.failEvery == 0 {
		s.logger.Debug("simulated execution failing", "operation_id", op.ID, "call", call)
		return syncer.ExecutionResult{Success: false, Error: ErrSimulatedFailure.Error()}, nil
	}

	s.mu.Lock()
	s.apply(op)
	s.mu.Unlock()

	hash := common.BytesToHash(digest(op.ID, call))
	s.logger.Debug("simulated execution succeeded", "operation_id", op.ID, "transaction_id", hash.Hex())

	return syncer.ExecutionResult{Success: true, TransactionID: hash.Hex()}, nil
}

// Calls returns how many executions were attempted
func (s *Simulated) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func digest(id string, call int) []byte {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", id, call)))
	return sum[:]
}
