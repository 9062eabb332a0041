package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/livinlefevreloca/stakequeue/internal/connectivity"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
)

// ErrExecutionTimeout is recorded when the executor does not answer within ExecutionTimeout
var ErrExecutionTimeout = errors.New("transaction execution timeout")

// State of the synchronizer
type State int

const (
	StateIdle State = iota
	StateSyncing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSyncing:
		return "syncing"
	default:
		return "unknown"
	}
}

// ExecutionResult is what an Executor reports for one attempt
type ExecutionResult struct {
	Success       bool
	TransactionID string
	Error         string
}

// Executor performs an operation against the remote execution surface.
// The operation ID is stable across retries and restarts.
type Executor interface {
	Execute(ctx context.Context, op queue.Operation) (ExecutionResult, error)
}

// SnapshotRefresher re-reads confirmed account state after operations executed
type SnapshotRefresher interface {
	Refresh(ctx context.Context, account string) error
}

// Connectivity reports online status and its transitions
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan connectivity.Transition, func())
}

// PassObserver is told about every completed pass
type PassObserver interface {
	ObservePass(result PassResult)
}

// PassResult summarizes one sync pass
type PassResult struct {
	Account   string
	StartedAt time.Time
	Duration  time.Duration

	Attempted int
	Synced    int
	Retried   int
	Failed    int

	// Halted is set when a dependency conflict stopped the pass
	Halted            bool
	ConflictOperation string
	ConflictReason    string

	// Aborted is set when an unexpected error or panic ended the pass
	Aborted bool
	Err     error
}

// Status is a point-in-time view of the synchronizer
type Status struct {
	State         State
	Online        bool
	ActiveAccount string
	LastPass      *PassResult
}
