package queue

import (
	"errors"
	"math/big"
	"time"
)

// Kind identifies a staking operation
type Kind string

const (
	KindApprove Kind = "approve"
	KindStake   Kind = "stake"
	KindUnstake Kind = "unstake"
	KindClaim   Kind = "claim"
)

// Valid reports whether k is one of the known operation kinds
func (k Kind) Valid() bool {
	switch k {
	case KindApprove, KindStake, KindUnstake, KindClaim:
		return true
	}
	return false
}

// Standard errors
var (
	ErrNotFound     = errors.New("queue: operation not found")
	ErrQueueFull    = errors.New("queue: queue is full")
	ErrInvalidInput = errors.New("queue: invalid input")
	ErrStorage      = errors.New("queue: storage failure")
)

// Payload carries the kind-specific data of an operation.
// Amounts are decimal integers in the smallest token unit.
type Payload struct {
	Amount        string `json:"amount,omitempty"`
	Spender       string `json:"spender,omitempty"`
	RewardsAmount string `json:"rewards_amount,omitempty"`
}

// Operation is a user-initiated staking action waiting to be executed remotely
type Operation struct {
	ID         string    `json:"id"`
	Account    string    `json:"account"`
	Kind       Kind      `json:"kind"`
	Payload    Payload   `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	RetryCount int       `json:"retry_count"`
}

// Amount returns the parsed payload amount. ok is false when the amount is
// missing or malformed.
func (op Operation) Amount() (amount *big.Int, ok bool) {
	v, err := ParseAmount(op.Payload.Amount)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Age returns how long the operation has been queued as of now
func (op Operation) Age(now time.Time) time.Duration {
	return now.Sub(op.EnqueuedAt)
}

// Input is the caller-supplied part of an operation
type Input struct {
	Account string  `json:"account"`
	Kind    Kind    `json:"kind"`
	Payload Payload `json:"payload"`
}

// Snapshot is the last confirmed on-chain state of one account.
// It never reflects queued operations.
type Snapshot struct {
	Address        string    `json:"address"`
	StakedAmount   *big.Int  `json:"staked_amount"`
	RewardsAccrued *big.Int  `json:"rewards_accrued"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Clone returns a deep copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	return &Snapshot{
		Address:        s.Address,
		StakedAmount:   cloneInt(s.StakedAmount),
		RewardsAccrued: cloneInt(s.RewardsAccrued),
		LastUpdated:    s.LastUpdated,
	}
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now
func SystemClock() Clock { return systemClock{} }
