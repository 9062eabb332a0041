// Package projection derives the state an account would have after a prefix of
// its queue executes, and decides whether a queued operation is executable
// against that state. Everything here is pure: no I/O, and inputs are never
// mutated.
package projection

import (
	"fmt"
	"math/big"

	"github.com/livinlefevreloca/stakequeue/internal/queue"
)

// State is a snapshot with a queue prefix applied. StakedAmount may be
// negative when the prefix contains an over-unstake.
type State struct {
	Address        string
	StakedAmount   *big.Int
	RewardsAccrued *big.Int
}

// Result is the outcome of a dependency check
type Result struct {
	CanExecute bool
	Reason     string
}

// Reasons reported by Check
const (
	ReasonNoSnapshot = "no account snapshot available"
	ReasonNoRewards  = "no rewards available"
)

// Project applies ops[0:upTo] to a copy of snapshot in order.
// Returns nil when snapshot is nil. upTo is clamped to [0, len(ops)].
func Project(snapshot *queue.Snapshot, ops []queue.Operation, upTo int) *State {
	if snapshot == nil {
		return nil
	}

	state := &State{
		Address:        snapshot.Address,
		StakedAmount:   copyInt(snapshot.StakedAmount),
		RewardsAccrued: copyInt(snapshot.RewardsAccrued),
	}

	for _, op := range ops[:clamp(upTo, len(ops))] {
		apply(state, op)
	}

	return state
}

func apply(state *State, op queue.Operation) {
	switch op.Kind {
	case queue.KindStake:
		if amount, ok := op.Amount(); ok {
			state.StakedAmount.Add(state.StakedAmount, amount)
		}
	case queue.KindUnstake:
		if amount, ok := op.Amount(); ok {
			state.StakedAmount.Sub(state.StakedAmount, amount)
		}
	case queue.KindClaim:
		state.RewardsAccrued.SetInt64(0)
	case queue.KindApprove:
		// allowance is not part of the projected state
	}
}

// Check decides whether ops[index] can execute given the effects of every
// operation before it. An index outside ops is not executable.
func Check(snapshot *queue.Snapshot, ops []queue.Operation, index int) Result {
	if index < 0 || index >= len(ops) {
		return Result{Reason: fmt.Sprintf("operation index %d out of range", index)}
	}

	op := ops[index]
	switch op.Kind {
	case queue.KindApprove, queue.KindStake:
		return Result{CanExecute: true}

	case queue.KindUnstake:
		required, ok := op.Amount()
		if !ok {
			return Result{Reason: fmt.Sprintf("invalid unstake amount: %q", op.Payload.Amount)}
		}
		state := Project(snapshot, ops, index)
		if state == nil {
			return Result{Reason: ReasonNoSnapshot}
		}
		if state.StakedAmount.Cmp(required) < 0 {
			return Result{Reason: fmt.Sprintf("insufficient staked amount: available %s, required %s",
				state.StakedAmount, required)}
		}
		return Result{CanExecute: true}

	case queue.KindClaim:
		state := Project(snapshot, ops, index)
		if state == nil {
			return Result{Reason: ReasonNoSnapshot}
		}
		if state.RewardsAccrued.Sign() <= 0 {
			return Result{Reason: ReasonNoRewards}
		}
		return Result{CanExecute: true}
	}

	return Result{Reason: fmt.Sprintf("unknown operation kind: %q", op.Kind)}
}

func clamp(n, limit int) int {
	if n < 0 {
		return 0
	}
	if n > limit {
		return limit
	}
	return n
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
