package queue

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/google/uuid"
)

// ParseAmount parses a non-negative decimal integer no wider than 256 bits
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: amount is required", ErrInvalidInput)
	}
	// ParseBig256 also accepts hex and signed values
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") || strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, fmt.Errorf("%w: amount must be a decimal integer: %q", ErrInvalidInput, s)
	}

	v, ok := math.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("%w: amount must be a decimal integer: %q", ErrInvalidInput, s)
	}
	return v, nil
}

// NormalizeAddress validates a hex account address and returns its checksummed form
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: invalid address: %q", ErrInvalidInput, s)
	}
	return common.HexToAddress(s).Hex(), nil
}

// NewOperation validates input and builds the operation that will be appended to the queue
func NewOperation(input Input, now time.Time) (Operation, error) {
	account, err := NormalizeAddress(input.Account)
	if err != nil {
		return Operation{}, err
	}

	if !input.Kind.Valid() {
		return Operation{}, fmt.Errorf("%w: unknown operation kind: %q", ErrInvalidInput, input.Kind)
	}

	payload, err := normalizePayload(input.Kind, input.Payload)
	if err != nil {
		return Operation{}, err
	}

	return Operation{
		ID:         uuid.New().String(),
		Account:    account,
		Kind:       input.Kind,
		Payload:    payload,
		EnqueuedAt: now.UTC(),
	}, nil
}

func normalizePayload(kind Kind, p Payload) (Payload, error) {
	var out Payload

	switch kind {
	case KindApprove, KindStake, KindUnstake:
		amount, err := ParseAmount(p.Amount)
		if err != nil {
			return Payload{}, err
		}
		out.Amount = amount.String()
	case KindClaim:
		if p.Amount != "" {
			return Payload{}, fmt.Errorf("%w: claim takes no amount", ErrInvalidInput)
		}
	}

	if kind == KindApprove {
		spender, err := NormalizeAddress(p.Spender)
		if err != nil {
			return Payload{}, fmt.Errorf("spender: %w", err)
		}
		out.Spender = spender
	} else if p.Spender != "" {
		return Payload{}, fmt.Errorf("%w: spender is only valid for approve", ErrInvalidInput)
	}

	if p.RewardsAmount != "" {
		if kind != KindClaim {
			return Payload{}, fmt.Errorf("%w: rewards_amount is only valid for claim", ErrInvalidInput)
		}
		rewards, err := ParseAmount(p.RewardsAmount)
		if err != nil {
			return Payload{}, fmt.Errorf("rewards_amount: %w", err)
		}
		out.RewardsAmount = rewards.String()
	}

	return out, nil
}

// NormalizeSnapshot validates a snapshot before it is cached. Balances must be
// present and non-negative.
func NormalizeSnapshot(s Snapshot) (Snapshot, error) {
	address, err := NormalizeAddress(s.Address)
	if err != nil {
		return Snapshot{}, err
	}
	if s.StakedAmount == nil || s.StakedAmount.Sign() < 0 {
		return Snapshot{}, fmt.Errorf("%w: staked amount must be non-negative", ErrInvalidInput)
	}
	if s.RewardsAccrued == nil || s.RewardsAccrued.Sign() < 0 {
		return Snapshot{}, fmt.Errorf("%w: rewards must be non-negative", ErrInvalidInput)
	}

	return Snapshot{
		Address:        address,
		StakedAmount:   new(big.Int).Set(s.StakedAmount),
		RewardsAccrued: new(big.Int).Set(s.RewardsAccrued),
		LastUpdated:    s.LastUpdated.UTC(),
	}, nil
}
