package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "0", want: "0"},
		{in: "1000000000000000000", want: "1000000000000000000"},
		{in: " 42 ", want: "42"},
		{in: "007", want: "7"},
		{in: "", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "+1", wantErr: true},
		{in: "0x10", wantErr: true},
		{in: "1.5", wantErr: true},
		{in: "1e18", wantErr: true},
		// 2^256 does not fit
		{in: "115792089237316195423570985008687907853269984665640564039457584007913129639936", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", got)

	_, err = NormalizeAddress("0x1234")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewOperation(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	account := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"

	op, err := NewOperation(Input{
		Account: account,
		Kind:    KindClaim,
		Payload: Payload{RewardsAmount: "12"},
	}, now)
	require.NoError(t, err)

	assert.NotEmpty(t, op.ID)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", op.Account)
	assert.Equal(t, "12", op.Payload.RewardsAmount)
	assert.Equal(t, time.UTC, op.EnqueuedAt.Location())
	assert.Zero(t, op.RetryCount)

	other, err := NewOperation(Input{Account: account, Kind: KindStake, Payload: Payload{Amount: "1"}}, now)
	require.NoError(t, err)
	assert.NotEqual(t, op.ID, other.ID)
}

func TestNewOperation_PayloadRules(t *testing.T) {
	account := "0x1111111111111111111111111111111111111111"
	spender := "0x3333333333333333333333333333333333333333"

	tests := []struct {
		name    string
		kind    Kind
		payload Payload
		wantErr bool
	}{
		{"approve", KindApprove, Payload{Amount: "1", Spender: spender}, false},
		{"approve without spender", KindApprove, Payload{Amount: "1"}, true},
		{"stake with spender", KindStake, Payload{Amount: "1", Spender: spender}, true},
		{"unstake zero", KindUnstake, Payload{Amount: "0"}, false},
		{"claim", KindClaim, Payload{}, false},
		{"claim with amount", KindClaim, Payload{Amount: "5"}, true},
		{"stake with rewards", KindStake, Payload{Amount: "1", RewardsAmount: "2"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOperation(Input{Account: account, Kind: tt.kind, Payload: tt.payload}, time.Now())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOperation_Amount(t *testing.T) {
	op := Operation{Payload: Payload{Amount: "250"}}
	v, ok := op.Amount()
	require.True(t, ok)
	assert.Equal(t, int64(250), v.Int64())

	_, ok = Operation{Kind: KindClaim}.Amount()
	assert.False(t, ok)
}
