// Package storetest holds behavioural tests shared by every queue.Store backend.
package storetest

import (
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/stakequeue/internal/queue"
)

// OpenFunc opens a store persisted under dir. Opening the same dir twice must
// observe the same data.
type OpenFunc func(t *testing.T, dir string, config queue.Config, clock queue.Clock) queue.Store

const (
	Alice = "0x1111111111111111111111111111111111111111"
	Bob   = "0x2222222222222222222222222222222222222222"
	Pool  = "0x3333333333333333333333333333333333333333"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

// Stake builds a stake input for account
func Stake(account, amount string) queue.Input {
	return queue.Input{Account: account, Kind: queue.KindStake, Payload: queue.Payload{Amount: amount}}
}

// Unstake builds an unstake input for account
func Unstake(account, amount string) queue.Input {
	return queue.Input{Account: account, Kind: queue.KindUnstake, Payload: queue.Payload{Amount: amount}}
}

// Run exercises the Store contract against the backend opened by open
func Run(t *testing.T, open OpenFunc) {
	t.Run("EnqueueAssignsIDAndKeepsFIFO", func(t *testing.T) { testFIFO(t, open) })
	t.Run("EnqueueRejectsInvalidInput", func(t *testing.T) { testInvalidInput(t, open) })
	t.Run("EnqueueRespectsMaxQueueSize", func(t *testing.T) { testQueueFull(t, open) })
	t.Run("ListAccountFilters", func(t *testing.T) { testListAccount(t, open) })
	t.Run("GetAndRemove", func(t *testing.T) { testGetRemove(t, open) })
	t.Run("IncrementRetry", func(t *testing.T) { testIncrementRetry(t, open) })
	t.Run("Snapshots", func(t *testing.T) { testSnapshots(t, open) })
	t.Run("SurvivesReopen", func(t *testing.T) { testReopen(t, open) })
}

func testFIFO(t *testing.T, open OpenFunc) {
	clock := &fixedClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := open(t, t.TempDir(), queue.DefaultConfig(), clock)

	var ids []string
	for i := 1; i <= 5; i++ {
		op, err := store.Enqueue(Stake(Alice, fmt.Sprint(i*10)))
		require.NoError(t, err)
		require.NotEmpty(t, op.ID)
		assert.Equal(t, Alice, op.Account)
		assert.Equal(t, fmt.Sprint(i*10), op.Payload.Amount)
		assert.True(t, op.EnqueuedAt.Equal(clock.t))
		ids = append(ids, op.ID)
	}

	ops, err := store.List()
	require.NoError(t, err)
	require.Len(t, ops, 5)
	for i, op := range ops {
		assert.Equal(t, ids[i], op.ID)
		assert.Equal(t, fmt.Sprint((i+1)*10), op.Payload.Amount)
		assert.Equal(t, 0, op.RetryCount)
		assert.True(t, op.EnqueuedAt.Equal(clock.t))
	}

	again, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, ops, again, "listing without mutation must be stable")

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func testInvalidInput(t *testing.T, open OpenFunc) {
	store := open(t, t.TempDir(), queue.DefaultConfig(), nil)

	cases := []queue.Input{
		{Account: "not-an-address", Kind: queue.KindStake, Payload: queue.Payload{Amount: "1"}},
		{Account: Alice, Kind: "withdraw", Payload: queue.Payload{Amount: "1"}},
		{Account: Alice, Kind: queue.KindStake},
		{Account: Alice, Kind: queue.KindStake, Payload: queue.Payload{Amount: "-5"}},
		{Account: Alice, Kind: queue.KindUnstake, Payload: queue.Payload{Amount: "1.5"}},
		{Account: Alice, Kind: queue.KindApprove, Payload: queue.Payload{Amount: "1"}},
	}
	for _, in := range cases {
		_, err := store.Enqueue(in)
		assert.ErrorIs(t, err, queue.ErrInvalidInput, "input %+v", in)
	}

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testQueueFull(t *testing.T, open OpenFunc) {
	store := open(t, t.TempDir(), queue.Config{MaxQueueSize: 2}, nil)

	_, err := store.Enqueue(Stake(Alice, "1"))
	require.NoError(t, err)
	_, err = store.Enqueue(Stake(Alice, "2"))
	require.NoError(t, err)

	_, err = store.Enqueue(Stake(Alice, "3"))
	assert.ErrorIs(t, err, queue.ErrQueueFull)

	ops, err := store.List()
	require.NoError(t, err)
	require.Len(t, ops, 2)

	require.NoError(t, store.Remove(ops[0].ID))
	_, err = store.Enqueue(Stake(Alice, "3"))
	assert.NoError(t, err)
}

func testListAccount(t *testing.T, open OpenFunc) {
	store := open(t, t.TempDir(), queue.DefaultConfig(), nil)

	a1, err := store.Enqueue(Stake(Alice, "1"))
	require.NoError(t, err)
	_, err = store.Enqueue(Stake(Bob, "2"))
	require.NoError(t, err)
	a2, err := store.Enqueue(Unstake(Alice, "1"))
	require.NoError(t, err)

	ops, err := store.ListAccount(Alice)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, a1.ID, ops[0].ID)
	assert.Equal(t, a2.ID, ops[1].ID)

	none, err := store.ListAccount(Pool)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testGetRemove(t *testing.T, open OpenFunc) {
	store := open(t, t.TempDir(), queue.DefaultConfig(), nil)

	created, err := store.Enqueue(queue.Input{
		Account: Alice,
		Kind:    queue.KindApprove,
		Payload: queue.Payload{Amount: "500", Spender: Pool},
	})
	require.NoError(t, err)
	id := created.ID

	op, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, queue.KindApprove, op.Kind)
	assert.Equal(t, Pool, op.Payload.Spender)
	assert.Equal(t, created.Payload, op.Payload)
	assert.True(t, created.EnqueuedAt.Equal(op.EnqueuedAt))

	require.NoError(t, store.Remove(id))
	_, err = store.Get(id)
	assert.ErrorIs(t, err, queue.ErrNotFound)

	assert.NoError(t, store.Remove(id), "removing an absent operation is a no-op")
	assert.NoError(t, store.Remove("never-existed"))
}

func testIncrementRetry(t *testing.T, open OpenFunc) {
	store := open(t, t.TempDir(), queue.DefaultConfig(), nil)

	op, err := store.Enqueue(Stake(Alice, "1"))
	require.NoError(t, err)
	id := op.ID

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementRetry(id)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	op, err = store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 3, op.RetryCount)

	got, err := store.IncrementRetry("missing")
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func testSnapshots(t *testing.T, open OpenFunc) {
	store := open(t, t.TempDir(), queue.DefaultConfig(), nil)

	snap, err := store.Snapshot(Alice)
	require.NoError(t, err)
	assert.Nil(t, snap)

	updated := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveSnapshot(queue.Snapshot{
		Address:        Alice,
		StakedAmount:   big.NewInt(1000),
		RewardsAccrued: big.NewInt(7),
		LastUpdated:    updated,
	}))

	snap, err = store.Snapshot(Alice)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "1000", snap.StakedAmount.String())
	assert.Equal(t, "7", snap.RewardsAccrued.String())
	assert.True(t, snap.LastUpdated.Equal(updated))

	other, err := store.Snapshot(Bob)
	require.NoError(t, err)
	assert.Nil(t, other, "snapshots are kept per address")

	err = store.SaveSnapshot(queue.Snapshot{Address: Alice, StakedAmount: big.NewInt(-1), RewardsAccrued: big.NewInt(0)})
	assert.ErrorIs(t, err, queue.ErrInvalidInput)
}

func testReopen(t *testing.T, open OpenFunc) {
	dir := t.TempDir()
	store := open(t, dir, queue.DefaultConfig(), nil)

	first, err := store.Enqueue(Stake(Alice, "100"))
	require.NoError(t, err)
	second, err := store.Enqueue(Unstake(Alice, "40"))
	require.NoError(t, err)
	_, err = store.IncrementRetry(second.ID)
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot(queue.Snapshot{
		Address:        Alice,
		StakedAmount:   big.NewInt(5),
		RewardsAccrued: big.NewInt(0),
		LastUpdated:    time.Unix(100, 0),
	}))
	require.NoError(t, store.Close())

	reopened := open(t, dir, queue.DefaultConfig(), nil)

	ops, err := reopened.List()
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, first.ID, ops[0].ID)
	assert.Equal(t, second.ID, ops[1].ID)
	assert.Equal(t, 1, ops[1].RetryCount)

	snap, err := reopened.Snapshot(Alice)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "5", snap.StakedAmount.String())

	third, err := reopened.Enqueue(Stake(Alice, "1"))
	require.NoError(t, err)
	ops, err = reopened.List()
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, third.ID, ops[2].ID, "new operations append after reloaded ones")
}
