package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/stakequeue/internal/queue"
	"github.com/livinlefevreloca/stakequeue/internal/testutil"
)

func newBus(t *testing.T, config Config) (*Bus, *testutil.TestLogger) {
	t.Helper()
	logger := testutil.NewTestLogger()
	bus, err := NewBus(config, logger.Logger())
	require.NoError(t, err)
	t.Cleanup(bus.Close)
	return bus, logger
}

func TestEvent_Variants(t *testing.T) {
	op := queue.Operation{ID: "op-1", Kind: queue.KindUnstake}
	at := time.Unix(100, 0)
	h := For(op, at)

	variants := []struct {
		event Event
		want  Type
	}{
		{Queued{Header: h}, TypeQueued},
		{Synced{Header: h}, TypeSynced},
		{Retry{Header: h}, TypeRetry},
		{Failed{Header: h}, TypeFailed},
		{DependencyConflict{Header: h, QueuePaused: true}, TypeDependencyConflict},
	}

	for _, v := range variants {
		assert.Equal(t, v.want, v.event.Type())
		assert.Equal(t, "op-1", v.event.OperationID())
		assert.True(t, v.event.OccurredAt().Equal(at))
	}
}

func TestBus_FanOut(t *testing.T) {
	bus, _ := newBus(t, DefaultConfig())

	a := bus.Subscribe("a")
	b := bus.Subscribe("b")

	bus.Publish(Queued{Header: Header{ID: "op-1"}})
	bus.Publish(Synced{Header: Header{ID: "op-1"}, TransactionID: "0xabc"})

	for _, sub := range []*Subscription{a, b} {
		first, ok := sub.TryNext()
		require.True(t, ok)
		assert.Equal(t, TypeQueued, first.Type())

		second, ok := sub.Next(context.Background())
		require.True(t, ok)
		synced, isSynced := second.(Synced)
		require.True(t, isSynced)
		assert.Equal(t, "0xabc", synced.TransactionID)
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus, _ := newBus(t, DefaultConfig())

	sub := bus.Subscribe("gone")
	sub.Unsubscribe()

	bus.Publish(Queued{Header: Header{ID: "op-1"}})

	_, ok := sub.TryNext()
	assert.False(t, ok)
}

func TestBus_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus, logger := newBus(t, Config{SubscriberBufferSize: 1, SendTimeout: time.Millisecond})

	slow := bus.Subscribe("slow")

	bus.Publish(Queued{Header: Header{ID: "op-1"}})
	bus.Publish(Queued{Header: Header{ID: "op-2"}})

	assert.Equal(t, int64(1), slow.Stats().TimeoutCount)
	assert.True(t, logger.HasWarning())
	assert.False(t, logger.HasError(), "a missed queued event is only a warning")
}

func TestBus_DroppedTerminalEventsAreErrorsAndCounted(t *testing.T) {
	bus, logger := newBus(t, Config{SubscriberBufferSize: 1, SendTimeout: time.Millisecond})

	var dropped []Type
	bus.OnDrop(func(subscriber string, e Event) {
		assert.Equal(t, "slow", subscriber)
		dropped = append(dropped, e.Type())
	})

	bus.Subscribe("slow")
	bus.Publish(Synced{Header: Header{ID: "op-1"}})
	bus.Publish(Failed{Header: Header{ID: "op-2"}, Retries: 3})
	bus.Publish(DependencyConflict{Header: Header{ID: "op-3"}, QueuePaused: true})

	assert.Equal(t, []Type{TypeFailed, TypeDependencyConflict}, dropped)
	assert.True(t, logger.HasError())
}

func TestBus_CloseEndsSubscriptions(t *testing.T) {
	bus, _ := newBus(t, DefaultConfig())
	sub := bus.Subscribe("x")

	bus.Close()

	_, ok := sub.Next(context.Background())
	assert.False(t, ok)

	late := bus.Subscribe("late")
	_, ok = late.Next(context.Background())
	assert.False(t, ok)
}

func TestNewBus_InvalidConfig(t *testing.T) {
	_, err := NewBus(Config{}, testutil.NewTestLogger().Logger())
	assert.Error(t, err)
}
