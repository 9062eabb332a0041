package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/stakequeue/internal/events"
	"github.com/livinlefevreloca/stakequeue/internal/queue"
	"github.com/livinlefevreloca/stakequeue/internal/syncer"
	"github.com/livinlefevreloca/stakequeue/internal/testutil"
)

func TestSyncCollector_Passes(t *testing.T) {
	c := NewSyncCollector(prometheus.NewRegistry())

	c.ObservePass(syncer.PassResult{Duration: time.Second})
	c.ObservePass(syncer.PassResult{Halted: true})
	c.ObservePass(syncer.PassResult{Halted: true, Aborted: true})

	assert.Equal(t, 1.0, promtestutil.ToFloat64(c.passes.WithLabelValues("completed")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(c.passes.WithLabelValues("halted")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(c.passes.WithLabelValues("aborted")))
	assert.Equal(t, 1, promtestutil.CollectAndCount(c.passDuration))
}

func TestSyncCollector_GaugesAndEvents(t *testing.T) {
	c := NewSyncCollector(prometheus.NewRegistry())

	c.QueueDepth(7)
	c.Online(true)
	assert.Equal(t, 7.0, promtestutil.ToFloat64(c.queueDepth))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(c.online))

	c.Online(false)
	assert.Equal(t, 0.0, promtestutil.ToFloat64(c.online))

	c.ObserveEvent(events.Synced{Header: events.Header{ID: "a", Kind: queue.KindStake}})
	c.ObserveEvent(events.Synced{Header: events.Header{ID: "b", Kind: queue.KindStake}})
	c.ObserveEvent(events.Failed{Header: events.Header{ID: "c", Kind: queue.KindClaim}})

	assert.Equal(t, 2.0, promtestutil.ToFloat64(c.operations.WithLabelValues("synced", "stake")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(c.operations.WithLabelValues("failed", "claim")))

	c.EventDropped("notifier", events.Failed{Header: events.Header{ID: "d"}})
	assert.Equal(t, 1.0, promtestutil.ToFloat64(c.dropped.WithLabelValues("notifier", "failed")))
}

func TestSyncCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewSyncCollector(reg)
	assert.Panics(t, func() { NewSyncCollector(reg) })
}

func TestConsume(t *testing.T) {
	bus, err := events.NewBus(events.DefaultConfig(), testutil.NewTestLogger().Logger())
	require.NoError(t, err)
	c := NewSyncCollector(prometheus.NewRegistry())

	sub := bus.Subscribe("metrics")
	done := make(chan struct{})
	go func() {
		defer close(done)
		Consume(context.Background(), sub, c)
	}()

	bus.Publish(events.Queued{Header: events.Header{ID: "a", Kind: queue.KindApprove}})
	testutil.WaitFor(t, func() bool {
		return promtestutil.ToFloat64(c.operations.WithLabelValues("queued", "approve")) == 1
	}, time.Second)

	bus.Close()
	<-done
}

func TestNoopCollector(t *testing.T) {
	var m SyncMetrics = NewNoopCollector()
	m.ObservePass(syncer.PassResult{})
	m.ObserveEvent(events.Retry{})
	m.QueueDepth(1)
	m.Online(true)
}
