// Package metrics exposes synchronizer activity to Prometheus.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/livinlefevreloca/stakequeue/internal/events"
	"github.com/livinlefevreloca/stakequeue/internal/syncer"
)

const namespace = "stakequeue"

// SyncMetrics is implemented by SyncCollector and NoopCollector
type SyncMetrics interface {
	syncer.PassObserver
	ObserveEvent(e events.Event)
	EventDropped(subscriber string, e events.Event)
	QueueDepth(n int)
	Online(online bool)
}

// SyncCollector implements metric collection for the synchronizer
type SyncCollector struct {
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	operations   *prometheus.CounterVec
	dropped      *prometheus.CounterVec
	queueDepth   prometheus.Gauge
	online       prometheus.Gauge
}

var _ SyncMetrics = (*SyncCollector)(nil)

func NewSyncCollector(registerer prometheus.Registerer) *SyncCollector {
	passes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sync_passes_total",
		Help:      "sync passes by outcome: completed, halted on a dependency conflict, or aborted",
	}, []string{"outcome"})
	passDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sync_pass_duration_seconds",
		Help:      "wall time of a sync pass, including executor calls",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_events_total",
		Help:      "operation lifecycle events by event type and operation kind",
	}, []string{"event", "kind"})
	dropped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "lifecycle events a slow subscriber missed, by subscriber and event type",
	}, []string{"subscriber", "event"})
	queueDepth := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "operations waiting in the persistent queue",
	})
	online := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "online",
		Help:      "1 while the execution surface is reachable",
	})
	registerer.MustRegister(passes, passDuration, operations, dropped, queueDepth, online)

	return &SyncCollector{
		passes:       passes,
		passDuration: passDuration,
		operations:   operations,
		dropped:      dropped,
		queueDepth:   queueDepth,
		online:       online,
	}
}

func (c *SyncCollector) ObservePass(result syncer.PassResult) {
	outcome := "completed"
	switch {
	case result.Aborted:
		outcome = "aborted"
	case result.Halted:
		outcome = "halted"
	}
	c.passes.WithLabelValues(outcome).Inc()
	c.passDuration.Observe(result.Duration.Seconds())
}

func (c *SyncCollector) ObserveEvent(e events.Event) {
	kind := ""
	switch ev := e.(type) {
	case events.Queued:
		kind = string(ev.Kind)
	case events.Synced:
		kind = string(ev.Kind)
	case events.Retry:
		kind = string(ev.Kind)
	case events.Failed:
		kind = string(ev.Kind)
	case events.DependencyConflict:
		kind = string(ev.Kind)
	}
	c.operations.WithLabelValues(string(e.Type()), kind).Inc()
}

func (c *SyncCollector) EventDropped(subscriber string, e events.Event) {
	c.dropped.WithLabelValues(subscriber, string(e.Type())).Inc()
}

func (c *SyncCollector) QueueDepth(n int) {
	c.queueDepth.Set(float64(n))
}

func (c *SyncCollector) Online(online bool) {
	if online {
		c.online.Set(1)
	} else {
		c.online.Set(0)
	}
}

// Consume feeds every event from sub into m until ctx is done or sub is closed
func Consume(ctx context.Context, sub *events.Subscription, m SyncMetrics) {
	for {
		e, ok := sub.Next(ctx)
		if !ok {
			return
		}
		m.ObserveEvent(e)
	}
}
