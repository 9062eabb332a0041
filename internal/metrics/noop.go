package metrics

import (
	"github.com/livinlefevreloca/stakequeue/internal/events"
	"github.com/livinlefevreloca/stakequeue/internal/syncer"
)

type NoopCollector struct{}

var _ SyncMetrics = NoopCollector{}

func NewNoopCollector() NoopCollector { return NoopCollector{} }

func (NoopCollector) ObservePass(syncer.PassResult)      {}
func (NoopCollector) ObserveEvent(events.Event)          {}
func (NoopCollector) EventDropped(string, events.Event) {}
func (NoopCollector) QueueDepth(int)                     {}
func (NoopCollector) Online(bool)                        {}
