// Package notifier turns operation events and connectivity changes into
// user-facing notifications and delivers them to sinks.
package notifier

import (
	"context"
	"log/slog"
	"sync"

	"github.com/livinlefevreloca/stakequeue/internal/connectivity"
	"github.com/livinlefevreloca/stakequeue/internal/events"
)

// EventSource hands out event subscriptions
type EventSource interface {
	Subscribe(name string) *events.Subscription
}

// Connectivity publishes online/offline transitions
type Connectivity interface {
	Subscribe() (<-chan connectivity.Transition, func())
}

// Notifier delivers a notification for every rendered event and connectivity change
type Notifier struct {
	source       EventSource
	connectivity Connectivity
	sinks        []Sink
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a notifier. connectivity may be nil.
func New(source EventSource, conn Connectivity, sinks []Sink, logger *slog.Logger) *Notifier {
	return &Notifier{
		source:       source,
		connectivity: conn,
		sinks:        sinks,
		logger:       logger,
	}
}

// Notify delivers n to every sink. Sink errors are logged.
func (n *Notifier) Notify(notification Notification) {
	for _, sink := range n.sinks {
		if err := sink.Deliver(notification); err != nil {
			n.logger.Warn("notification delivery failed", "tag", notification.Tag, "error", err)
		}
	}
}

// Start subscribes to events and connectivity
func (n *Notifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	sub := n.source.Subscribe("notifier")

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer sub.Unsubscribe()

		for {
			e, ok := sub.Next(ctx)
			if !ok {
				return
			}
			if notification, ok := Render(e); ok {
				n.Notify(notification)
			}
		}
	}()

	if n.connectivity == nil {
		return
	}

	transitions, unsubscribe := n.connectivity.Subscribe()
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-transitions:
				if !ok {
					return
				}
				if t.Online {
					n.Notify(BackOnline(t.At))
				} else {
					n.Notify(Offline(t.At))
				}
			}
		}
	}()
}

// Stop ends both subscriptions
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
}
