// Package connectivity tracks whether the remote execution surface is reachable.
package connectivity

import (
	"log/slog"
	"sync"
	"time"
)

// Transition is emitted whenever the online status changes
type Transition struct {
	Online bool
	At     time.Time
}

const subscriberBuffer = 8

// Monitor holds the current online status and notifies subscribers of changes
type Monitor struct {
	mu     sync.Mutex
	online bool
	since  time.Time
	subs   map[int]chan Transition
	nextID int
	logger *slog.Logger
}

// NewMonitor creates a monitor with the given initial status
func NewMonitor(online bool, logger *slog.Logger) *Monitor {
	return &Monitor{
		online: online,
		since:  time.Now(),
		subs:   make(map[int]chan Transition),
		logger: logger,
	}
}

// Online reports the current status
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Since returns when the current status began
func (m *Monitor) Since() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.since
}

// Set records the current status. Subscribers are notified only on change.
// Returns true if the status changed.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.online == online {
		return false
	}

	m.online = online
	m.since = time.Now()
	t := Transition{Online: online, At: m.since}

	m.logger.Info("connectivity changed", "online", online)

	for id, ch := range m.subs {
		select {
		case ch <- t:
		default:
			m.logger.Warn("dropped connectivity transition for slow subscriber", "subscriber", id)
		}
	}

	return true
}

// Subscribe returns a channel of future transitions and a function that
// cancels the subscription and closes the channel.
func (m *Monitor) Subscribe() (<-chan Transition, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Transition, subscriberBuffer)
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}

	return ch, cancel
}
