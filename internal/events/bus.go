package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livinlefevreloca/stakequeue/internal/inbox"
)

// Config sizes each subscriber's inbox
type Config struct {
	SubscriberBufferSize int           `toml:"subscriber_buffer_size"`
	SendTimeout          time.Duration `toml:"send_timeout"`
}

// DefaultConfig returns the default bus configuration
func DefaultConfig() Config {
	return Config{
		SubscriberBufferSize: 256,
		SendTimeout:          100 * time.Millisecond,
	}
}

func ValidateConfig(config Config) error {
	if config.SubscriberBufferSize <= 0 {
		return fmt.Errorf("SubscriberBufferSize must be positive, got %d", config.SubscriberBufferSize)
	}
	if config.SendTimeout <= 0 {
		return fmt.Errorf("SendTimeout must be positive, got %v", config.SendTimeout)
	}
	return nil
}

// Publisher is the emitting side of the bus
type Publisher interface {
	Publish(e Event)
}

// Bus delivers every published event to every current subscriber. A subscriber
// that stays full for longer than SendTimeout misses the event.
type Bus struct {
	config Config
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	closed bool
	onDrop func(subscriber string, e Event)
}

// Subscription is one consumer's view of the bus
type Subscription struct {
	id    int
	name  string
	inbox *inbox.Inbox[Event]
	bus   *Bus
}

// NewBus creates an event bus
func NewBus(config Config, logger *slog.Logger) (*Bus, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	return &Bus{
		config: config,
		logger: logger,
		subs:   make(map[int]*Subscription),
	}, nil
}

// Subscribe registers a new consumer. Events published before the call are not delivered.
func (b *Bus) Subscribe(name string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{
		id:    b.nextID,
		name:  name,
		inbox: inbox.New[Event]("events:"+name, b.config.SubscriberBufferSize, b.config.SendTimeout, b.logger),
		bus:   b,
	}
	b.nextID++

	if b.closed {
		sub.inbox.Close()
		return sub
	}

	b.subs[sub.id] = sub
	return sub
}

// OnDrop registers fn to be called for every event a subscriber misses
func (b *Bus) OnDrop(fn func(subscriber string, e Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Publish fans e out to all subscribers
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.inbox.Send(e) {
			continue
		}

		// terminal outcomes are logged at error
		level := slog.LevelWarn
		if t := e.Type(); t == TypeFailed || t == TypeDependencyConflict {
			level = slog.LevelError
		}
		b.logger.Log(context.Background(), level, "dropped event for slow subscriber",
			"subscriber", sub.name,
			"event", e.Type(),
			"operation_id", e.OperationID())

		if b.onDrop != nil {
			b.onDrop(sub.name, e)
		}
	}
}

// Close closes every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, sub := range b.subs {
		sub.inbox.Close()
		delete(b.subs, id)
	}
}

// Next blocks until the next event, ctx cancellation, or the subscription being closed
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	return s.inbox.Receive(ctx)
}

// TryNext returns a pending event without blocking
func (s *Subscription) TryNext() (Event, bool) {
	return s.inbox.TryReceive()
}

// Stats reports delivery statistics of this subscription
func (s *Subscription) Stats() inbox.Stats {
	return s.inbox.Stats()
}

// Unsubscribe detaches the subscription from the bus and closes it
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s.id)
	s.bus.mu.Unlock()

	s.inbox.Close()
}
