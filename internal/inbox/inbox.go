package inbox

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Inbox is a bounded typed channel whose senders give up after a timeout
// instead of blocking the producer indefinitely.
type Inbox[T any] struct {
	name    string
	ch      chan T
	timeout time.Duration
	logger  *slog.Logger

	totalSent     atomic.Int64
	totalReceived atomic.Int64
	timeoutCount  atomic.Int64
	maxDepthSeen  atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

// Stats tracks inbox usage
type Stats struct {
	TotalSent     int64
	TotalReceived int64
	TimeoutCount  int64
	CurrentDepth  int
	MaxDepthSeen  int
}

// New creates an inbox with the specified buffer size and send timeout
func New[T any](name string, bufferSize int, timeout time.Duration, logger *slog.Logger) *Inbox[T] {
	return &Inbox[T]{
		name:    name,
		ch:      make(chan T, bufferSize),
		timeout: timeout,
		logger:  logger,
		closed:  make(chan struct{}),
	}
}

// Send delivers msg, waiting at most the configured timeout for buffer space.
// Returns false on timeout or if the inbox was closed.
func (ib *Inbox[T]) Send(msg T) bool {
	select {
	case <-ib.closed:
		return false
	default:
	}

	timer := time.NewTimer(ib.timeout)
	defer timer.Stop()

	select {
	case ib.ch <- msg:
		ib.totalSent.Add(1)
		ib.observeDepth()
		return true
	case <-ib.closed:
		return false
	case <-timer.C:
		ib.timeoutCount.Add(1)
		ib.logger.Warn("inbox send timeout",
			"inbox", ib.name,
			"timeout", ib.timeout,
			"current_depth", len(ib.ch))
		return false
	}
}

// TryReceive returns the next message without blocking
func (ib *Inbox[T]) TryReceive() (T, bool) {
	select {
	case msg := <-ib.ch:
		ib.totalReceived.Add(1)
		return msg, true
	default:
		var zero T
		return zero, false
	}
}

// Receive blocks until a message arrives, the inbox is closed and drained, or ctx is done
func (ib *Inbox[T]) Receive(ctx context.Context) (T, bool) {
	var zero T
	select {
	case msg := <-ib.ch:
		ib.totalReceived.Add(1)
		return msg, true
	case <-ctx.Done():
		return zero, false
	case <-ib.closed:
		// drain whatever was buffered before close
		return ib.TryReceive()
	}
}

// Done is closed when the inbox is closed
func (ib *Inbox[T]) Done() <-chan struct{} {
	return ib.closed
}

func (ib *Inbox[T]) observeDepth() {
	depth := int64(len(ib.ch))
	for {
		seen := ib.maxDepthSeen.Load()
		if depth <= seen || ib.maxDepthSeen.CompareAndSwap(seen, depth) {
			return
		}
	}
}

// Stats returns a copy of the current inbox statistics
func (ib *Inbox[T]) Stats() Stats {
	return Stats{
		TotalSent:     ib.totalSent.Load(),
		TotalReceived: ib.totalReceived.Load(),
		TimeoutCount:  ib.timeoutCount.Load(),
		CurrentDepth:  len(ib.ch),
		MaxDepthSeen:  int(ib.maxDepthSeen.Load()),
	}
}

// Len returns the current number of buffered messages
func (ib *Inbox[T]) Len() int {
	return len(ib.ch)
}

// Close stops accepting messages. Buffered messages can still be received.
func (ib *Inbox[T]) Close() {
	ib.closeOnce.Do(func() {
		close(ib.closed)
	})
}
