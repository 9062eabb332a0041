package notifier

import (
	"context"
	"log/slog"
	"sync"
)

// Sink receives rendered notifications
type Sink interface {
	Deliver(n Notification) error
}

// LogSink writes notifications to the log
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs at info level, or warn for notifications requiring interaction
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(n Notification) error {
	level := slog.LevelInfo
	if n.RequireInteraction {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, n.Title, "body", n.Body, "tag", n.Tag)
	return nil
}

// RingSink keeps the most recent notifications in memory
type RingSink struct {
	mu    sync.Mutex
	buf   []Notification
	next  int
	count int
}

// NewRingSink creates a ring holding up to capacity notifications
func NewRingSink(capacity int) *RingSink {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingSink{buf: make([]Notification, capacity)}
}

func (s *RingSink) Deliver(n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf[s.next] = n
	s.next = (s.next + 1) % len(s.buf)
	if s.count < len(s.buf) {
		s.count++
	}
	return nil
}

// Recent returns up to limit notifications, newest first. limit <= 0 returns all.
func (s *RingSink) Recent(limit int) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > s.count {
		limit = s.count
	}

	out := make([]Notification, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.buf)) % len(s.buf)
		out = append(out, s.buf[idx])
	}
	return out
}

// MessageNotification is the message type used when pushing to wallet clients
const MessageNotification = "notification"

// Broadcaster pushes a one-way message to connected clients
type Broadcaster interface {
	Broadcast(msgType string, payload any) error
}

// BridgeSink pushes notifications to connected wallet clients
type BridgeSink struct {
	broadcaster Broadcaster
}

// NewBridgeSink creates a sink over b
func NewBridgeSink(b Broadcaster) *BridgeSink {
	return &BridgeSink{broadcaster: b}
}

func (s *BridgeSink) Deliver(n Notification) error {
	return s.broadcaster.Broadcast(MessageNotification, n)
}
