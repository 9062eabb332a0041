package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// TestLogger records log output so tests can assert on it
type TestLogger struct {
	mu      sync.Mutex
	entries []LogEntry
}

// LogEntry is one recorded record. Grouped attributes are flattened to "group.key".
type LogEntry struct {
	Level   slog.Level
	Message string
	Fields  map[string]any
}

func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

// Logger returns a *slog.Logger that writes to this TestLogger
func (l *TestLogger) Logger() *slog.Logger {
	return slog.New(&recordingHandler{sink: l})
}

func (l *TestLogger) record(e LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

// Entries returns a copy of everything logged so far
func (l *TestLogger) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Find returns the first entry with the given message
func (l *TestLogger) Find(msg string) (LogEntry, bool) {
	for _, e := range l.Entries() {
		if e.Message == msg {
			return e, true
		}
	}
	return LogEntry{}, false
}

// Contains reports whether any message contains substr
func (l *TestLogger) Contains(substr string) bool {
	for _, e := range l.Entries() {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func (l *TestLogger) hasLevel(level slog.Level) bool {
	for _, e := range l.Entries() {
		if e.Level == level {
			return true
		}
	}
	return false
}

func (l *TestLogger) HasError() bool   { return l.hasLevel(slog.LevelError) }
func (l *TestLogger) HasWarning() bool { return l.hasLevel(slog.LevelWarn) }

func (l *TestLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

type recordingHandler struct {
	sink   *TestLogger
	attrs  []slog.Attr
	prefix string
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		fields[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		fields[h.prefix+a.Key] = a.Value.Any()
		return true
	})

	h.sink.record(LogEntry{Level: r.Level, Message: r.Message, Fields: fields})
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &recordingHandler{sink: h.sink, prefix: h.prefix}
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return next
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &recordingHandler{sink: h.sink, attrs: h.attrs, prefix: h.prefix + name + "."}
}
