// Package events defines the closed set of lifecycle events emitted for queued
// operations and a bus that fans them out to subscribers.
package events

import (
	"time"

	"github.com/livinlefevreloca/stakequeue/internal/queue"
)

// Type discriminates event variants
type Type string

const (
	TypeQueued             Type = "queued"
	TypeSynced             Type = "synced"
	TypeRetry              Type = "retry"
	TypeFailed             Type = "failed"
	TypeDependencyConflict Type = "dependency-conflict"
)

// Event is implemented only by the variants in this package
type Event interface {
	Type() Type
	OperationID() string
	OccurredAt() time.Time
	isEvent()
}

// Header holds the fields shared by every variant
type Header struct {
	ID     string     `json:"operation_id"`
	At     time.Time  `json:"at"`
	Kind   queue.Kind `json:"operation_kind"`
	Amount string     `json:"amount,omitempty"`
}

func (h Header) OperationID() string   { return h.ID }
func (h Header) OccurredAt() time.Time { return h.At }
func (Header) isEvent()                {}

// Queued is emitted after an operation was durably enqueued
type Queued struct {
	Header
	Account string `json:"account"`
}

// Synced is emitted after an operation executed successfully and left the queue
type Synced struct {
	Header
	TransactionID string `json:"transaction_id,omitempty"`
}

// Retry is emitted after a failed attempt that still has retry budget left
type Retry struct {
	Header
	RetryCount int    `json:"retry_count"`
	Error      string `json:"error"`
}

// Failed is emitted when an operation exhausted its retries and was dropped
type Failed struct {
	Header
	Retries int    `json:"retries"`
	Error   string `json:"error"`
}

// DependencyConflict is emitted when a sync pass halts because an operation's
// preconditions do not hold against the projected state
type DependencyConflict struct {
	Header
	Reason      string `json:"reason"`
	QueuePaused bool   `json:"queue_paused"`
}

func (Queued) Type() Type             { return TypeQueued }
func (Synced) Type() Type             { return TypeSynced }
func (Retry) Type() Type              { return TypeRetry }
func (Failed) Type() Type             { return TypeFailed }
func (DependencyConflict) Type() Type { return TypeDependencyConflict }

// For builds the shared header for op at time at
func For(op queue.Operation, at time.Time) Header {
	return Header{ID: op.ID, At: at, Kind: op.Kind, Amount: op.Payload.Amount}
}
