package queue

import "fmt"

// Store is the durable FIFO of queued operations plus the cached account snapshots.
// Every mutation is atomic and survives a process restart.
type Store interface {
	// Enqueue validates input, appends it to the end of the queue and returns
	// the stored operation, whose ID identifies it from then on
	Enqueue(input Input) (Operation, error)
	// List returns all queued operations in FIFO order
	List() ([]Operation, error)
	// ListAccount returns one account's queued operations in FIFO order
	ListAccount(account string) ([]Operation, error)
	// Get returns ErrNotFound if the operation is absent
	Get(id string) (Operation, error)
	// Remove is a no-op if the operation is absent
	Remove(id string) error
	// IncrementRetry returns the new retry count, or 0 if the operation is absent
	IncrementRetry(id string) (int, error)
	// Snapshot returns nil when the account has never been read live
	Snapshot(account string) (*Snapshot, error)
	SaveSnapshot(snapshot Snapshot) error
	Len() (int, error)
	Close() error
}

// Config bounds the queue
type Config struct {
	// MaxQueueSize rejects Enqueue with ErrQueueFull once reached
	MaxQueueSize int `toml:"max_queue_size"`
}

// DefaultConfig returns the default queue bounds
func DefaultConfig() Config {
	return Config{
		MaxQueueSize: 100,
	}
}

// ValidateConfig checks queue bounds
func ValidateConfig(config Config) error {
	if config.MaxQueueSize <= 0 {
		return fmt.Errorf("MaxQueueSize must be positive, got %d", config.MaxQueueSize)
	}
	return nil
}

// StorageError wraps a backend failure so callers can match both ErrStorage and the cause
func StorageError(action string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, action, err)
}
