package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/livinlefevreloca/stakequeue/internal/db"
)

// SQLStore is a Store backed by the SQL database in internal/db
type SQLStore struct {
	db     *db.DB
	config Config
	clock  Clock
	logger *slog.Logger
}

// NewSQLStore creates a store over an opened and migrated database
func NewSQLStore(database *db.DB, config Config, clock Clock, logger *slog.Logger) (*SQLStore, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock()
	}

	return &SQLStore{
		db:     database,
		config: config,
		clock:  clock,
		logger: logger,
	}, nil
}

// Enqueue validates input, appends it to the end of the queue and returns the stored operation
func (s *SQLStore) Enqueue(input Input) (Operation, error) {
	op, err := NewOperation(input, s.clock.Now())
	if err != nil {
		return Operation{}, err
	}

	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return Operation{}, fmt.Errorf("failed to encode payload: %w", err)
	}

	row := &db.OperationRow{
		ID:         op.ID,
		Account:    op.Account,
		Kind:       string(op.Kind),
		Payload:    string(payload),
		EnqueuedAt: op.EnqueuedAt,
	}

	err = s.db.WithTransaction(func(tx *db.Tx) error {
		count, err := tx.CountOperations()
		if err != nil {
			return StorageError("count operations", err)
		}
		if count >= s.config.MaxQueueSize {
			return ErrQueueFull
		}

		if err := tx.InsertOperation(row); err != nil {
			return StorageError("insert operation", err)
		}
		return nil
	})
	if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrStorage) {
		return Operation{}, err
	}
	if err != nil {
		return Operation{}, StorageError("enqueue", err)
	}

	s.logger.Debug("operation enqueued",
		"operation_id", op.ID,
		"account", op.Account,
		"kind", op.Kind,
		"seq", row.Seq)

	return op, nil
}

// List returns all queued operations in FIFO order
func (s *SQLStore) List() ([]Operation, error) {
	rows, err := s.db.ListOperations()
	if err != nil {
		return nil, StorageError("list operations", err)
	}
	return fromRows(rows)
}

// ListAccount returns one account's queued operations in FIFO order
func (s *SQLStore) ListAccount(account string) ([]Operation, error) {
	account, err := NormalizeAddress(account)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.ListOperationsByAccount(account)
	if err != nil {
		return nil, StorageError("list account operations", err)
	}
	return fromRows(rows)
}

// Get returns the operation with the given ID
func (s *SQLStore) Get(id string) (Operation, error) {
	row, err := s.db.GetOperation(id)
	if db.IsNotFound(err) {
		return Operation{}, ErrNotFound
	}
	if err != nil {
		return Operation{}, StorageError("get operation", err)
	}
	return fromRow(*row)
}

// Remove deletes an operation. Removing an absent ID is a no-op.
func (s *SQLStore) Remove(id string) error {
	removed, err := s.db.DeleteOperation(id)
	if err != nil {
		return StorageError("delete operation", err)
	}
	if removed {
		s.logger.Debug("operation removed", "operation_id", id)
	}
	return nil
}

// IncrementRetry bumps the retry count and returns the new value
func (s *SQLStore) IncrementRetry(id string) (int, error) {
	var count int
	err := s.db.WithTransaction(func(tx *db.Tx) error {
		var err error
		count, err = tx.IncrementRetryCount(id)
		return err
	})
	if db.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, StorageError("increment retry count", err)
	}
	return count, nil
}

// Snapshot returns the cached snapshot for account, or nil if none was ever saved
func (s *SQLStore) Snapshot(account string) (*Snapshot, error) {
	account, err := NormalizeAddress(account)
	if err != nil {
		return nil, err
	}

	row, err := s.db.GetSnapshot(account)
	if db.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, StorageError("get snapshot", err)
	}

	staked, err := ParseAmount(row.StakedAmount)
	if err != nil {
		return nil, StorageError("decode staked amount", err)
	}
	rewards, err := ParseAmount(row.RewardsAccrued)
	if err != nil {
		return nil, StorageError("decode rewards", err)
	}

	return &Snapshot{
		Address:        row.Address,
		StakedAmount:   staked,
		RewardsAccrued: rewards,
		LastUpdated:    row.LastUpdated,
	}, nil
}

// SaveSnapshot replaces the cached snapshot for snapshot.Address
func (s *SQLStore) SaveSnapshot(snapshot Snapshot) error {
	row, err := snapshotRow(snapshot)
	if err != nil {
		return err
	}
	if err := s.db.UpsertSnapshot(row); err != nil {
		return StorageError("save snapshot", err)
	}
	return nil
}

// Len returns the number of queued operations
func (s *SQLStore) Len() (int, error) {
	count, err := s.db.CountOperations()
	if err != nil {
		return 0, StorageError("count operations", err)
	}
	return count, nil
}

// Close closes the underlying database
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func snapshotRow(snapshot Snapshot) (*db.SnapshotRow, error) {
	snapshot, err := NormalizeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}

	return &db.SnapshotRow{
		Address:        snapshot.Address,
		StakedAmount:   snapshot.StakedAmount.String(),
		RewardsAccrued: snapshot.RewardsAccrued.String(),
		LastUpdated:    snapshot.LastUpdated,
	}, nil
}

func fromRows(rows []db.OperationRow) ([]Operation, error) {
	ops := make([]Operation, 0, len(rows))
	for _, row := range rows {
		op, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func fromRow(row db.OperationRow) (Operation, error) {
	var payload Payload
	if err := json.Unmarshal([]byte(row.Payload), &payload); err != nil {
		return Operation{}, StorageError(fmt.Sprintf("decode payload of %s", row.ID), err)
	}

	kind := Kind(row.Kind)
	if !kind.Valid() {
		return Operation{}, StorageError("decode operation", errors.New("unknown kind "+row.Kind))
	}

	return Operation{
		ID:         row.ID,
		Account:    row.Account,
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: row.EnqueuedAt,
		RetryCount: row.RetryCount,
	}, nil
}
