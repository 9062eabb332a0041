// Package kvstore implements queue.Store on top of an embedded Badger database.
//
// Layout, below a configurable namespace:
//
//	op/<seq>      queued operation, seq is a big-endian uint64 so keys sort in FIFO order
//	id/<id>       seq of the operation with that id
//	snap/<addr>   cached account snapshot
//	meta/seq      last assigned seq
//	meta/count    number of queued operations
package kvstore

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v2"

	"github.com/livinlefevreloca/stakequeue/internal/queue"
)

// Config configures the Badger-backed store
type Config struct {
	Dir       string `toml:"dir"`
	Namespace string `toml:"namespace"`
	InMemory  bool   `toml:"in_memory"`
}

// DefaultConfig returns the default Badger store configuration
func DefaultConfig() Config {
	return Config{
		Dir:       "stakequeue-data",
		Namespace: "stakequeue/",
	}
}

func ValidateConfig(config Config) error {
	if config.Dir == "" && !config.InMemory {
		return fmt.Errorf("Dir must be set unless InMemory is enabled")
	}
	if config.Namespace == "" {
		return fmt.Errorf("Namespace must not be empty")
	}
	return nil
}

type operationRecord struct {
	Seq           uint64 `msgpack:"seq"`
	ID            string `msgpack:"id"`
	Account       string `msgpack:"account"`
	Kind          string `msgpack:"kind"`
	Amount        string `msgpack:"amount,omitempty"`
	Spender       string `msgpack:"spender,omitempty"`
	RewardsAmount string `msgpack:"rewards_amount,omitempty"`
	EnqueuedAt    int64  `msgpack:"enqueued_at"`
	RetryCount    int    `msgpack:"retry_count"`
}

type snapshotRecord struct {
	Address        string `msgpack:"address"`
	StakedAmount   string `msgpack:"staked_amount"`
	RewardsAccrued string `msgpack:"rewards_accrued"`
	LastUpdated    int64  `msgpack:"last_updated"`
}

// Store is a queue.Store backed by Badger
type Store struct {
	db     *badger.DB
	keys   keys
	limits queue.Config
	clock  queue.Clock
	logger *slog.Logger

	// serializes read-modify-write transactions so they never hit badger.ErrConflict
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Open opens (or creates) the Badger database described by config
func Open(config Config, limits queue.Config, clock queue.Clock, logger *slog.Logger) (*Store, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	if err := queue.ValidateConfig(limits); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = queue.SystemClock()
	}

	opts := badger.DefaultOptions(config.Dir).WithLogger(nil)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, queue.StorageError("open badger", err)
	}

	logger.Info("opened badger queue store",
		"dir", config.Dir,
		"namespace", config.Namespace,
		"in_memory", config.InMemory)

	return &Store{
		db:     db,
		keys:   keys{ns: []byte(config.Namespace)},
		limits: limits,
		clock:  clock,
		logger: logger,
	}, nil
}

// Enqueue validates input, appends it to the end of the queue and returns the stored operation
func (s *Store) Enqueue(input queue.Input) (queue.Operation, error) {
	op, err := queue.NewOperation(input, s.clock.Now())
	if err != nil {
		return queue.Operation{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var seq uint64
	err = s.db.Update(func(tx *badger.Txn) error {
		count, err := counter(tx, s.keys.count())
		if err != nil {
			return err
		}
		if count >= uint64(s.limits.MaxQueueSize) {
			return queue.ErrQueueFull
		}

		last, err := counter(tx, s.keys.sequence())
		if err != nil {
			return err
		}
		seq = last + 1

		rec := toRecord(op, seq)
		if err := put(s.keys.operation(seq), rec)(tx); err != nil {
			return err
		}
		if err := tx.Set(s.keys.index(op.ID), encodeUint(seq)); err != nil {
			return err
		}
		if err := setCounter(tx, s.keys.sequence(), seq); err != nil {
			return err
		}
		return setCounter(tx, s.keys.count(), count+1)
	})
	if errors.Is(err, queue.ErrQueueFull) {
		return queue.Operation{}, err
	}
	if err != nil {
		return queue.Operation{}, queue.StorageError("enqueue", err)
	}

	s.logger.Debug("operation enqueued",
		"operation_id", op.ID,
		"account", op.Account,
		"kind", op.Kind,
		"seq", seq)

	return op, nil
}

// List returns all queued operations in FIFO order
func (s *Store) List() ([]queue.Operation, error) {
	return s.list(func(queue.Operation) bool { return true })
}

// ListAccount returns one account's queued operations in FIFO order
func (s *Store) ListAccount(account string) ([]queue.Operation, error) {
	account, err := queue.NormalizeAddress(account)
	if err != nil {
		return nil, err
	}
	return s.list(func(op queue.Operation) bool { return op.Account == account })
}

func (s *Store) list(keep func(queue.Operation) bool) ([]queue.Operation, error) {
	ops := []queue.Operation{}
	err := s.db.View(iterate(s.keys.operations(), func(val []byte) error {
		var rec operationRecord
		if err := decode(val, &rec); err != nil {
			return err
		}
		if op := fromRecord(rec); keep(op) {
			ops = append(ops, op)
		}
		return nil
	}))
	if err != nil {
		return nil, queue.StorageError("list operations", err)
	}
	return ops, nil
}

// Get returns the operation with the given ID
func (s *Store) Get(id string) (queue.Operation, error) {
	var rec operationRecord
	err := s.db.View(func(tx *badger.Txn) error {
		return s.lookup(tx, id, &rec)
	})
	if errors.Is(err, errKeyMissing) {
		return queue.Operation{}, queue.ErrNotFound
	}
	if err != nil {
		return queue.Operation{}, queue.StorageError("get operation", err)
	}
	return fromRecord(rec), nil
}

// Remove deletes an operation. Removing an absent ID is a no-op.
func (s *Store) Remove(id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	err := s.db.Update(func(tx *badger.Txn) error {
		var rec operationRecord
		if err := s.lookup(tx, id, &rec); err != nil {
			return err
		}

		count, err := counter(tx, s.keys.count())
		if err != nil {
			return err
		}
		if count > 0 {
			count--
		}

		if err := tx.Delete(s.keys.operation(rec.Seq)); err != nil {
			return err
		}
		if err := tx.Delete(s.keys.index(id)); err != nil {
			return err
		}
		return setCounter(tx, s.keys.count(), count)
	})
	if errors.Is(err, errKeyMissing) {
		return nil
	}
	if err != nil {
		return queue.StorageError("remove operation", err)
	}

	s.logger.Debug("operation removed", "operation_id", id)
	return nil
}

// IncrementRetry bumps the retry count and returns the new value
func (s *Store) IncrementRetry(id string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var count int
	err := s.db.Update(func(tx *badger.Txn) error {
		var rec operationRecord
		if err := s.lookup(tx, id, &rec); err != nil {
			return err
		}
		rec.RetryCount++
		count = rec.RetryCount
		return put(s.keys.operation(rec.Seq), rec)(tx)
	})
	if errors.Is(err, errKeyMissing) {
		return 0, nil
	}
	if err != nil {
		return 0, queue.StorageError("increment retry count", err)
	}
	return count, nil
}

// Snapshot returns the cached snapshot for account, or nil if none was ever saved
func (s *Store) Snapshot(account string) (*queue.Snapshot, error) {
	account, err := queue.NormalizeAddress(account)
	if err != nil {
		return nil, err
	}

	var rec snapshotRecord
	err = s.db.View(retrieve(s.keys.snapshot(account), &rec))
	if errors.Is(err, errKeyMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, queue.StorageError("get snapshot", err)
	}

	staked, err := queue.ParseAmount(rec.StakedAmount)
	if err != nil {
		return nil, queue.StorageError("decode staked amount", err)
	}
	rewards, err := queue.ParseAmount(rec.RewardsAccrued)
	if err != nil {
		return nil, queue.StorageError("decode rewards", err)
	}

	return &queue.Snapshot{
		Address:        rec.Address,
		StakedAmount:   staked,
		RewardsAccrued: rewards,
		LastUpdated:    time.Unix(0, rec.LastUpdated).UTC(),
	}, nil
}

// SaveSnapshot replaces the cached snapshot for snapshot.Address
func (s *Store) SaveSnapshot(snapshot queue.Snapshot) error {
	snapshot, err := queue.NormalizeSnapshot(snapshot)
	if err != nil {
		return err
	}

	rec := snapshotRecord{
		Address:        snapshot.Address,
		StakedAmount:   snapshot.StakedAmount.String(),
		RewardsAccrued: snapshot.RewardsAccrued.String(),
		LastUpdated:    snapshot.LastUpdated.UnixNano(),
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.db.Update(put(s.keys.snapshot(rec.Address), rec)); err != nil {
		return queue.StorageError("save snapshot", err)
	}
	return nil
}

// Len returns the number of queued operations
func (s *Store) Len() (int, error) {
	var count uint64
	err := s.db.View(func(tx *badger.Txn) error {
		var err error
		count, err = counter(tx, s.keys.count())
		return err
	})
	if err != nil {
		return 0, queue.StorageError("count operations", err)
	}
	return int(count), nil
}

// Close closes the Badger database. Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func (s *Store) lookup(tx *badger.Txn, id string, rec *operationRecord) error {
	item, err := tx.Get(s.keys.index(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errKeyMissing
	}
	if err != nil {
		return err
	}

	raw, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	seq, err := decodeUint(raw)
	if err != nil {
		return err
	}

	return retrieve(s.keys.operation(seq), rec)(tx)
}

func toRecord(op queue.Operation, seq uint64) operationRecord {
	return operationRecord{
		Seq:           seq,
		ID:            op.ID,
		Account:       op.Account,
		Kind:          string(op.Kind),
		Amount:        op.Payload.Amount,
		Spender:       op.Payload.Spender,
		RewardsAmount: op.Payload.RewardsAmount,
		EnqueuedAt:    op.EnqueuedAt.UnixNano(),
		RetryCount:    op.RetryCount,
	}
}

func fromRecord(rec operationRecord) queue.Operation {
	return queue.Operation{
		ID:      rec.ID,
		Account: rec.Account,
		Kind:    queue.Kind(rec.Kind),
		Payload: queue.Payload{
			Amount:        rec.Amount,
			Spender:       rec.Spender,
			RewardsAmount: rec.RewardsAmount,
		},
		EnqueuedAt: time.Unix(0, rec.EnqueuedAt).UTC(),
		RetryCount: rec.RetryCount,
	}
}
