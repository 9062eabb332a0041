package kvstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
	"github.com/vmihailenco/msgpack/v4"
)

var errKeyMissing = errors.New("kvstore: key missing")

// Key prefixes below the namespace
const (
	prefixOperation = "op/"   // op/<seq> -> operationRecord
	prefixIndex     = "id/"   // id/<operation id> -> seq
	prefixSnapshot  = "snap/" // snap/<address> -> snapshotRecord
	keySequence     = "meta/seq"
	keyCount        = "meta/count"
)

type keys struct {
	ns []byte
}

func (k keys) join(parts ...[]byte) []byte {
	key := make([]byte, 0, 64)
	key = append(key, k.ns...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func (k keys) operation(seq uint64) []byte {
	return k.join([]byte(prefixOperation), encodeUint(seq))
}

func (k keys) operations() []byte { return k.join([]byte(prefixOperation)) }

func (k keys) index(id string) []byte { return k.join([]byte(prefixIndex), []byte(id)) }

func (k keys) snapshot(address string) []byte {
	return k.join([]byte(prefixSnapshot), []byte(address))
}

func (k keys) sequence() []byte { return k.join([]byte(keySequence)) }

func (k keys) count() []byte { return k.join([]byte(keyCount)) }

// Big-endian so that byte order of op keys matches insertion order
func encodeUint(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid counter length %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// put encodes entity with msgpack and stores it under key
func put(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		val, err := msgpack.Marshal(entity)
		if err != nil {
			return fmt.Errorf("could not encode entity: %w", err)
		}
		if err := tx.Set(key, val); err != nil {
			return fmt.Errorf("could not store data: %w", err)
		}
		return nil
	}
}

// retrieve decodes the value under key into entity. Returns errKeyMissing if absent.
func retrieve(key []byte, entity interface{}) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return errKeyMissing
		}
		if err != nil {
			return fmt.Errorf("could not load data: %w", err)
		}

		return item.Value(func(val []byte) error {
			return decode(val, entity)
		})
	}
}

func decode(val []byte, entity interface{}) error {
	if err := msgpack.Unmarshal(val, entity); err != nil {
		return fmt.Errorf("could not decode entity: %w", err)
	}
	return nil
}

// counter reads a uint64 stored under key, or 0 if absent
func counter(tx *badger.Txn, key []byte) (uint64, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("could not load counter: %w", err)
	}

	val, err := item.ValueCopy(nil)
	if err != nil {
		return 0, fmt.Errorf("could not read counter: %w", err)
	}
	return decodeUint(val)
}

func setCounter(tx *badger.Txn, key []byte, v uint64) error {
	return tx.Set(key, encodeUint(v))
}

// iterate calls handle for every value whose key starts with prefix, in key order
func iterate(prefix []byte, handle func(val []byte) error) func(*badger.Txn) error {
	return func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := it.Item().Value(handle); err != nil {
				return err
			}
		}
		return nil
	}
}
