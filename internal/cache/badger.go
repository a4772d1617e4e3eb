package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/jonboulle/clockwork"
)

// BadgerBackend is the on-disk L3 tier; it keeps warm data across daemon
// restarts.
type BadgerBackend struct {
	db    *badger.DB
	clock clockwork.Clock
}

// OpenBadgerBackend opens (or creates) the store at path. With inMemory set
// path is ignored and nothing touches disk.
func OpenBadgerBackend(path string, inMemory bool, clock clockwork.Clock) (*BadgerBackend, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger cache: %w", err)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BadgerBackend{db: db, clock: clock}, nil
}

func (b *BadgerBackend) Get(ctx context.Context, key string) (interface{}, bool, error) {
	v, _, ok, err := b.GetWithTTL(ctx, key)
	return v, ok, err
}

func (b *BadgerBackend) GetWithTTL(_ context.Context, key string) (interface{}, time.Duration, bool, error) {
	var raw []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			raw = append([]byte(nil), v...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read badger cache: %w", err)
	}

	e, err := decodeItem(key, raw)
	if err != nil {
		return nil, 0, false, err
	}
	now := b.clock.Now()
	if !e.Valid(now) {
		return nil, 0, false, nil
	}
	return e.Value, e.remaining(now), true, nil
}

func (b *BadgerBackend) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := encodeItem(value, b.clock.Now(), ttl, 0)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), raw)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *BadgerBackend) Delete(_ context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// DeletePrefix collects matching keys with a key-only iterator and removes
// them through a write batch.
func (b *BadgerBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	p := []byte(prefix)
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan badger cache: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("failed to delete badger cache key: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to flush badger deletes: %w", err)
	}
	return len(keys), nil
}

func (b *BadgerBackend) Close() error {
	return b.db.Close()
}
