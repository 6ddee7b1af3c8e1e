// Package badgerstore implements storage.Backend on an embedded Badger database.
// Namespaces are key prefixes; DB.Size backs the usage estimate.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v3"
	"github.com/sirupsen/logrus"

	"tripmap-offline/internal/storage"
)

const separator = 0x00

// Backend is a Badger-backed storage.Backend
type Backend struct {
	db *badger.DB
}

// Open opens (or creates) a database in dir. An empty dir opens an in-memory database.
func Open(dir string, log *logrus.Entry) (*Backend, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if log != nil {
		opts = opts.WithLogger(log.WithField("component", "badger"))
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %q: %w", dir, err)
	}
	return &Backend{db: db}, nil
}

func prefix(namespace string) []byte {
	return append([]byte(namespace), separator)
}

func itemKey(namespace, key string) []byte {
	return append(prefix(namespace), key...)
}

// Put implements storage.Backend
func (b *Backend) Put(ctx context.Context, namespace, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(itemKey(namespace, key), value)
	})
}

// Get implements storage.Backend
func (b *Backend) Get(ctx context.Context, namespace, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(itemKey(namespace, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	return value, err
}

// GetAll implements storage.Backend
func (b *Backend) GetAll(ctx context.Context, namespace string) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var values [][]byte
	p := prefix(namespace)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			values = append(values, v)
		}
		return nil
	})
	return values, err
}

// Delete implements storage.Backend
func (b *Backend) Delete(ctx context.Context, namespace, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(itemKey(namespace, key))
	})
}

// Clear implements storage.Backend
func (b *Backend) Clear(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.DropPrefix(prefix(namespace))
}

// ReplaceAll implements storage.Backend in a single transaction
func (b *Backend) ReplaceAll(ctx context.Context, namespace string, entries map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := prefix(namespace)
	return b.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var stale [][]byte
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for key, value := range entries {
			if err := txn.Set(itemKey(namespace, key), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Usage implements storage.UsageEstimator from the LSM and value-log sizes
func (b *Backend) Usage(ctx context.Context) (int64, error) {
	lsm, vlog := b.db.Size()
	return lsm + vlog, nil
}

// Close implements storage.Backend
func (b *Backend) Close() error {
	return b.db.Close()
}
