// Package badgerstore provides a durable Store backed by BadgerDB.
//
// Each store key maps directly to a badger key. Removing a key from the
// store deletes it from badger; an empty value is stored as a present,
// zero length value.
package badgerstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/nbroyles/undolog/internal/storage"
	log "github.com/sirupsen/logrus"
)

// Config holds configuration for a badger backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives badger's internal logging. If nil, it is discarded.
	Logger *log.Logger
}

// DefaultConfig returns a durable configuration rooted at path
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns configuration for tests
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Store implements storage.Store on a badger database
type Store struct {
	db *badger.DB
}

var _ storage.Store = &Store{}

// Open opens, creating if needed, a badger backed store
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(cfg.Logger)
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}

	return &Store{db: db}, nil
}

// Get returns a copy of the value stored under key, or nil when absent
func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		} else if err != nil {
			return err
		}

		value, err = item.ValueCopy(nil)
		if err == nil && value == nil {
			value = []byte{}
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed reading %s from store: %w", key, err)
	}

	return value, nil
}

// Set stores value under key, deleting key when value is nil
func (s *Store) Set(key string, value []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if value == nil {
			return txn.Delete([]byte(key))
		}
		return txn.Set([]byte(key), append([]byte{}, value...))
	})
	if err != nil {
		return fmt.Errorf("failed writing %s to store: %w", key, err)
	}

	return nil
}

// Snapshot returns every key and value currently in the store
func (s *Store) Snapshot() (map[string][]byte, error) {
	out := map[string][]byte{}
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if value == nil {
				value = []byte{}
			}
			out[string(item.KeyCopy(nil))] = value
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed iterating store: %w", err)
	}

	return out, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
