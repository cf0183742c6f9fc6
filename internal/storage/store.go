package storage

import (
	"fmt"

	"github.com/nbroyles/undolog/internal/record"
)

// Store is the key-value mapping that actions are applied to. Store carries
// no transactional guarantees of its own; atomicity comes from the log.
type Store interface {
	// Get returns the value of key, or nil if the key is absent
	Get(key string) ([]byte, error)

	// Set stores value under key. A nil value removes the key
	Set(key string, value []byte) error
}

// ApplyChanges sets the new value of each change, in order
func ApplyChanges(store Store, changes []record.Change) error {
	for _, change := range changes {
		if err := store.Set(change.Key, change.New); err != nil {
			return fmt.Errorf("failed applying change to %s: %w", change.Key, err)
		}
	}
	return nil
}

// RestoreChanges sets the old value of each change, last change first.
// Restoring is idempotent no matter how many of the changes were applied.
func RestoreChanges(store Store, changes []record.Change) error {
	for i := len(changes) - 1; i >= 0; i-- {
		if err := store.Set(changes[i].Key, changes[i].Old); err != nil {
			return fmt.Errorf("failed restoring %s: %w", changes[i].Key, err)
		}
	}
	return nil
}
