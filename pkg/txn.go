package pkg

import (
	"fmt"

	"github.com/nbroyles/undolog/internal/record"
	"github.com/nbroyles/undolog/internal/storage"
)

// Txn buffers the changes of one action. Nothing reaches the store until
// the function passed to Do returns.
type Txn struct {
	store   storage.Store
	changes []record.Change
	touched map[string]int
	state   record.State
	done    bool
}

func newTxn(store storage.Store, state record.State) *Txn {
	return &Txn{
		store:   store,
		touched: make(map[string]int),
		state:   state.Clone(),
	}
}

// SetStore sets key to value when the action commits. A nil value removes
// the key. The old value is taken from the store the first time a key is set.
func (t *Txn) SetStore(key string, value []byte) error {
	if t.done {
		return ErrTransactionDone
	}

	if i, ok := t.touched[key]; ok {
		t.changes[i].New = copyValue(value)
		return nil
	}

	old, err := t.store.Get(key)
	if err != nil {
		return fmt.Errorf("failed reading current value of %s: %w", key, err)
	}

	t.touched[key] = len(t.changes)
	t.changes = append(t.changes, record.Change{Key: key, Old: copyValue(old), New: copyValue(value)})
	return nil
}

// Delete removes key when the action commits
func (t *Txn) Delete(key string) error {
	return t.SetStore(key, nil)
}

// SetState sets a state value for the history after this action. Values
// must be strings, integers, floats or bools.
func (t *Txn) SetState(key string, value interface{}) error {
	if t.done {
		return ErrTransactionDone
	}

	v, err := record.NormalizeScalar(value)
	if err != nil {
		return fmt.Errorf("failed setting state %s: %w", key, err)
	}
	t.state[key] = v
	return nil
}

// Get returns the value key will have if the action commits
func (t *Txn) Get(key string) ([]byte, error) {
	if t.done {
		return nil, ErrTransactionDone
	}
	if i, ok := t.touched[key]; ok {
		return copyValue(t.changes[i].New), nil
	}
	return t.store.Get(key)
}

// State returns the state the history will have if the action commits
func (t *Txn) State() record.State {
	return t.state.Clone()
}

func copyValue(v []byte) []byte {
	if v == nil {
		return nil
	}
	return append([]byte{}, v...)
}
