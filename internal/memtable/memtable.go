package memtable

import (
	"time"

	"github.com/nbroyles/undolog/internal/skiplist"
	"github.com/nbroyles/undolog/internal/storage"
)

// MemTable is an ordered, in memory Store
type MemTable struct {
	memStore storage.InMemoryStore
}

var _ storage.Store = &MemTable{}

func New() *MemTable {
	return &MemTable{memStore: skiplist.New(time.Now().UnixNano())}
}

// Get returns the value of key or nil when absent. Never fails.
func (m *MemTable) Get(key string) ([]byte, error) {
	if found, val := m.memStore.Get(key); found {
		return copyValue(val), nil
	}
	return nil, nil
}

// Set stores a copy of value under key, or removes key when value is nil
func (m *MemTable) Set(key string, value []byte) error {
	if value == nil {
		m.memStore.Delete(key)
		return nil
	}
	m.memStore.Put(key, copyValue(value))
	return nil
}

// Snapshot returns every live key and value
func (m *MemTable) Snapshot() map[string][]byte {
	out := make(map[string][]byte, m.memStore.Len())
	for iter := m.InternalIterator(); iter.HasNext(); {
		entry := iter.Next()
		out[entry.Key] = copyValue(entry.Value)
	}
	return out
}

func (m *MemTable) InternalIterator() storage.InternalIterator {
	return m.memStore.InternalIterator()
}

func copyValue(v []byte) []byte {
	return append([]byte{}, v...)
}
