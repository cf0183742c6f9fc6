package storage

// InMemoryStore is an ordered map backing the in memory Store
type InMemoryStore interface {
	// Get returns whether key is present and, if so, its value
	Get(key string) (bool, []byte)

	// Put inserts key or replaces its value
	Put(key string, value []byte)

	// Delete removes key. Returns false if key was not present
	Delete(key string) bool

	// Len returns the number of keys present
	Len() int

	// InternalIterator returns an iterator over every key in order
	InternalIterator() InternalIterator
}
