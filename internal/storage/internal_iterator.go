package storage

// Entry is a live key/value pair
type Entry struct {
	Key   string
	Value []byte
}

// InternalIterator is an interface that allows us to iterate over every element in an
// in memory store. Not threadsafe so make use of while the store is not being written
type InternalIterator interface {
	// Returns true if there's another entry available in the iterator
	HasNext() bool

	// Returns the next entry in the iterator
	Next() *Entry
}
