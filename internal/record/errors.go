package record

import "errors"

var (
	// ErrNotFound is returned when a log has no record with the requested id
	ErrNotFound = errors.New("record not found")
	// ErrCorruptRecord is returned when stored bytes cannot be decoded into a record
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrWriteFailure is returned when a record could not be durably persisted
	ErrWriteFailure = errors.New("write failure")
)
