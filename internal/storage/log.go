package storage

import "github.com/nbroyles/undolog/internal/record"

// Log is an append-only, id-indexed sequence of records. Ids start at 1 and
// are dense: the record appended after id n always gets id n+1.
type Log interface {
	// Append assigns the next id to rec, persists it and returns the id.
	// Failure to persist yields an error wrapping record.ErrWriteFailure
	Append(rec *record.Record) (uint64, error)

	// Read returns the record with the given id. Unknown ids yield
	// record.ErrNotFound and undecodable bytes record.ErrCorruptRecord
	Read(id uint64) (*record.Record, error)

	// Tail returns the id of the last record, and false if the log is empty
	Tail() (uint64, bool)

	// Rewrite atomically replaces the entire contents of the log. The
	// records must be numbered 1..n in order
	Rewrite(records []*record.Record) error
}
