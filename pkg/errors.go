package pkg

import (
	"errors"

	"github.com/nbroyles/undolog/internal/record"
	"github.com/nbroyles/undolog/internal/redo"
)

var (
	// ErrEmptyHistory is returned by Undo when there is nothing to undo
	ErrEmptyHistory = errors.New("history is empty")
	// ErrNoPendingRedo is returned by Redo when nothing has been undone
	ErrNoPendingRedo = redo.ErrNoPendingRedo
	// ErrInvalidRedoIndex is returned by Redo for an index that cannot be redone
	ErrInvalidRedoIndex = redo.ErrInvalidRedoIndex
	// ErrNestedTransaction is returned when an operation starts inside a transaction
	ErrNestedTransaction = errors.New("operation attempted inside a transaction")
	// ErrCancelTransaction may be returned from a transaction to abandon it
	// without writing anything
	ErrCancelTransaction = errors.New("transaction cancelled")
	// ErrTransactionDone is returned when a transaction is used after it finished
	ErrTransactionDone = errors.New("transaction already finished")
	// ErrLogNotFound is returned when no log is available to open
	ErrLogNotFound = errors.New("log not found")
	// ErrLogExists is returned when creating a log that already exists
	ErrLogExists = errors.New("log already exists")
	// ErrStoreNotFound is returned when no store was provided
	ErrStoreNotFound = errors.New("store not found")
	// ErrClosed is returned by operations on a closed OpLog
	ErrClosed = errors.New("oplog is closed")

	// ErrNotFound is returned when a record id is not in the log
	ErrNotFound = record.ErrNotFound
	// ErrCorruptRecord is returned when a record cannot be decoded or breaks
	// the links expected between records
	ErrCorruptRecord = record.ErrCorruptRecord
	// ErrWriteFailure is returned when the log or store cannot persist a write
	ErrWriteFailure = record.ErrWriteFailure
)
