package pkg

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nbroyles/undolog/internal/compaction"
	"github.com/nbroyles/undolog/internal/history"
	"github.com/nbroyles/undolog/internal/record"
	"github.com/nbroyles/undolog/internal/redo"
	"github.com/nbroyles/undolog/internal/storage"
	log "github.com/sirupsen/logrus"
)

// Options configures an OpLog
type Options struct {
	// Log holds every action. Required.
	Log storage.Log
	// Store is the key-value mapping actions are applied to. Required.
	Store storage.Store
	// InitialState is the state of the empty history
	InitialState record.State
	// Clock supplies action timestamps. Defaults to time.Now
	Clock func() time.Time
}

// OpLog records changes to a Store as actions in an append-only Log and
// lets them be undone and redone. The linear history is never stored as
// such: it is read back from the doId and prevId of commit records.
//
// OpLog is not safe for concurrent use and expects to be the only writer
// of its Log and Store.
type OpLog struct {
	log   storage.Log
	store storage.Store
	redos *redo.Index
	head  history.Head

	initialState record.State
	clock        func() time.Time

	// a transaction is open
	inTxn bool
	// a write failed after its prepare was appended
	dirty  bool
	closed bool
}

// Open attaches to a Log and Store, neutralises any interrupted write and
// rebuilds the redo candidates
func Open(opts Options) (*OpLog, error) {
	if opts.Log == nil {
		return nil, ErrLogNotFound
	}
	if opts.Store == nil {
		return nil, ErrStoreNotFound
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	l := &OpLog{
		log:          opts.Log,
		store:        opts.Store,
		redos:        redo.NewIndex(),
		initialState: opts.InitialState.Clone(),
		clock:        clock,
	}

	if err := l.recover(); err != nil {
		return nil, fmt.Errorf("failed recovering oplog: %w", err)
	}

	redos, err := history.RebuildRedo(l.log)
	if err != nil {
		return nil, fmt.Errorf("failed rebuilding redo candidates: %w", err)
	}
	l.redos = redos

	log.WithFields(log.Fields{"head": l.head.ID, "redos": redos.Len()}).Debug("opened oplog")
	return l, nil
}

// recover restores the store if the log ends with a prepare that was never
// committed, then reloads the head. The orphaned prepare is left in place.
func (l *OpLog) recover() error {
	pending, err := history.Pending(l.log)
	if err != nil {
		return err
	}

	if pending != nil {
		if err := storage.RestoreChanges(l.store, pending.Changes); err != nil {
			return fmt.Errorf("%w: failed restoring changes of record %d: %v", ErrWriteFailure, pending.ID, err)
		}
		log.WithFields(log.Fields{
			"id":      pending.ID,
			"kind":    pending.Kind,
			"label":   pending.Label,
			"changes": len(pending.Changes),
		}).Info("restored store after interrupted write")
	}

	head, err := history.FindHead(l.log, l.initialState)
	if err != nil {
		return err
	}
	l.head = head
	l.dirty = false

	return nil
}

// begin checks that an operation may start, running recovery first if an
// earlier write was left unfinished
func (l *OpLog) begin() error {
	if l.closed {
		return ErrClosed
	}
	if l.inTxn {
		return ErrNestedTransaction
	}
	if l.dirty {
		if err := l.recover(); err != nil {
			return fmt.Errorf("failed recovering from earlier write failure: %w", err)
		}
	}
	return nil
}

// write runs the two-phase protocol: prepare, apply to store, commit.
// A failure after the prepare is durable leaves the OpLog dirty until the
// next recovery.
func (l *OpLog) write(kind record.Kind, doID, prevID uint64, label string,
	changes []record.Change, state record.State) (*record.Record, error) {
	ts := l.clock().UTC()

	prepare := record.NewPrepare(kind, doID, prevID, label, ts, changes)
	if _, err := l.log.Append(prepare); err != nil {
		return nil, fmt.Errorf("failed appending %s: %w", kind, err)
	}
	log.WithFields(log.Fields{"id": prepare.ID, "kind": kind, "do": doID, "prev": prevID}).Debug("prepared")

	if kind == record.KindPrepareDo && prepare.ID+1 != doID {
		l.dirty = true
		return nil, fmt.Errorf("%w: log assigned id %d to prepare, expected %d", ErrCorruptRecord, prepare.ID, doID-1)
	}

	if err := storage.ApplyChanges(l.store, changes); err != nil {
		l.dirty = true
		return nil, fmt.Errorf("%w: %v", ErrWriteFailure, err)
	}
	log.WithFields(log.Fields{"id": prepare.ID, "changes": len(changes)}).Debug("applied changes")

	commit := record.NewCommit(kind.Commit(), doID, prevID, label, ts, state)
	if _, err := l.log.Append(commit); err != nil {
		l.dirty = true
		return nil, fmt.Errorf("failed appending %s: %w", commit.Kind, err)
	}
	log.WithFields(log.Fields{"id": commit.ID, "kind": commit.Kind, "do": doID, "prev": prevID}).Debug("committed")

	l.head = history.HeadOf(commit)
	return commit, nil
}

// Do runs fn in a transaction and records what it changed as a new action.
// If fn returns an error nothing is written; ErrCancelTransaction is not
// reported back. Do returns the id of the head commit afterwards.
func (l *OpLog) Do(label string, fn func(txn *Txn) error) (uint64, error) {
	if err := l.begin(); err != nil {
		return 0, err
	}

	txn := newTxn(l.store, l.head.State)
	err := l.run(txn, fn)
	if errors.Is(err, ErrCancelTransaction) {
		log.WithField("label", label).Debug("transaction cancelled")
		return l.head.ID, nil
	} else if err != nil {
		return 0, err
	}

	tail, _ := l.log.Tail()
	doID := tail + 2
	commit, err := l.write(record.KindPrepareDo, doID, l.head.ID, label, txn.changes, txn.state)
	if err != nil {
		return 0, fmt.Errorf("failed doing %q: %w", label, err)
	}

	if n := l.redos.Clear(); n > 0 {
		log.WithFields(log.Fields{"id": commit.ID, "dropped": n}).Debug("history branched, dropped redo candidates")
	}

	return commit.ID, nil
}

func (l *OpLog) run(txn *Txn, fn func(txn *Txn) error) error {
	l.inTxn = true
	defer func() {
		txn.done = true
		l.inTxn = false
	}()

	return fn(txn)
}

// Undo reverses the action at the top of the history. The new head presents
// the history exactly as it was before that action.
func (l *OpLog) Undo() (uint64, error) {
	if err := l.begin(); err != nil {
		return 0, err
	}
	if l.head.Empty() {
		return 0, ErrEmptyHistory
	}

	top := l.head
	_, prepare, err := history.ReadAction(l.log, top.DoID)
	if err != nil {
		return 0, fmt.Errorf("failed loading action %d to undo: %w", top.DoID, err)
	}

	var doID, prevID uint64
	state := l.initialState
	if top.PrevID != 0 {
		beneath, err := history.ReadCommit(l.log, top.PrevID)
		if err != nil {
			return 0, fmt.Errorf("failed loading record %d beneath head: %w", top.PrevID, err)
		}
		doID, prevID, state = beneath.DoID, beneath.PrevID, beneath.State
	}

	reverse := make([]record.Change, 0, len(prepare.Changes))
	for i := len(prepare.Changes) - 1; i >= 0; i-- {
		reverse = append(reverse, prepare.Changes[i].Reverse())
	}

	commit, err := l.write(record.KindPrepareUndo, doID, prevID, prepare.Label, reverse, state)
	if err != nil {
		return 0, fmt.Errorf("failed undoing %q: %w", prepare.Label, err)
	}

	l.redos.Push(redo.Candidate{OriginalDoID: top.DoID, LastUndoID: commit.ID})
	return commit.ID, nil
}

// Redo restores the undone action at position i of Redos. Only the most
// recently undone action, at position 0, can be redone.
func (l *OpLog) Redo(i int) (uint64, error) {
	if err := l.begin(); err != nil {
		return 0, err
	}

	candidate, err := l.redos.Select(i)
	if err != nil {
		return 0, err
	}

	orig, prepare, err := history.ReadAction(l.log, candidate.OriginalDoID)
	if err != nil {
		return 0, fmt.Errorf("failed loading action %d to redo: %w", candidate.OriginalDoID, err)
	}

	commit, err := l.write(record.KindPrepareRedo, orig.DoID, candidate.LastUndoID, prepare.Label,
		prepare.Changes, orig.State)
	if err != nil {
		return 0, fmt.Errorf("failed redoing %q: %w", prepare.Label, err)
	}

	l.redos.Remove(candidate.OriginalDoID)
	return commit.ID, nil
}

// Redos returns the actions that can be redone, most recently undone first
func (l *OpLog) Redos() []redo.Candidate {
	return l.redos.List()
}

// Compact rewrites the log so that it only holds the actions in the
// current history. Every redo candidate is discarded.
func (l *OpLog) Compact() error {
	if err := l.begin(); err != nil {
		return err
	}

	if _, err := compaction.New(l.log, l.initialState).Compact(); err != nil {
		return err
	}

	head, err := history.FindHead(l.log, l.initialState)
	if err != nil {
		return fmt.Errorf("failed reloading head after compaction: %w", err)
	}
	l.head = head
	l.redos.Clear()

	return nil
}

// Head returns the commit that currently defines the history
func (l *OpLog) Head() history.Head {
	h := l.head
	h.State = h.State.Clone()
	return h
}

// State returns the state mapping of the current history
func (l *OpLog) State() record.State {
	return l.head.State.Clone()
}

// Get returns the current value of key in the store, nil if absent
func (l *OpLog) Get(key string) ([]byte, error) {
	if l.closed {
		return nil, ErrClosed
	}
	return l.store.Get(key)
}

// Close closes the Log and Store if they hold resources
func (l *OpLog) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true

	var firstErr error
	for _, c := range []interface{}{l.log, l.store} {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
