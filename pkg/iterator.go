package pkg

import (
	"fmt"
	"time"

	"github.com/nbroyles/undolog/internal/history"
	"github.com/nbroyles/undolog/internal/record"
	"github.com/nbroyles/undolog/internal/storage"
)

// Entry is one action in the current history
type Entry struct {
	// Position is the 1-based place of the action in the history
	Position int
	// ID is the commit presenting the action, either its own or a redo
	ID        uint64
	DoID      uint64
	Label     string
	Timestamp time.Time
	State     record.State
	Changes   []record.Change
}

// ChangeIterator walks the current history oldest first. Producing the
// oldest action first needs the whole chain, so the commits on it are read
// when the iterator is created. Each action's changes and label are read on
// Next.
type ChangeIterator struct {
	log   storage.Log
	nodes []history.Node
	pos   int
}

// Changes returns an iterator over the actions in the current history
func (l *OpLog) Changes() (*ChangeIterator, error) {
	if err := l.begin(); err != nil {
		return nil, err
	}

	nodes, err := history.Chain(l.log, l.head)
	if err != nil {
		return nil, fmt.Errorf("failed walking history: %w", err)
	}
	return &ChangeIterator{log: l.log, nodes: nodes}, nil
}

func (it *ChangeIterator) HasNext() bool {
	return it.pos < len(it.nodes)
}

func (it *ChangeIterator) Next() (*Entry, error) {
	if !it.HasNext() {
		return nil, fmt.Errorf("%w: iterator exhausted", ErrNotFound)
	}

	node := it.nodes[it.pos]
	commit, prepare, err := history.ReadAction(it.log, node.DoID)
	if err != nil {
		return nil, fmt.Errorf("failed loading action %d: %w", node.DoID, err)
	}
	it.pos++

	return &Entry{
		Position:  it.pos,
		ID:        node.ID,
		DoID:      node.DoID,
		Label:     commit.Label,
		Timestamp: commit.Timestamp,
		State:     node.State,
		Changes:   prepare.Changes,
	}, nil
}

// Len returns the number of actions in the history
func (it *ChangeIterator) Len() int {
	return len(it.nodes)
}

// Reset moves the iterator back to the oldest action
func (it *ChangeIterator) Reset() {
	it.pos = 0
}

// HistoryIterator walks every record in the log in append order, including
// undo records and writes that never committed
type HistoryIterator struct {
	log  storage.Log
	next uint64
	tail uint64
}

// History returns an iterator over the whole log
func (l *OpLog) History() (*HistoryIterator, error) {
	if err := l.begin(); err != nil {
		return nil, err
	}

	it := &HistoryIterator{log: l.log}
	it.Reset()
	return it, nil
}

func (it *HistoryIterator) HasNext() bool {
	return it.next <= it.tail
}

func (it *HistoryIterator) Next() (*record.Record, error) {
	if !it.HasNext() {
		return nil, fmt.Errorf("%w: iterator exhausted", ErrNotFound)
	}

	rec, err := it.log.Read(it.next)
	if err != nil {
		return nil, fmt.Errorf("failed reading record %d: %w", it.next, err)
	}
	it.next++
	return rec, nil
}

// Reset moves the iterator back to the first record. Records appended since
// the iterator was created become visible.
func (it *HistoryIterator) Reset() {
	it.next = 1
	it.tail, _ = it.log.Tail()
}

// Action returns the action identified by doID, whether or not it is part
// of the current history. Position is left zero.
func (l *OpLog) Action(doID uint64) (*Entry, error) {
	if l.closed {
		return nil, ErrClosed
	}

	commit, prepare, err := history.ReadAction(l.log, doID)
	if err != nil {
		return nil, fmt.Errorf("failed loading action %d: %w", doID, err)
	}
	return &Entry{
		ID:        commit.ID,
		DoID:      commit.DoID,
		Label:     commit.Label,
		Timestamp: commit.Timestamp,
		State:     commit.State,
		Changes:   prepare.Changes,
	}, nil
}
