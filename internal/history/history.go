// Package history reconstructs the linear history presented by a log. The
// head and the chain of actions are never stored separately; they are read
// back from the doId and prevId of commit records.
package history

import (
	"errors"
	"fmt"

	"github.com/nbroyles/undolog/internal/record"
	"github.com/nbroyles/undolog/internal/redo"
	"github.com/nbroyles/undolog/internal/storage"
)

// Head is the commit that currently defines the presented history.
// ID is zero when no commit exists yet. DoID is zero when the presented
// history is empty.
type Head struct {
	ID     uint64
	DoID   uint64
	PrevID uint64
	State  record.State
}

// HeadOf returns the head presented by commit
func HeadOf(commit *record.Record) Head {
	return Head{
		ID:     commit.ID,
		DoID:   commit.DoID,
		PrevID: commit.PrevID,
		State:  commit.State.Clone(),
	}
}

// Empty returns true if the presented history has no actions
func (h Head) Empty() bool {
	return h.DoID == 0
}

// Node is one action in the presented history. ID is the commit presenting
// the action, which is the action's own COMMIT_DO or the commit of a redo.
type Node struct {
	ID    uint64
	DoID  uint64
	State record.State
}

// FindHead returns the most recent commit in l, skipping any prepares after
// it. If l holds no commits the returned head is empty and carries initial.
func FindHead(l storage.Log, initial record.State) (Head, error) {
	tail, ok := l.Tail()
	if !ok {
		return Head{State: initial.Clone()}, nil
	}

	for id := tail; id > 0; id-- {
		rec, err := l.Read(id)
		if err != nil {
			return Head{}, fmt.Errorf("failed reading record %d while locating head: %w", id, err)
		}
		if rec.Kind.IsCommit() {
			return HeadOf(rec), nil
		}
	}
	return Head{State: initial.Clone()}, nil
}

// Pending returns the prepare at the tail of l, if the tail is a prepare
// with no matching commit. It returns nil otherwise.
func Pending(l storage.Log) (*record.Record, error) {
	tail, ok := l.Tail()
	if !ok {
		return nil, nil
	}
	rec, err := l.Read(tail)
	if err != nil {
		return nil, fmt.Errorf("failed reading tail record %d: %w", tail, err)
	}
	if !rec.Kind.IsPrepare() {
		return nil, nil
	}
	return rec, nil
}

// ReadCommit reads id and checks that it is a commit
func ReadCommit(l storage.Log, id uint64) (*record.Record, error) {
	rec, err := l.Read(id)
	if err != nil {
		return nil, err
	}
	if !rec.Kind.IsCommit() {
		return nil, fmt.Errorf("%w: record %d is a %s, expected a commit", record.ErrCorruptRecord, id, rec.Kind)
	}
	return rec, nil
}

// ReadAction reads the COMMIT_DO and PREPARE_DO of the action identified by doID
func ReadAction(l storage.Log, doID uint64) (commit *record.Record, prepare *record.Record, err error) {
	if doID < 2 {
		return nil, nil, fmt.Errorf("%w: %d is not a valid action id", record.ErrCorruptRecord, doID)
	}
	if commit, err = l.Read(doID); err != nil {
		return nil, nil, err
	}
	if commit.Kind != record.KindCommitDo {
		return nil, nil, fmt.Errorf("%w: action %d points at a %s", record.ErrCorruptRecord, doID, commit.Kind)
	}
	if prepare, err = l.Read(doID - 1); err != nil {
		return nil, nil, err
	}
	if prepare.Kind != record.KindPrepareDo || prepare.DoID != doID {
		return nil, nil, fmt.Errorf("%w: record %d is not the prepare of action %d",
			record.ErrCorruptRecord, doID-1, doID)
	}
	return commit, prepare, nil
}

// Chain walks the prevId links from head and returns the presented actions,
// oldest first. Only commit records are read.
func Chain(l storage.Log, head Head) ([]Node, error) {
	var nodes []Node
	if head.Empty() {
		return nodes, nil
	}

	node := Node{ID: head.ID, DoID: head.DoID, State: head.State}
	prev := head.PrevID
	for {
		nodes = append(nodes, node)
		if prev == 0 {
			break
		}
		if prev >= node.ID {
			return nil, fmt.Errorf("%w: commit %d links forward to %d", record.ErrCorruptRecord, node.ID, prev)
		}

		rec, err := ReadCommit(l, prev)
		if err != nil {
			return nil, fmt.Errorf("failed walking history: %w", err)
		}
		if rec.DoID == 0 {
			break
		}
		node = Node{ID: rec.ID, DoID: rec.DoID, State: rec.State}
		prev = rec.PrevID
	}

	for i, j := 0, len(nodes)-1; i < j; i, j = i+1, j-1 {
		nodes[i], nodes[j] = nodes[j], nodes[i]
	}
	return nodes, nil
}

// RebuildRedo reconstructs the redo candidates of l. Any DO discards every
// candidate, so only the commits after the last COMMIT_DO are replayed.
func RebuildRedo(l storage.Log) (*redo.Index, error) {
	idx := redo.NewIndex()
	tail, ok := l.Tail()
	if !ok {
		return idx, nil
	}

	var (
		commits  []*record.Record
		headDoID uint64
	)
	for id := tail; id > 0; id-- {
		rec, err := l.Read(id)
		if err != nil {
			if errors.Is(err, record.ErrNotFound) {
				break
			}
			return nil, fmt.Errorf("failed reading record %d while rebuilding redos: %w", id, err)
		}
		if rec.Kind == record.KindCommitDo {
			headDoID = rec.DoID
			break
		}
		if rec.Kind.IsCommit() {
			commits = append(commits, rec)
		}
	}

	for i := len(commits) - 1; i >= 0; i-- {
		c := commits[i]
		switch c.Kind {
		case record.KindCommitUndo:
			if headDoID != 0 {
				idx.Push(redo.Candidate{OriginalDoID: headDoID, LastUndoID: c.ID})
			}
		case record.KindCommitRedo:
			idx.Remove(c.DoID)
		}
		headDoID = c.DoID
	}
	return idx, nil
}
