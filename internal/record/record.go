package record

import (
	"fmt"
	"time"
)

// Kind identifies which phase of which action a record represents.
type Kind int8

const (
	KindPrepareDo Kind = iota + 1
	KindCommitDo
	KindPrepareUndo
	KindCommitUndo
	KindPrepareRedo
	KindCommitRedo
)

var kindNames = map[Kind]string{
	KindPrepareDo:   "prepare-do",
	KindCommitDo:    "commit-do",
	KindPrepareUndo: "prepare-undo",
	KindCommitUndo:  "commit-undo",
	KindPrepareRedo: "prepare-redo",
	KindCommitRedo:  "commit-redo",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int8(k))
}

// Valid returns true if k is one of the six known kinds
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// IsPrepare returns true for the first phase of any action
func (k Kind) IsPrepare() bool {
	return k == KindPrepareDo || k == KindPrepareUndo || k == KindPrepareRedo
}

// IsCommit returns true for the second phase of any action
func (k Kind) IsCommit() bool {
	return k == KindCommitDo || k == KindCommitUndo || k == KindCommitRedo
}

// Commit returns the commit kind matching a prepare kind
func (k Kind) Commit() Kind {
	if k.IsPrepare() {
		return k + 1
	}
	return k
}

// Change is one key mutation applied to the store. A nil Old or New means
// the key is absent on that side of the change.
type Change struct {
	Key string
	Old []byte
	New []byte
}

// Reverse swaps the old and new values of the change
func (c Change) Reverse() Change {
	return Change{Key: c.Key, Old: c.New, New: c.Old}
}

// Record is a single entry in the log. PREPARE records carry Changes, COMMIT
// records carry State. Both carry the label and time of the action.
type Record struct {
	ID     uint64
	Kind   Kind
	DoID   uint64
	PrevID uint64

	Label     string
	Timestamp time.Time

	Changes []Change
	State   State
}

// NewPrepare builds a prepare record. The id is assigned by the log on append.
func NewPrepare(kind Kind, doID, prevID uint64, label string, ts time.Time, changes []Change) *Record {
	return &Record{
		Kind:      kind,
		DoID:      doID,
		PrevID:    prevID,
		Label:     label,
		Timestamp: ts,
		Changes:   changes,
	}
}

// NewCommit builds a commit record. The id is assigned by the log on append.
func NewCommit(kind Kind, doID, prevID uint64, label string, ts time.Time, state State) *Record {
	return &Record{
		Kind:      kind,
		DoID:      doID,
		PrevID:    prevID,
		Label:     label,
		Timestamp: ts,
		State:     state,
	}
}

func (r *Record) String() string {
	return fmt.Sprintf("%d %-12s %-8s do=%d prev=%d changes=%d state=%v",
		r.ID, r.Kind, r.Label, r.DoID, r.PrevID, len(r.Changes), r.State)
}
