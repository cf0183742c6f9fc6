// Package redo holds the table of undone actions that can still be redone.
// The table is derived state: it can always be rebuilt from the log.
package redo

import (
	"errors"
	"fmt"
)

var (
	// ErrNoPendingRedo is returned when nothing has been undone
	ErrNoPendingRedo = errors.New("nothing to redo")
	// ErrInvalidRedoIndex is returned when the requested candidate cannot be redone
	ErrInvalidRedoIndex = errors.New("invalid redo index")
)

// Candidate is an undone action. OriginalDoID identifies the action and
// LastUndoID the commit of the undo that most recently removed it.
type Candidate struct {
	OriginalDoID uint64
	LastUndoID   uint64
}

// Index keeps candidates ordered by when they were undone, oldest first
type Index struct {
	candidates []Candidate
}

func NewIndex() *Index {
	return &Index{}
}

// Push records that an action was undone. A candidate already present for
// the same action is replaced and moves to the front.
func (i *Index) Push(c Candidate) {
	i.Remove(c.OriginalDoID)
	i.candidates = append(i.candidates, c)
}

// Remove drops the candidate for doID, returning true if one was present
func (i *Index) Remove(doID uint64) bool {
	for n, c := range i.candidates {
		if c.OriginalDoID == doID {
			i.candidates = append(i.candidates[:n], i.candidates[n+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every candidate and returns how many there were
func (i *Index) Clear() int {
	n := len(i.candidates)
	i.candidates = nil
	return n
}

func (i *Index) Len() int {
	return len(i.candidates)
}

// List returns the candidates, most recently undone first
func (i *Index) List() []Candidate {
	out := make([]Candidate, 0, len(i.candidates))
	for n := len(i.candidates) - 1; n >= 0; n-- {
		out = append(out, i.candidates[n])
	}
	return out
}

// Select returns the candidate at position n of List. The store only holds
// one timeline, so only the most recently undone action (position 0) can
// be redone; any other position is rejected.
func (i *Index) Select(n int) (Candidate, error) {
	if len(i.candidates) == 0 {
		return Candidate{}, ErrNoPendingRedo
	}
	if n < 0 || n >= len(i.candidates) {
		return Candidate{}, fmt.Errorf("%w: %d is not in range 0, %d", ErrInvalidRedoIndex, n, len(i.candidates))
	}
	if n != 0 {
		return Candidate{}, fmt.Errorf("%w: %d, only the most recently undone action (0) can be redone",
			ErrInvalidRedoIndex, n)
	}
	return i.candidates[len(i.candidates)-1], nil
}
