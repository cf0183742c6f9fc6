package compaction

import (
	"fmt"

	"github.com/nbroyles/undolog/internal/history"
	"github.com/nbroyles/undolog/internal/record"
	"github.com/nbroyles/undolog/internal/storage"
	log "github.com/sirupsen/logrus"
)

// Compactor rewrites a log so that it holds only the presented history,
// as plain PREPARE_DO/COMMIT_DO pairs. Undone branches and the undo and redo
// records that produced the history are discarded.
type Compactor struct {
	log     storage.Log
	initial record.State
}

// Result describes a finished compaction
type Result struct {
	RecordsBefore uint64
	RecordsAfter  uint64
	Actions       int
}

func New(l storage.Log, initial record.State) *Compactor {
	return &Compactor{log: l, initial: initial}
}

func (c *Compactor) Compact() (*Result, error) {
	before, _ := c.log.Tail()

	records, actions, err := c.plan()
	if err != nil {
		return nil, fmt.Errorf("could not plan compaction: %w", err)
	}

	if err = c.log.Rewrite(records); err != nil {
		return nil, fmt.Errorf("failed rewriting log with %d records: %w", len(records), err)
	}

	res := &Result{RecordsBefore: before, RecordsAfter: uint64(len(records)), Actions: actions}
	log.WithFields(log.Fields{
		"before":  res.RecordsBefore,
		"after":   res.RecordsAfter,
		"actions": res.Actions,
	}).Info("compacted log")

	return res, nil
}

// plan builds the replacement records. The k-th action (from 1) becomes
// records 2k-1 and 2k, linked to the commit of the action before it.
func (c *Compactor) plan() ([]*record.Record, int, error) {
	head, err := history.FindHead(c.log, c.initial)
	if err != nil {
		return nil, 0, err
	}

	nodes, err := history.Chain(c.log, head)
	if err != nil {
		return nil, 0, err
	}

	records := make([]*record.Record, 0, 2*len(nodes))
	var prevID uint64
	for _, node := range nodes {
		commit, prepare, err := history.ReadAction(c.log, node.DoID)
		if err != nil {
			return nil, 0, fmt.Errorf("failed loading action %d: %w", node.DoID, err)
		}

		doID := uint64(len(records)) + 2
		p := record.NewPrepare(record.KindPrepareDo, doID, prevID, prepare.Label, prepare.Timestamp, prepare.Changes)
		p.ID = doID - 1
		cm := record.NewCommit(record.KindCommitDo, doID, prevID, commit.Label, commit.Timestamp, node.State)
		cm.ID = doID

		records = append(records, p, cm)
		prevID = doID
	}

	return records, len(nodes), nil
}
