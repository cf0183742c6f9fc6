package history

import (
	"errors"
	"testing"
	"time"

	"github.com/nbroyles/undolog/internal/memlog"
	"github.com/nbroyles/undolog/internal/record"
	"github.com/nbroyles/undolog/internal/redo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func appendAction(t *testing.T, l *memlog.MemoryLog, kind record.Kind, doID, prevID uint64, label string) uint64 {
	t.Helper()
	_, err := l.Append(record.NewPrepare(kind, doID, prevID, label, now, nil))
	require.NoError(t, err)
	id, err := l.Append(record.NewCommit(kind.Commit(), doID, prevID, label, now, record.State{"label": label}))
	require.NoError(t, err)
	return id
}

// do A, do B, undo, undo, redo
func scenario(t *testing.T) *memlog.MemoryLog {
	l := memlog.New()
	assert.Equal(t, uint64(2), appendAction(t, l, record.KindPrepareDo, 2, 0, "A"))
	assert.Equal(t, uint64(4), appendAction(t, l, record.KindPrepareDo, 4, 2, "B"))
	assert.Equal(t, uint64(6), appendAction(t, l, record.KindPrepareUndo, 2, 0, "B"))
	assert.Equal(t, uint64(8), appendAction(t, l, record.KindPrepareUndo, 0, 0, "A"))
	assert.Equal(t, uint64(10), appendAction(t, l, record.KindPrepareRedo, 2, 8, "A"))
	return l
}

func TestFindHead_Empty(t *testing.T) {
	head, err := FindHead(memlog.New(), record.State{"x": true})
	assert.NoError(t, err)
	assert.True(t, head.Empty())
	assert.Equal(t, uint64(0), head.ID)
	assert.Equal(t, record.State{"x": true}, head.State)
}

func TestFindHead_SkipsPrepares(t *testing.T) {
	l := scenario(t)
	_, err := l.Append(record.NewPrepare(record.KindPrepareDo, 12, 10, "C", now, nil))
	require.NoError(t, err)

	head, err := FindHead(l, nil)
	assert.NoError(t, err)
	assert.Equal(t, Head{ID: 10, DoID: 2, PrevID: 8, State: record.State{"label": "A"}}, head)

	pending, err := Pending(l)
	assert.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, uint64(11), pending.ID)
}

func TestPending_None(t *testing.T) {
	pending, err := Pending(scenario(t))
	assert.NoError(t, err)
	assert.Nil(t, pending)

	pending, err = Pending(memlog.New())
	assert.NoError(t, err)
	assert.Nil(t, pending)
}

func TestChain(t *testing.T) {
	l := scenario(t)
	head, err := FindHead(l, nil)
	require.NoError(t, err)

	nodes, err := Chain(l, head)
	assert.NoError(t, err)
	assert.Equal(t, []Node{{ID: 10, DoID: 2, State: record.State{"label": "A"}}}, nodes)

	// redo B on top
	appendAction(t, l, record.KindPrepareRedo, 4, 6, "B")
	head, err = FindHead(l, nil)
	require.NoError(t, err)

	nodes, err = Chain(l, head)
	assert.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, uint64(2), nodes[0].DoID)
	assert.Equal(t, uint64(6), nodes[0].ID)
	assert.Equal(t, uint64(4), nodes[1].DoID)
	assert.Equal(t, uint64(12), nodes[1].ID)
}

func TestChain_EmptyHistory(t *testing.T) {
	l := memlog.New()
	appendAction(t, l, record.KindPrepareDo, 2, 0, "A")
	appendAction(t, l, record.KindPrepareUndo, 0, 0, "A")

	head, err := FindHead(l, nil)
	require.NoError(t, err)
	assert.True(t, head.Empty())

	nodes, err := Chain(l, head)
	assert.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestChain_ForwardLink(t *testing.T) {
	l := memlog.New()
	appendAction(t, l, record.KindPrepareDo, 2, 0, "A")

	_, err := Chain(l, Head{ID: 2, DoID: 2, PrevID: 5})
	assert.True(t, errors.Is(err, record.ErrCorruptRecord))
}

func TestChain_PrevNotCommit(t *testing.T) {
	l := memlog.New()
	appendAction(t, l, record.KindPrepareDo, 2, 0, "A")
	appendAction(t, l, record.KindPrepareDo, 4, 2, "B")

	_, err := Chain(l, Head{ID: 4, DoID: 4, PrevID: 3})
	assert.True(t, errors.Is(err, record.ErrCorruptRecord))
}

func TestReadAction(t *testing.T) {
	l := scenario(t)

	commit, prepare, err := ReadAction(l, 4)
	assert.NoError(t, err)
	assert.Equal(t, "B", commit.Label)
	assert.Equal(t, record.KindPrepareDo, prepare.Kind)

	_, _, err = ReadAction(l, 6)
	assert.True(t, errors.Is(err, record.ErrCorruptRecord))

	_, _, err = ReadAction(l, 0)
	assert.True(t, errors.Is(err, record.ErrCorruptRecord))

	_, _, err = ReadAction(l, 40)
	assert.True(t, errors.Is(err, record.ErrNotFound))
}

func TestRebuildRedo(t *testing.T) {
	l := scenario(t)

	idx, err := RebuildRedo(l)
	assert.NoError(t, err)
	assert.Equal(t, []redo.Candidate{{OriginalDoID: 4, LastUndoID: 6}}, idx.List())
}

func TestRebuildRedo_ClearedByDo(t *testing.T) {
	l := scenario(t)
	appendAction(t, l, record.KindPrepareDo, 12, 10, "C")

	idx, err := RebuildRedo(l)
	assert.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestRebuildRedo_Order(t *testing.T) {
	l := memlog.New()
	appendAction(t, l, record.KindPrepareDo, 2, 0, "A")
	appendAction(t, l, record.KindPrepareDo, 4, 2, "B")
	appendAction(t, l, record.KindPrepareUndo, 2, 0, "B")
	appendAction(t, l, record.KindPrepareUndo, 0, 0, "A")

	idx, err := RebuildRedo(l)
	assert.NoError(t, err)
	assert.Equal(t, []redo.Candidate{
		{OriginalDoID: 2, LastUndoID: 8},
		{OriginalDoID: 4, LastUndoID: 6},
	}, idx.List())
}

func TestRebuildRedo_Empty(t *testing.T) {
	idx, err := RebuildRedo(memlog.New())
	assert.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}
