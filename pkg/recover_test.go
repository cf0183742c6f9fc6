package pkg

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nbroyles/undolog/internal/memlog"
	"github.com/nbroyles/undolog/internal/memtable"
	"github.com/nbroyles/undolog/internal/record"
	"github.com/nbroyles/undolog/internal/storage"
	"github.com/nbroyles/undolog/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faultyLog fails appends and reads on demand
type faultyLog struct {
	storage.Log
	failAppend func(rec *record.Record) bool
	corrupt    map[uint64]bool
}

func (f *faultyLog) Append(rec *record.Record) (uint64, error) {
	if f.failAppend != nil && f.failAppend(rec) {
		return 0, fmt.Errorf("%w: injected append failure", record.ErrWriteFailure)
	}
	return f.Log.Append(rec)
}

func (f *faultyLog) Read(id uint64) (*record.Record, error) {
	if f.corrupt[id] {
		return nil, fmt.Errorf("%w: injected corruption of %d", record.ErrCorruptRecord, id)
	}
	return f.Log.Read(id)
}

// faultyStore fails sets of one key
type faultyStore struct {
	storage.Store
	failKey string
}

func (f *faultyStore) Set(key string, value []byte) error {
	if key == f.failKey {
		return fmt.Errorf("injected failure setting %s", key)
	}
	return f.Store.Set(key, value)
}

func interrupt(t *testing.T, l storage.Log, store storage.Store, prepare *record.Record, applied int) {
	t.Helper()

	_, err := l.Append(prepare)
	require.NoError(t, err)
	require.NoError(t, storage.ApplyChanges(store, prepare.Changes[:applied]))
}

func TestRecover_InterruptedDo(t *testing.T) {
	for applied := 0; applied <= 2; applied++ {
		t.Run(fmt.Sprintf("applied %d", applied), func(t *testing.T) {
			l, mlog, store := newOpLog(t)
			set(t, l, "A", "a", "1")

			interrupt(t, mlog, store, record.NewPrepare(record.KindPrepareDo, 4, 2, "B", now, []record.Change{
				{Key: "a", Old: []byte("1"), New: []byte("2")},
				{Key: "b", Old: nil, New: []byte("x")},
			}), applied)

			reopened, err := Open(Options{Log: mlog, Store: store, Clock: fixedClock})
			require.NoError(t, err)

			test.AssertStore(t, store, map[string]string{"a": "1", "b": ""})
			assert.Equal(t, []string{"A"}, labels(t, reopened))
			assert.Equal(t, uint64(2), reopened.Head().ID)

			// no record is written for the cleanup
			tail, _ := mlog.Tail()
			assert.Equal(t, uint64(3), tail)

			// opening again is harmless
			_, err = Open(Options{Log: mlog, Store: store})
			require.NoError(t, err)
			test.AssertStore(t, store, map[string]string{"a": "1", "b": ""})

			// the orphan stays in the log but never joins the history
			set(t, reopened, "C", "c", "1")
			assert.Equal(t, []string{"A", "C"}, labels(t, reopened))
			assert.Equal(t, []record.Kind{
				record.KindPrepareDo, record.KindCommitDo,
				record.KindPrepareDo,
				record.KindPrepareDo, record.KindCommitDo,
			}, kinds(t, reopened))

			_, err = reopened.Undo()
			require.NoError(t, err)
			test.AssertStore(t, store, map[string]string{"a": "1", "b": "", "c": ""})
		})
	}
}

func TestRecover_InterruptedUndo(t *testing.T) {
	l, mlog, store := newOpLog(t)
	set(t, l, "A", "a", "1")
	set(t, l, "B", "a", "2")

	interrupt(t, mlog, store, record.NewPrepare(record.KindPrepareUndo, 2, 0, "B", now, []record.Change{
		{Key: "a", Old: []byte("2"), New: []byte("1")},
	}), 1)
	test.AssertStore(t, store, map[string]string{"a": "1"})

	reopened, err := Open(Options{Log: mlog, Store: store})
	require.NoError(t, err)

	test.AssertStore(t, store, map[string]string{"a": "2"})
	assert.Equal(t, []string{"A", "B"}, labels(t, reopened))
	assert.Empty(t, reopened.Redos())

	_, err = reopened.Undo()
	require.NoError(t, err)
	test.AssertStore(t, store, map[string]string{"a": "1"})
	assert.Len(t, reopened.Redos(), 1)
}

func TestRecover_CommitAppendFails(t *testing.T) {
	flog := &faultyLog{Log: memlog.New()}
	store := memtable.New()
	l, err := Open(Options{Log: flog, Store: store})
	require.NoError(t, err)

	set(t, l, "A", "a", "1")

	flog.failAppend = func(rec *record.Record) bool { return rec.Kind.IsCommit() }
	_, err = l.Do("B", func(txn *Txn) error {
		return txn.SetStore("a", []byte("2"))
	})
	assert.True(t, errors.Is(err, ErrWriteFailure))
	assert.True(t, l.dirty)
	test.AssertStore(t, store, map[string]string{"a": "2"})

	flog.failAppend = nil
	set(t, l, "C", "c", "1")

	test.AssertStore(t, store, map[string]string{"a": "1", "c": "1"})
	assert.Equal(t, []string{"A", "C"}, labels(t, l))
	assert.False(t, l.dirty)
}

func TestRecover_PrepareAppendFails(t *testing.T) {
	flog := &faultyLog{Log: memlog.New()}
	store := memtable.New()
	l, err := Open(Options{Log: flog, Store: store})
	require.NoError(t, err)

	set(t, l, "A", "a", "1")

	flog.failAppend = func(rec *record.Record) bool { return true }
	_, err = l.Undo()
	assert.True(t, errors.Is(err, ErrWriteFailure))
	assert.False(t, l.dirty)
	test.AssertStore(t, store, map[string]string{"a": "1"})
	assert.Empty(t, l.Redos())
}

func TestRecover_StoreFails(t *testing.T) {
	mlog := memlog.New()
	store := &faultyStore{Store: memtable.New()}
	l, err := Open(Options{Log: mlog, Store: store})
	require.NoError(t, err)

	set(t, l, "A", "a", "1")

	store.failKey = "b"
	_, err = l.Do("B", func(txn *Txn) error {
		if err := txn.SetStore("a", []byte("2")); err != nil {
			return err
		}
		return txn.SetStore("b", []byte("2"))
	})
	assert.True(t, errors.Is(err, ErrWriteFailure))
	test.AssertStore(t, store, map[string]string{"a": "2"})

	store.failKey = ""
	_, err = l.Undo()
	require.NoError(t, err)

	test.AssertStore(t, store, map[string]string{"a": "", "b": ""})
	assert.Empty(t, labels(t, l))
}

func TestOpLog_CorruptRecord(t *testing.T) {
	flog := &faultyLog{Log: memlog.New()}
	store := memtable.New()
	l, err := Open(Options{Log: flog, Store: store})
	require.NoError(t, err)

	set(t, l, "A", "a", "1")
	set(t, l, "B", "b", "1")

	flog.corrupt = map[uint64]bool{3: true}
	_, err = l.Undo()
	assert.True(t, errors.Is(err, ErrCorruptRecord))
	test.AssertStore(t, store, map[string]string{"a": "1", "b": "1"})

	_, err = l.Changes()
	assert.NoError(t, err)

	flog.corrupt = map[uint64]bool{2: true}
	_, err = l.Changes()
	assert.True(t, errors.Is(err, ErrCorruptRecord))
	assert.True(t, errors.Is(l.Compact(), ErrCorruptRecord))

	_, err = Open(Options{Log: flog, Store: store})
	assert.NoError(t, err)

	flog.corrupt = map[uint64]bool{4: true}
	_, err = Open(Options{Log: flog, Store: store})
	assert.True(t, errors.Is(err, ErrCorruptRecord))
}

func TestRecover_BeforeHistory(t *testing.T) {
	flog := &faultyLog{Log: memlog.New()}
	store := memtable.New()
	l, err := Open(Options{Log: flog, Store: store})
	require.NoError(t, err)

	set(t, l, "A", "a", "1")

	flog.failAppend = func(rec *record.Record) bool { return rec.Kind.IsCommit() }
	_, err = l.Do("B", func(txn *Txn) error {
		return txn.SetStore("a", []byte("2"))
	})
	require.True(t, errors.Is(err, ErrWriteFailure))
	test.AssertStore(t, store, map[string]string{"a": "2"})
	flog.failAppend = nil

	it, err := l.History()
	require.NoError(t, err)
	assert.False(t, l.dirty)
	test.AssertStore(t, store, map[string]string{"a": "1"})

	var kinds []record.Kind
	for it.HasNext() {
		rec, err := it.Next()
		require.NoError(t, err)
		kinds = append(kinds, rec.Kind)
	}
	assert.Equal(t, []record.Kind{record.KindPrepareDo, record.KindCommitDo, record.KindPrepareDo}, kinds)
}

func TestOpLog_HistoryInsideTransaction(t *testing.T) {
	l, _, _ := newOpLog(t)

	_, err := l.Do("A", func(txn *Txn) error {
		_, err := l.History()
		assert.True(t, errors.Is(err, ErrNestedTransaction))
		return nil
	})
	assert.NoError(t, err)
}

func TestOpLog_ChangesReadsActionsOnNext(t *testing.T) {
	flog := &faultyLog{Log: memlog.New()}
	l, err := Open(Options{Log: flog, Store: memtable.New()})
	require.NoError(t, err)

	set(t, l, "A", "a", "1")
	set(t, l, "B", "b", "1")

	it, err := l.Changes()
	require.NoError(t, err)
	assert.Equal(t, 2, it.Len())

	// prepares are not touched until their action is reached
	flog.corrupt = map[uint64]bool{3: true}

	first, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "A", first.Label)

	_, err = it.Next()
	assert.True(t, errors.Is(err, ErrCorruptRecord))

	flog.corrupt = nil
	second, err := it.Next()
	require.NoError(t, err)
	assert.Equal(t, "B", second.Label)
}
