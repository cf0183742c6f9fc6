package pkg

import (
	"errors"
	"path"
	"testing"

	"github.com/nbroyles/undolog/internal/record"
	"github.com/nbroyles/undolog/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, logBackend LogBackend, storeBackend StoreBackend) Config {
	dataDir := t.TempDir()
	return Config{
		Name:         "foo",
		DataDir:      dataDir,
		LogBackend:   logBackend,
		StoreBackend: storeBackend,
		NoSync:       true,
	}
}

func TestCreate(t *testing.T) {
	cfg := testConfig(t, LogBackendFile, StoreBackendBadger)

	l, err := Create(cfg)
	require.NoError(t, err)
	defer l.Close()

	assert.True(t, test.FileExists(t, path.Join(cfg.DataDir, cfg.Name, "MANIFEST")))
	assert.True(t, test.FileExists(t, path.Join(cfg.DataDir, cfg.Name, storeDir)))

	exists, err := Exists(cfg)
	assert.NoError(t, err)
	assert.True(t, exists)
}

func TestCreate_AlreadyExists(t *testing.T) {
	cfg := testConfig(t, LogBackendFile, StoreBackendMemory)

	l, err := Create(cfg)
	require.NoError(t, err)
	require.NoError(t, l.Close())

	_, err = Create(cfg)
	assert.True(t, errors.Is(err, ErrLogExists))
}

func TestLoad_NotExists(t *testing.T) {
	cfg := testConfig(t, LogBackendFile, StoreBackendBadger)

	exists, err := Exists(cfg)
	assert.NoError(t, err)
	assert.False(t, exists)

	_, err = Load(cfg)
	assert.True(t, errors.Is(err, ErrLogNotFound))
}

func TestLoad_UnknownBackend(t *testing.T) {
	cfg := testConfig(t, LogBackend("tape"), StoreBackendMemory)

	_, err := Create(cfg)
	assert.Error(t, err)

	cfg = testConfig(t, LogBackendFile, StoreBackend("tape"))
	_, err = Create(cfg)
	assert.Error(t, err)
}

func TestReopen(t *testing.T) {
	for _, backend := range []LogBackend{LogBackendFile, LogBackendPebble} {
		t.Run(string(backend), func(t *testing.T) {
			cfg := testConfig(t, backend, StoreBackendBadger)
			cfg.InitialState = record.State{"saved": true}

			l, err := LoadOrCreate(cfg)
			require.NoError(t, err)

			set(t, l, "A", "a", "1")
			set(t, l, "B", "a", "2", "b", "1")
			set(t, l, "C", "c", "1")
			_, err = l.Undo()
			require.NoError(t, err)
			_, err = l.Undo()
			require.NoError(t, err)

			redos := l.Redos()
			head := l.Head()
			require.NoError(t, l.Close())

			l, err = LoadOrCreate(cfg)
			require.NoError(t, err)
			defer l.Close()

			assert.Equal(t, redos, l.Redos())
			assert.Equal(t, head, l.Head())
			assert.Equal(t, record.State{"saved": true}, l.State())
			assert.Equal(t, []string{"A"}, labels(t, l))

			val, err := l.Get("a")
			assert.NoError(t, err)
			assert.Equal(t, []byte("1"), val)

			_, err = l.Redo(0)
			require.NoError(t, err)
			val, err = l.Get("b")
			assert.NoError(t, err)
			assert.Equal(t, []byte("1"), val)

			require.NoError(t, l.Compact())
			assert.Empty(t, l.Redos())
			assert.Equal(t, []string{"A", "B"}, labels(t, l))
			assert.Equal(t, []record.Kind{
				record.KindPrepareDo, record.KindCommitDo,
				record.KindPrepareDo, record.KindCommitDo,
			}, kinds(t, l))
		})
	}
}

func TestReopen_AfterCompaction(t *testing.T) {
	cfg := testConfig(t, LogBackendFile, StoreBackendBadger)

	l, err := Create(cfg)
	require.NoError(t, err)

	set(t, l, "A", "a", "1")
	set(t, l, "B", "b", "1")
	_, err = l.Undo()
	require.NoError(t, err)
	require.NoError(t, l.Compact())
	set(t, l, "C", "c", "1")
	require.NoError(t, l.Close())

	l, err = Load(cfg)
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, []string{"A", "C"}, labels(t, l))
	assert.Equal(t, uint64(4), l.Head().ID)

	_, err = l.Undo()
	require.NoError(t, err)
	val, err := l.Get("c")
	assert.NoError(t, err)
	assert.Nil(t, val)
}

func TestClose(t *testing.T) {
	cfg := testConfig(t, LogBackendPebble, StoreBackendMemory)

	l, err := Create(cfg)
	require.NoError(t, err)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	_, err = l.Undo()
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = l.Get("a")
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = l.History()
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = l.Changes()
	assert.True(t, errors.Is(err, ErrClosed))
}
