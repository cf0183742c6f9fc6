package test

import (
	"fmt"
	"os"
	"path"
	"testing"

	"github.com/nbroyles/undolog/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ConfigureDataDir creates a fresh data directory holding a directory for
// name. The data directory is removed when the test finishes.
func ConfigureDataDir(t *testing.T, name string) (string, string) {
	dir := t.TempDir()

	err := os.MkdirAll(path.Join(dir, name), 0755)
	require.NoError(t, err)

	return dir, name
}

// FileExists reports whether a file exists at path, failing the test if
// the check itself errors
func FileExists(t *testing.T, path string) bool {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false
	} else if err == nil {
		return true
	}

	assert.FailNow(t, fmt.Sprintf("failed attempting to check if %s exists", path))

	return false
}

// AssertStore checks that every key in entries has the expected value in
// store. An empty string expects the key to be absent.
func AssertStore(t *testing.T, store storage.Store, entries map[string]string) {
	t.Helper()

	for key, expected := range entries {
		actual, err := store.Get(key)
		require.NoError(t, err)

		if expected == "" {
			assert.Nil(t, actual, "expected %s to be absent", key)
		} else {
			assert.Equal(t, []byte(expected), actual, "unexpected value for %s", key)
		}
	}
}
