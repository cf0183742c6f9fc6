package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"testing"

	"github.com/nbroyles/undolog/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t    *testing.T
	args []string
}

func newCLI(t *testing.T, extra ...string) *cli {
	return &cli{t: t, args: append([]string{"--data-dir", t.TempDir(), "--name", "foo"}, extra...)}
}

func (c *cli) run(args ...string) (int, string) {
	c.t.Helper()

	var stdout, stderr bytes.Buffer
	code := run(append(args, c.args...), &stdout, &stderr)
	return code, stdout.String()
}

func (c *cli) ok(args ...string) string {
	c.t.Helper()

	code, out := c.run(args...)
	require.Equal(c.t, exitOK, code, "running %v", args)
	return out
}

func TestCLI_SetGetUndoRedo(t *testing.T) {
	c := newCLI(t)

	c.ok("create")
	c.ok("set", "a=1")
	assert.Equal(t, "\"1\"\n", c.ok("get", "a"))

	c.ok("undo")
	assert.Equal(t, "(absent)\n", c.ok("get", "a"))

	c.ok("redo", "0")
	assert.Equal(t, "\"1\"\n", c.ok("get", "a"))
}

func TestCLI_UndoTwice(t *testing.T) {
	c := newCLI(t)

	c.ok("create")
	c.ok("set", "a=1")
	c.ok("set", "a=2")
	c.ok("undo")
	assert.Equal(t, "\"1\"\n", c.ok("get", "a"))
	c.ok("undo")
	assert.Equal(t, "(absent)\n", c.ok("get", "a"))

	lines := strings.Split(strings.TrimSpace(c.ok("redos")), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "0\t2\t"))
	assert.True(t, strings.HasSuffix(lines[0], "set a=1"))
	assert.True(t, strings.HasPrefix(lines[1], "1\t4\t"))
	assert.True(t, strings.HasSuffix(lines[1], "set a=2"))

	code, _ := c.run("undo")
	assert.Equal(t, exitEmptyHistory, code)

	code, _ = c.run("redo", "1")
	assert.Equal(t, exitNoRedo, code)
}

func TestCLI_ExitCodes(t *testing.T) {
	c := newCLI(t)

	code, _ := c.run("get", "a")
	assert.Equal(t, exitLogNotFound, code)

	c.ok("create")
	code, _ = c.run("create")
	assert.Equal(t, exitFailure, code)

	code, _ = c.run("redo")
	assert.Equal(t, exitNoRedo, code)

	code, _ = c.run("redo", "x")
	assert.Equal(t, exitNoRedo, code)

	code, _ = c.run("set", "novalue")
	assert.Equal(t, exitFailure, code)

	code, _ = c.run("bogus")
	assert.Equal(t, exitFailure, code)
}

func TestCLI_ChangesHistoryCompact(t *testing.T) {
	c := newCLI(t, "--log-backend", "pebble")

	c.ok("create")
	c.ok("set", "a=1", "b=2")
	c.ok("set", "a=")
	c.ok("undo")

	changes := c.ok("changes")
	assert.Contains(t, changes, "1\t2\t")
	assert.Contains(t, changes, "\ta: (absent) -> \"1\"\n")
	assert.Contains(t, changes, "\tb: (absent) -> \"2\"\n")
	assert.NotContains(t, changes, "set a=\n")

	history := strings.Split(strings.TrimSpace(c.ok("history")), "\n")
	assert.Len(t, history, 6)

	c.ok("compact")
	history = strings.Split(strings.TrimSpace(c.ok("history")), "\n")
	assert.Len(t, history, 2)
	assert.Equal(t, changes, c.ok("changes"))
	assert.Equal(t, "", c.ok("redos"))
}

func TestCLI_Config(t *testing.T) {
	dataDir := t.TempDir()
	configFile := path.Join(t.TempDir(), "undolog.yaml")
	require.NoError(t, os.WriteFile(configFile,
		[]byte(fmt.Sprintf("data-dir: %s\nname: fromfile\nstore-backend: badger\n", dataDir)), 0644))

	var stdout, stderr bytes.Buffer
	assert.Equal(t, exitOK, run([]string{"create", "--config", configFile}, &stdout, &stderr))
	assert.Equal(t, "created fromfile\n", stdout.String())

	exists, err := pkg.Exists(pkg.Config{Name: "fromfile", DataDir: dataDir})
	assert.NoError(t, err)
	assert.True(t, exists)

	t.Setenv("UNDOLOG_NAME", "fromenv")
	t.Setenv("UNDOLOG_DATA_DIR", dataDir)
	stdout.Reset()
	assert.Equal(t, exitOK, run([]string{"create"}, &stdout, &stderr))
	assert.Equal(t, "created fromenv\n", stdout.String())
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitEmptyHistory, exitCode(fmt.Errorf("wrapped: %w", pkg.ErrEmptyHistory)))
	assert.Equal(t, exitNoRedo, exitCode(pkg.ErrInvalidRedoIndex))
	assert.Equal(t, exitLogNotFound, exitCode(pkg.ErrLogNotFound))
	assert.Equal(t, exitFailure, exitCode(errors.New("boom")))
}
