package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func lookupNames(name string) (string, error) {
	switch name {
	case "api", "static", "auth":
		return name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownHandler, name)
}

func writeRoutes(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestTableLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	writeRoutes(t, path, `[
		{"prefix": "/api", "handler": "api"},
		{"prefix": "/api", "handler": "auth", "in_front": true},
		{"prefix": "/", "handler": "static"}
	]`)

	table := NewTable[string](lookupNames, zaptest.NewLogger(t).Sugar())
	require.NoError(t, table.Load(path))
	assert.Equal(t, uint64(1), table.Reloads())

	m, ok := table.Resolve("/api/users")
	require.True(t, ok)
	assert.Equal(t, "/api", m.ScriptName)
	assert.Equal(t, "/users", m.PathInfo)
	assert.Equal(t, []string{"auth", "api"}, m.Handlers)

	m, ok = table.Resolve("/index.html")
	require.True(t, ok)
	assert.Equal(t, "/", m.ScriptName)
	assert.Equal(t, "/index.html", m.PathInfo)
}

func TestTableLoadErrorsKeepSnapshot(t *testing.T) {
	dir := t.TempDir()
	table := NewTable[string](lookupNames, nil)
	require.NoError(t, table.Apply([]Route{{Prefix: "/api", Handler: "api"}}))
	before := table.Snapshot()

	bad := filepath.Join(dir, "bad.json")
	writeRoutes(t, bad, `{not json`)
	assert.Error(t, table.Load(bad))

	unknown := filepath.Join(dir, "unknown.json")
	writeRoutes(t, unknown, `[{"prefix": "/x", "handler": "nope"}]`)
	err := table.Load(unknown)
	assert.True(t, errors.Is(err, ErrUnknownHandler), "err = %v", err)

	empty := filepath.Join(dir, "empty.json")
	writeRoutes(t, empty, `[{"prefix": "", "handler": "api"}]`)
	assert.Error(t, table.Load(empty))

	assert.Error(t, table.Load(filepath.Join(dir, "missing.json")))

	assert.Same(t, before, table.Snapshot())
	_, ok := table.Resolve("/api/v1")
	assert.True(t, ok)
}

func TestTableWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	writeRoutes(t, path, `[{"prefix": "/api", "handler": "api"}]`)

	table := NewTable[string](lookupNames, zaptest.NewLogger(t).Sugar())
	require.NoError(t, table.Load(path))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- table.Watch(ctx, path) }()

	// Keep rewriting until the watcher has picked the change up; the first
	// write may land before the watch is registered.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`[{"prefix": "/static", "handler": "static"}]`), 0o644)
		_, ok := table.Resolve("/static/app.js")
		return ok
	}, 5*time.Second, 50*time.Millisecond)

	_, ok := table.Resolve("/api/v1")
	assert.False(t, ok, "old route still resolves after reload")

	// A broken file keeps the last good routes.
	writeRoutes(t, path, `[`)
	time.Sleep(100 * time.Millisecond)
	_, ok = table.Resolve("/static/app.js")
	assert.True(t, ok)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
