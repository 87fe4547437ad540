package definitions

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpstudio/internal/api"
	"mcpstudio/internal/deployment"
	"mcpstudio/internal/registry"
)

// fakeLifecycle registers straight into a memory registry.
type fakeLifecycle struct {
	store *registry.MemoryRegistry

	mu           sync.Mutex
	deployed     []string
	updates      int
	deregistered []string
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{store: registry.NewMemoryRegistry()}
}

func (f *fakeLifecycle) Register(ctx context.Context, req deployment.RegisterRequest) (*api.Server, error) {
	s := &api.Server{Name: req.Name, Description: req.Description, Config: req.Config}
	if err := f.store.CreateServer(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (f *fakeLifecycle) Update(ctx context.Context, id string, update registry.ServerUpdate) (*api.Server, error) {
	f.mu.Lock()
	f.updates++
	f.mu.Unlock()
	return f.store.UpdateServer(ctx, id, update)
}

func (f *fakeLifecycle) Deploy(ctx context.Context, id string) (*deployment.Attempt, error) {
	f.mu.Lock()
	f.deployed = append(f.deployed, id)
	f.mu.Unlock()
	return nil, nil
}

func (f *fakeLifecycle) Deregister(ctx context.Context, id string) error {
	s, err := f.store.GetServer(ctx, id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.deregistered = append(f.deregistered, s.Name)
	f.mu.Unlock()
	return f.store.DeleteServer(ctx, id)
}

func (f *fakeLifecycle) counts() (deployed, updates int, deregistered []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deployed), f.updates, append([]string(nil), f.deregistered...)
}

func writeDefinition(t *testing.T, dir, file, body string) string {
	t.Helper()
	path := filepath.Join(dir, file)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const weatherYAML = `
name: weather
description: Weather lookups
deploy: true
config:
  transport: http
  endpoint: https://weather.example.com/mcp
`

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "weather.yaml", weatherYAML)
	writeDefinition(t, dir, "files.yml", "config:\n  transport: websocket\n  endpoint: wss://files.example.com/mcp\n")
	writeDefinition(t, dir, "broken.yaml", "config:\n  transport: pigeon\n  endpoint: nowhere\n")
	writeDefinition(t, dir, "notes.txt", "ignored")

	defs, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
	require.Len(t, defs, 2)
	assert.Equal(t, "files", defs[0].Name)
	assert.Equal(t, api.TransportWebSocket, defs[0].Config.Transport)
	assert.Equal(t, "weather", defs[1].Name)
	assert.True(t, defs[1].Deploy)

	defs, err = LoadDir(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestWatcher_Sync(t *testing.T) {
	dir := t.TempDir()
	writeDefinition(t, dir, "weather.yaml", weatherYAML)
	lc := newFakeLifecycle()
	w := NewWatcher(dir, lc, lc.store, 10*time.Millisecond)

	w.Sync(context.Background())
	s, err := lc.store.GetServerByName(context.Background(), "weather")
	require.NoError(t, err)
	assert.Equal(t, "Weather lookups", s.Description)
	deployed, updates, _ := lc.counts()
	assert.Equal(t, 1, deployed)
	assert.Zero(t, updates)

	// A second sync of unchanged files is a no-op.
	w.Sync(context.Background())
	deployed, updates, _ = lc.counts()
	assert.Equal(t, 1, deployed)
	assert.Zero(t, updates)
}

func TestWatcher_FollowsChanges(t *testing.T) {
	dir := t.TempDir()
	lc := newFakeLifecycle()
	ctx := context.Background()

	manual := &api.Server{Name: "manual", Config: api.ServerConfig{Transport: api.TransportHTTP, Endpoint: "http://manual/mcp"}}
	require.NoError(t, lc.store.CreateServer(ctx, manual))

	w := NewWatcher(dir, lc, lc.store, 20*time.Millisecond)
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := writeDefinition(t, dir, "weather.yaml", weatherYAML)
	require.Eventually(t, func() bool {
		_, err := lc.store.GetServerByName(ctx, "weather")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	writeDefinition(t, dir, "weather.yaml", `
name: weather
description: Weather and forecasts
config:
  transport: http
  endpoint: https://weather.example.com/mcp
`)
	require.Eventually(t, func() bool {
		s, err := lc.store.GetServerByName(ctx, "weather")
		return err == nil && s.Description == "Weather and forecasts"
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, _, gone := lc.counts()
		return len(gone) == 1
	}, 3*time.Second, 20*time.Millisecond)

	_, _, gone := lc.counts()
	assert.Equal(t, []string{"weather"}, gone)
	_, err := lc.store.GetServerByName(ctx, "manual")
	assert.NoError(t, err, "servers registered elsewhere are left alone")
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w := NewWatcher(t.TempDir(), newFakeLifecycle(), registry.NewMemoryRegistry(), 0)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
