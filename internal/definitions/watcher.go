package definitions

import (
	"context"
	"errors"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mcpstudio/internal/api"
	"mcpstudio/internal/deployment"
	"mcpstudio/internal/registry"
	"mcpstudio/pkg/logging"
)

// DefaultDebounce coalesces the bursts of events editors produce on save.
const DefaultDebounce = 300 * time.Millisecond

// Lifecycle is the part of the deployment manager definitions drive.
type Lifecycle interface {
	Register(ctx context.Context, req deployment.RegisterRequest) (*api.Server, error)
	Update(ctx context.Context, id string, update registry.ServerUpdate) (*api.Server, error)
	Deploy(ctx context.Context, id string) (*deployment.Attempt, error)
	Deregister(ctx context.Context, id string) error
}

// Lookup finds registered servers by name.
type Lookup interface {
	GetServerByName(ctx context.Context, name string) (*api.Server, error)
}

// Watcher keeps registered servers in sync with a directory of definitions.
// Only servers that came from a file are ever deregistered by it.
type Watcher struct {
	dir       string
	lifecycle Lifecycle
	lookup    Lookup
	debounce  time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	pending map[string]*time.Timer
	managed map[string]string // file path -> server name
	stopCh  chan struct{}
	running bool
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, lifecycle Lifecycle, lookup Lookup, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		dir:       dir,
		lifecycle: lifecycle,
		lookup:    lookup,
		debounce:  debounce,
		pending:   make(map[string]*time.Timer),
		managed:   make(map[string]string),
	}
}

// Sync applies every definition in the directory once. Invalid files are
// logged and skipped.
func (w *Watcher) Sync(ctx context.Context) {
	defs, loadErr := LoadDir(w.dir)
	for _, def := range defs {
		if err := w.apply(ctx, def); err != nil {
			logging.Warn("Definitions", "Failed to apply %s: %v", def.Path, err)
		}
	}
	if loadErr != nil {
		logging.Warn("Definitions", "Some definitions in %s could not be loaded: %v", w.dir, loadErr)
	}
	logging.Info("Definitions", "Synced %d server definitions from %s", len(defs), w.dir)
}

// Start watches the directory until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return err
	}
	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.running = true

	go w.processEvents(ctx, watcher, w.stopCh)
	logging.Info("Definitions", "Watching %s for server definitions", w.dir)
	return nil
}

// Stop ends watching. Pending changes are dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	if err := w.watcher.Close(); err != nil {
		logging.Error("Definitions", err, "Error closing definitions watcher")
	}
	w.watcher = nil
}

func (w *Watcher) processEvents(ctx context.Context, watcher *fsnotify.Watcher, stopCh chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-stopCh:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isYAMLFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logging.Error("Definitions", err, "Definitions watcher error")
		}
	}
}

// schedule debounces changes per file. When the timer fires the file is
// looked at again: present means apply, absent means remove.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		running := w.running
		w.mu.Unlock()
		if !running {
			return
		}

		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := w.remove(ctx, path); err != nil {
				logging.Warn("Definitions", "Failed to remove server of %s: %v", path, err)
			}
			return
		}
		def, err := LoadFile(path)
		if err != nil {
			logging.Warn("Definitions", "Ignoring %s: %v", path, err)
			return
		}
		if err := w.apply(ctx, def); err != nil {
			logging.Warn("Definitions", "Failed to apply %s: %v", path, err)
		}
	})
}

func (w *Watcher) apply(ctx context.Context, def Definition) error {
	w.mu.Lock()
	previous, hadPrevious := w.managed[def.Path]
	w.mu.Unlock()

	// The file was edited to declare a different server.
	if hadPrevious && previous != def.Name {
		if err := w.deregisterByName(ctx, previous); err != nil {
			return err
		}
	}

	existing, err := w.lookup.GetServerByName(ctx, def.Name)
	switch {
	case api.IsNotFound(err):
		server, err := w.lifecycle.Register(ctx, deployment.RegisterRequest{
			Name:        def.Name,
			Description: def.Description,
			Config:      def.Config,
		})
		if err != nil {
			return err
		}
		w.track(def.Path, def.Name)
		logging.Info("Definitions", "Registered server %s from %s", def.Name, def.Path)
		if def.Deploy {
			if _, err := w.lifecycle.Deploy(ctx, server.ID); err != nil {
				return err
			}
		}
		return nil
	case err != nil:
		return err
	}

	w.track(def.Path, def.Name)
	if existing.Description == def.Description && reflect.DeepEqual(existing.Config, def.Config) {
		return nil
	}
	update := registry.ServerUpdate{Description: &def.Description, Config: &def.Config}
	if _, err := w.lifecycle.Update(ctx, existing.ID, update); err != nil {
		return err
	}
	logging.Info("Definitions", "Updated server %s from %s", def.Name, def.Path)
	return nil
}

func (w *Watcher) remove(ctx context.Context, path string) error {
	w.mu.Lock()
	name, ok := w.managed[path]
	delete(w.managed, path)
	w.mu.Unlock()
	if !ok {
		return nil
	}
	logging.Info("Definitions", "Definition %s removed, deregistering server %s", path, name)
	return w.deregisterByName(ctx, name)
}

func (w *Watcher) deregisterByName(ctx context.Context, name string) error {
	server, err := w.lookup.GetServerByName(ctx, name)
	if api.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return w.lifecycle.Deregister(ctx, server.ID)
}

func (w *Watcher) track(path, name string) {
	w.mu.Lock()
	w.managed[path] = name
	w.mu.Unlock()
}
