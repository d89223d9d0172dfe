package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Route is one entry of a route file.
type Route struct {
	Prefix  string `json:"prefix"`
	Handler string `json:"handler"`
	InFront bool   `json:"in_front,omitempty"`
}

// LookupFunc resolves a handler name from a route file.
type LookupFunc[H any] func(name string) (H, error)

// ErrUnknownHandler is returned by lookups for names that are not defined.
var ErrUnknownHandler = errors.New("router: unknown handler")

// Table publishes an immutable Classifier snapshot. Changing routes builds
// a new Classifier and swaps it in; requests in flight keep the snapshot
// they resolved against.
type Table[H any] struct {
	current atomic.Pointer[Classifier[H]]
	lookup  LookupFunc[H]
	log     *zap.SugaredLogger

	reloads atomic.Uint64
}

// NewTable creates a Table with no routes. A nil log disables logging.
func NewTable[H any](lookup LookupFunc[H], log *zap.SugaredLogger) *Table[H] {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	t := &Table[H]{lookup: lookup, log: log}
	t.current.Store(NewClassifier[H]())
	return t
}

// Resolve resolves uri against the current snapshot.
func (t *Table[H]) Resolve(uri string) (Match[H], bool) {
	return t.current.Load().Resolve(uri)
}

// Snapshot returns the current Classifier. Callers must not register on it.
func (t *Table[H]) Snapshot() *Classifier[H] {
	return t.current.Load()
}

// Reloads returns how many snapshots have been published.
func (t *Table[H]) Reloads() uint64 {
	return t.reloads.Load()
}

// Apply builds a Classifier from routes and publishes it. On error the
// current snapshot stays in place.
func (t *Table[H]) Apply(routes []Route) error {
	c := NewClassifier[H]()
	for _, r := range routes {
		h, err := t.lookup(r.Handler)
		if err != nil {
			return fmt.Errorf("router: route %q: %w", r.Prefix, err)
		}
		if err := c.Register(r.Prefix, h, r.InFront); err != nil {
			return err
		}
	}
	t.current.Store(c)
	t.reloads.Add(1)
	return nil
}

// Load reads a JSON route file and publishes it.
func (t *Table[H]) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("router: read routes: %w", err)
	}
	var routes []Route
	if err := json.Unmarshal(data, &routes); err != nil {
		return fmt.Errorf("router: decode %s: %w", path, err)
	}
	if err := t.Apply(routes); err != nil {
		return err
	}
	t.log.Infow("routes loaded", "path", path, "routes", len(routes))
	return nil
}

// Watch reloads path whenever it is written or replaced, until ctx is
// done. A failed reload is logged and the previous routes stay active.
func (t *Table[H]) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("router: watch: %w", err)
	}
	defer w.Close()

	// Editors often replace the file, so watch the directory.
	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("router: watch %s: %w", filepath.Dir(target), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if err := t.Load(target); err != nil {
				t.log.Warnw("route reload failed", "path", target, "err", err)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			t.log.Warnw("route watcher error", "err", err)
		}
	}
}
