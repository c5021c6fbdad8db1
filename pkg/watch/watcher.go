// Package watch monitors an input directory and re-runs the conversion
// when snapshot files appear or change. There is no incremental update:
// a change always triggers a full rebuild, which keeps the container and
// descriptor consistent with the directory contents.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gridflow/gridflow/pkg/util"
)

// Watcher monitors a snapshot directory and triggers rebuilds.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	debounce time.Duration

	// OnBatch runs after the debounce window closes. One call covers any
	// number of file events.
	OnBatch func() error
	OnError func(err error)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for dir. Debounce bounds how long after the
// last event a rebuild starts; simulation writers often emit many files in
// a burst and rebuilding per file would thrash.
func NewWatcher(dir string, debounce time.Duration) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch: resolve path: %w", err)
	}
	if err := fsWatcher.Add(abs); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("watch: watch directory: %w", err)
	}

	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Watcher{
		watcher:  fsWatcher,
		dir:      abs,
		debounce: debounce,
	}, nil
}

// relevant reports whether a changed path can affect the conversion.
// Gzipped snapshots count; BaseFormat sees through the .gz suffix.
func relevant(path string) bool {
	return util.BaseFormat(path) == ".vts"
}

// Run starts the watch loop. Blocks until context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !relevant(event.Name) {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			if w.OnError != nil {
				w.OnError(err)
			}
		}
	}
}

// schedule resets the debounce timer. The rebuild fires once the directory
// has been quiet for the full window.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.rebuild)
}

func (w *Watcher) rebuild() {
	if w.OnBatch == nil {
		return
	}
	if err := w.OnBatch(); err != nil && w.OnError != nil {
		w.OnError(err)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}
