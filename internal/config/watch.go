package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ValidationResult is one re-validation outcome delivered by Watch.
type ValidationResult struct {
	Path      string
	CheckedAt time.Time
	Err       error // nil when the document parsed and validated cleanly
}

// Watcher re-validates a protocol document whenever it changes on disk, for
// the CLI's -watch mode: iterative protocol authoring outside a running
// simulation. It never hot-swaps a document into an in-flight run — Runner
// Config is loaded once before Run and is immutable for the run's duration.
//
// Grounded on the teacher's engine/internal/runtime.HotReloadSystem
// (fsnotify.Watcher over the config file's directory, filtering to the
// exact path and to Write events), narrowed here to validate-and-report
// instead of hot-swap-and-notify.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher

	mu        sync.Mutex
	isWatching bool
}

func NewWatcher(path string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create protocol file watcher: %w", err)
	}
	return &Watcher{path: path, watcher: w}, nil
}

// Watch starts watching the protocol file's directory and returns a channel
// of validation results, one per detected write, until ctx is cancelled.
func (w *Watcher) Watch(ctx context.Context) (<-chan ValidationResult, error) {
	results := make(chan ValidationResult, 10)

	w.mu.Lock()
	if w.isWatching {
		w.mu.Unlock()
		close(results)
		return results, fmt.Errorf("protocol watcher already running for %s", w.path)
	}
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.mu.Unlock()
		close(results)
		return results, fmt.Errorf("watch dir %s: %w", dir, err)
	}
	w.isWatching = true
	w.mu.Unlock()

	go func() {
		defer close(results)
		for {
			select {
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if ev.Name != w.path || ev.Op&fsnotify.Write != fsnotify.Write {
					continue
				}
				_, _, err := LoadProtocol(w.path)
				results <- ValidationResult{Path: w.path, CheckedAt: time.Now(), Err: err}
			case _, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return results, nil
}

// Close releases the underlying filesystem watch.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isWatching {
		w.isWatching = false
		return w.watcher.Close()
	}
	return nil
}
