package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a JSONStore when another process rewrites its file.
// The directory is watched rather than the file because WriteJSONAtomic
// replaces the file by rename, which drops a file-level watch.
type Watcher struct {
	store    *JSONStore
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onReload func(error)
}

// NewWatcher creates a watcher for store and makes the store read-only:
// the file belongs to the writing process. onReload, if non-nil, is called
// after every reload attempt.
func NewWatcher(store *JSONStore, debounce time.Duration, onReload func(error)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(store.Path())); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(store.Path()), err)
	}
	store.SetReadOnly()
	return &Watcher{store: store, watcher: fw, debounce: debounce, onReload: onReload}, nil
}

// Run processes events until ctx is canceled, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	target := filepath.Clean(w.store.Path())
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("database watcher error", "error", err)
		case <-timer.C:
			err := w.store.Reload()
			if err != nil {
				slog.Warn("database reload failed", "path", target, "error", err)
			} else {
				slog.Info("database reloaded", "path", target)
			}
			if w.onReload != nil {
				w.onReload(err)
			}
		}
	}
}
