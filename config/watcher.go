package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent describes an external edit to the config file. Previous is
// the document that was live before the reload, Document the one read from
// disk; DiffDocuments(Previous, Document) yields the catalogue changes.
type ChangeEvent struct {
	Path     string
	OldHash  string
	NewHash  string
	Previous *Document
	Document *Document
	Time     time.Time
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets the debounce duration for file change events.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// Watcher monitors the store's config file for external edits and invokes a
// callback with the reloaded document. It watches the directory containing
// the file for atomic-save compatibility, and uses content hashes both to
// suppress spurious events and to ignore the store's own writes.
type Watcher struct {
	store    *Store
	debounce time.Duration
	logger   *slog.Logger
	onChange func(ChangeEvent)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	lastHash  string

	mu      sync.Mutex
	pending map[string]time.Time // path -> last event time
}

// NewWatcher creates a Watcher over the given store. onChange is called with
// a ChangeEvent whenever the file content changes under someone else's hand.
func NewWatcher(store *Store, onChange func(ChangeEvent), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		store:    store,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		onChange: onChange,
		done:     make(chan struct{}),
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins watching the config file's directory for changes.
func (w *Watcher) Start() error {
	hash, err := w.store.FileHash()
	if err != nil {
		return fmt.Errorf("config watcher: initial hash: %w", err)
	}
	w.lastHash = hash

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: create fsnotify: %w", err)
	}
	w.fsWatcher = fsw

	// Watch the directory so we catch atomic saves (rename-over).
	dir := filepath.Dir(w.store.Path())
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher and waits for the background goroutine to exit.
// It is safe to call Stop multiple times.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				// Any write/create/rename in the watched directory enqueues
				// the config path for a hash check. The hash check in
				// processChange prevents spurious reloads.
				w.mu.Lock()
				w.pending[w.store.Path()] = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "err", err)

		case <-ticker.C:
			w.processPending()
		}
	}
}

func (w *Watcher) processPending() {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, t := range w.pending {
		if now.Sub(t) >= w.debounce {
			ready = append(ready, path)
		}
	}
	for _, path := range ready {
		delete(w.pending, path)
	}
	w.mu.Unlock()

	for _, path := range ready {
		w.processChange(path)
	}
}

// processChange hashes the file and reloads it through the store when the
// content genuinely changed and the change did not originate from the store
// itself.
func (w *Watcher) processChange(path string) {
	if filepath.Clean(path) != filepath.Clean(w.store.Path()) {
		return
	}

	newHash, err := w.store.FileHash()
	if err != nil {
		w.logger.Error("config watcher: failed to hash config", "path", path, "err", err)
		return
	}

	if newHash == w.lastHash {
		w.logger.Debug("config watcher: content unchanged, skipping", "path", path)
		return
	}
	if newHash == w.store.LastWriteHash() {
		w.lastHash = newHash
		w.logger.Debug("config watcher: own write, skipping", "path", path)
		return
	}

	previous := w.store.Snapshot()
	doc, err := w.store.Reload()
	if err != nil {
		w.logger.Error("config watcher: failed to reload config", "path", path, "err", err)
		return
	}

	oldHash := w.lastHash
	w.lastHash = newHash

	w.logger.Info("config changed on disk", "path", path, "old_hash", shortHash(oldHash), "new_hash", shortHash(newHash))

	w.onChange(ChangeEvent{
		Path:     path,
		OldHash:  oldHash,
		NewHash:  newHash,
		Previous: previous,
		Document: doc,
		Time:     time.Now(),
	})
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
