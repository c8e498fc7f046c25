package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/poltergeist/conveyor/pkg/logger"
)

// DefaultDebounce coalesces the burst of events produced by an atomic save
const DefaultDebounce = 50 * time.Millisecond

// WatchCallback receives every new snapshot, or the error met reading it
type WatchCallback func(*ExecutionState, error)

// Watcher follows a state file written by FileStore. FileStore replaces the
// file by rename, so the parent directory is watched rather than the file.
type Watcher struct {
	path     string
	logger   logger.Logger
	debounce time.Duration

	mu            sync.Mutex
	watcher       *fsnotify.Watcher
	debounceTimer *time.Timer
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewWatcher creates a watcher for the state file at path
func NewWatcher(path string, log logger.Logger) *Watcher {
	if log == nil {
		log = logger.Discard()
	}
	return &Watcher{
		path:     path,
		logger:   log,
		debounce: DefaultDebounce,
	}
}

// SetDebouncePeriod sets the debounce period for file change events
func (w *Watcher) SetDebouncePeriod(period time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = period
}

// Start begins watching. The callback is invoked once as soon as the loop
// starts if the file already exists, then after every change, until ctx is
// done or Stop is called. Callbacks run on the watcher's goroutines.
func (w *Watcher) Start(ctx context.Context, callback WatchCallback) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		return fmt.Errorf("already watching %s", w.path)
	}

	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch state directory: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.watcher = fw
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		w.deliver(callback)
		w.loop(ctx, fw, callback)
	}()

	w.logger.Debug("Started watching state file", logger.WithField("path", w.path))
	return nil
}

// Stop stops watching and waits for the event loop to exit
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.watcher == nil {
		w.mu.Unlock()
		return
	}
	w.cancel()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	done := w.done
	w.mu.Unlock()

	<-done
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, callback WatchCallback) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("State watcher panic recovered", logger.WithField("panic", r))
		}
		if err := fw.Close(); err != nil {
			w.logger.Warn("Error closing file watcher", logger.WithError(err))
		}
		w.mu.Lock()
		w.watcher = nil
		close(w.done)
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(ctx, callback)

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Error("State watcher error", logger.WithError(err))
			callback(nil, err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, callback WatchCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.deliver(callback)
	})
}

// deliver reads the file and invokes callback. A missing file is not an
// error; the run may not have started yet.
func (w *Watcher) deliver(callback WatchCallback) {
	snapshot, err := ReadFile(w.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	callback(snapshot, err)
}
