package cache

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of file system events (editors often
// write a file several times in quick succession).
const watchDebounce = 100 * time.Millisecond

// ManifestWatcher monitors a manifest file and notifies a callback when
// it changes, debounced. The callback typically reinstalls the store.
type ManifestWatcher struct {
	path     string
	onChange func()
	logger   *slog.Logger

	watcher *fsnotify.Watcher

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	done    chan struct{}
	stopped chan struct{}
}

// NewManifestWatcher creates a watcher for the given manifest file.
// Call Start to begin watching and Close when done.
func NewManifestWatcher(path string, onChange func(), logger *slog.Logger) (*ManifestWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &ManifestWatcher{
		path:     path,
		onChange: onChange,
		logger:   logger,
		watcher:  watcher,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Start begins watching. The containing directory is watched rather than
// the file itself so atomic replace-by-rename is observed.
func (w *ManifestWatcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	go w.loop()
	return nil
}

func (w *ManifestWatcher) loop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleNotify()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("Manifest watcher error", "error", err)
			}
		}
	}
}

// scheduleNotify fires the callback after the debounce window.
func (w *ManifestWatcher) scheduleNotify() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(watchDebounce, func() {
		if w.logger != nil {
			w.logger.Info("Manifest changed, reinstalling store", "path", w.path)
		}
		w.onChange()
	})
}

// Close stops watching. Pending debounced notifications are cancelled.
func (w *ManifestWatcher) Close() error {
	close(w.done)
	err := w.watcher.Close()
	<-w.stopped

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	return err
}
