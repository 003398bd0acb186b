package infra

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// StoreWatcher reports external edits to the policy store, e.g. the management
// UI saving a new collection. It watches the parent directory because atomic
// saves replace the file and fsnotify cannot follow a renamed inode.
type StoreWatcher struct {
	targetPath string
	parentPath string
	onChange   func()
	debounce   time.Duration
	logger     *zap.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewStoreWatcher creates a watcher for the store file at path.
func NewStoreWatcher(path string, onChange func(), logger *zap.Logger) *StoreWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	clean := filepath.Clean(path)
	return &StoreWatcher{
		targetPath: clean,
		parentPath: filepath.Dir(clean),
		onChange:   onChange,
		debounce:   200 * time.Millisecond,
		logger:     logger,
	}
}

// Run watches until ctx is cancelled.
func (w *StoreWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := os.MkdirAll(w.parentPath, 0700); err != nil {
		return err
	}
	if err := fsw.Add(w.parentPath); err != nil {
		return err
	}
	w.logger.Debug("watching policy store", zap.String("path", w.targetPath))

	defer w.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.matches(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("store watcher error", zap.Error(err))
		}
	}
}

// matches accepts the store file and its sidecars (sqlite -wal/-shm), but not
// our own lock and temp files.
func (w *StoreWatcher) matches(name string) bool {
	name = filepath.Clean(name)
	if name == w.targetPath {
		return true
	}
	if !strings.HasPrefix(name, w.targetPath) {
		return false
	}
	suffix := strings.TrimPrefix(name, w.targetPath)
	return suffix == "-wal" || suffix == "-shm"
}

// schedule coalesces bursts of events into one callback.
func (w *StoreWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.logger.Debug("policy store changed", zap.String("path", w.targetPath))
		if w.onChange != nil {
			w.onChange()
		}
	})
}

func (w *StoreWatcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
