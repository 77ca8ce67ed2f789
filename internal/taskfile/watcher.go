package taskfile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"github.com/hackebrot/go-duetask/pkg/scheduler"
)

const defaultDebounce = 250 * time.Millisecond

// Saver accepts task definitions. *scheduler.Runner implements it.
type Saver interface {
	Save(def scheduler.TaskDefinition) error
}

// Watcher keeps a Saver in sync with a task file. Each entry is saved at most
// once, even when the file is reloaded.
type Watcher struct {
	path     string
	loader   *Loader
	saver    Saver
	logger   *slog.Logger
	clock    clockwork.Clock
	debounce time.Duration

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewWatcher creates a Watcher for path.
func NewWatcher(path string, loader *Loader, saver Saver, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		loader:   loader,
		saver:    saver,
		logger:   logger,
		clock:    clockwork.NewRealClock(),
		debounce: defaultDebounce,
		seen:     make(map[string]struct{}),
	}
}

// Sync loads the file and saves entries that were not saved before.
// It returns the number of newly saved tasks.
func (w *Watcher) Sync() (int, error) {
	items, err := w.loader.Load(w.path, w.clock.Now())
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	added := 0
	for _, item := range items {
		if _, ok := w.seen[item.Key]; ok {
			continue
		}
		if err := w.saver.Save(item.Definition); err != nil {
			return added, fmt.Errorf("save %s: %w", item.Definition.Name, err)
		}
		w.seen[item.Key] = struct{}{}
		added++
	}

	if added > 0 {
		w.logger.Info("task file loaded", "path", w.path, "count_tasks", added)
	}
	return added, nil
}

// Watch reloads the file whenever it changes until ctx is done.
// Reload errors are logged and watching continues.
func (w *Watcher) Watch(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	target := filepath.Clean(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}

	// debounce to avoid partial writes
	var (
		timerMu sync.Mutex
		timer   clockwork.Timer
	)
	reload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = w.clock.AfterFunc(w.debounce, func() {
			if _, err := w.Sync(); err != nil {
				w.logger.Error("task file reload failed", "path", w.path, "error", err)
			}
		})
	}
	defer func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("task file watch error", "path", w.path, "error", err)
		}
	}
}
