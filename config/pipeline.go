package config

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"feathermail/logging"
	"feathermail/pipeline"
)

// Loader owns the hot-reloadable pipeline spec: it loads the spec once at
// boot, then watches its source file and atomically swaps in a
// newly-validated spec on every write. Sessions already running hold
// their own reference acquired at accept and are unaffected by later
// swaps.
type Loader struct {
	path     string
	registry *pipeline.Registry
	logger   logging.Logger

	current atomic.Pointer[pipeline.Spec]
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewLoader loads the pipeline spec at path once (failing if it doesn't
// parse or validate) and returns a Loader ready to watch it.
func NewLoader(path string, registry *pipeline.Registry, logger logging.Logger) (*Loader, error) {
	l := &Loader{path: path, registry: registry, logger: logger, done: make(chan struct{})}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Loader) reload() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("config: reading pipeline file %s: %w", l.path, err)
	}
	// Expand ${FEATHER_KEYSTORE_PATH}/${FEATHER_SECRET_KEY}-style references
	// so operators keep secrets out of the pipeline file itself.
	expanded := os.ExpandEnv(string(data))
	spec, err := pipeline.ParseSpec([]byte(expanded), l.registry)
	if err != nil {
		return fmt.Errorf("config: parsing pipeline file %s: %w", l.path, err)
	}
	l.current.Store(spec)
	return nil
}

// Spec returns the currently active pipeline spec. Safe for concurrent
// use; callers (typically the listener, at accept time) should call this
// once per accepted connection and hold onto the result for that
// session's lifetime.
func (l *Loader) Spec() *pipeline.Spec {
	return l.current.Load()
}

// WatchPipeline starts watching the pipeline file for changes. On a write
// event it re-parses and validates the file; on success it atomically
// replaces the active spec, on failure it keeps the old spec and logs an
// error. It runs until Close is called.
func (l *Loader) WatchPipeline() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watching %s: %w", l.path, err)
	}
	l.watcher = watcher

	go l.watchLoop()
	return nil
}

func (l *Loader) watchLoop() {
	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := l.reload(); err != nil {
				if l.logger != nil {
					l.logger.Error("pipeline hot reload failed, keeping previous spec", err,
						logging.F("path", l.path))
				}
				continue
			}
			if l.logger != nil {
				l.logger.Info("pipeline hot reload applied", logging.F("path", l.path))
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			if l.logger != nil {
				l.logger.Error("pipeline watcher error", err)
			}
		}
	}
}

// Close stops the watcher goroutine.
func (l *Loader) Close() error {
	close(l.done)
	if l.watcher != nil {
		return l.watcher.Close()
	}
	return nil
}
