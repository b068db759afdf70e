package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Watcher reloads the YAML overlay when it changes and applies its
// log_level to a live zap level
type Watcher struct {
	path    string
	level   zap.AtomicLevel
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher for path. The directory is watched as well
// so that editors which save by rename are picked up.
func NewWatcher(path string, level zap.AtomicLevel, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &Watcher{
		path:    path,
		level:   level,
		watcher: fw,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}, nil
}

// Start begins watching for configuration changes
func (w *Watcher) Start() {
	w.done = make(chan struct{})
	go w.watchLoop()
	w.logger.Info("Configuration watcher started", zap.String("path", w.path))
}

// Stop stops watching and waits for a started loop to exit
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
		if w.done != nil {
			<-w.done
		}
	})
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	var debounce *time.Timer
	const debounceDuration = 100 * time.Millisecond

	for {
		select {
		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDuration, func() {
				if err := w.Reload(); err != nil {
					w.logger.Warn("Failed to reload configuration", zap.Error(err))
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Configuration watcher error", zap.Error(err))
		}
	}
}

// Reload reads the file and applies its log level. A file without
// log_level leaves the level unchanged.
func (w *Watcher) Reload() error {
	fc, err := readFileConfig(w.path)
	if err != nil {
		return err
	}
	if fc.LogLevel == nil {
		return nil
	}

	lvl, err := zapcore.ParseLevel(*fc.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log_level %q: %w", *fc.LogLevel, err)
	}
	if lvl != w.level.Level() {
		w.logger.Info("Log level changed",
			zap.String("from", w.level.Level().String()),
			zap.String("to", lvl.String()),
		)
		w.level.SetLevel(lvl)
	}
	return nil
}
