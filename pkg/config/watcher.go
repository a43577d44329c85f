package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/openpulse/openpulse/pkg/telemetry"
)

// Watcher reloads the configuration file on change and hands the new
// configuration to a callback. Reloads are debounced; a file that
// fails to parse or validate is rejected and the running
// configuration stays in effect.
type Watcher struct {
	path    string
	logger  *telemetry.Logger
	watcher *fsnotify.Watcher
}

// NewWatcher creates a watcher for one configuration file.
func NewWatcher(path string, logger *telemetry.Logger) *Watcher {
	return &Watcher{
		path:   path,
		logger: logger.NewComponentLogger("config-watcher"),
	}
}

// Watch starts watching until the context is cancelled. reloadFn is
// called with each successfully loaded configuration.
func (w *Watcher) Watch(ctx context.Context, reloadFn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher

	if err := watcher.Add(w.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch config file: %w", err)
	}

	go w.processEvents(ctx, reloadFn)
	w.logger.WithField("path", w.path).Info("watching configuration file")
	return nil
}

func (w *Watcher) processEvents(ctx context.Context, reloadFn func(*Config)) {
	// Editors often emit several events per save; debounce them.
	var reloadTimer *time.Timer
	reloadDelay := 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(reloadDelay, func() {
				cfg, err := Load(w.path)
				if err != nil {
					w.logger.WithError(err).Error("config reload rejected")
					return
				}
				w.logger.Info("configuration reloaded")
				reloadFn(cfg)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("config watcher error")
		}
	}
}

// Stop closes the underlying watcher.
func (w *Watcher) Stop() error {
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}
