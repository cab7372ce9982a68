package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/kioaccess/internal/logger"
)

// watchDebounce coalesces the burst of events a single save produces.
const watchDebounce = 200 * time.Millisecond

// Watch reloads the configuration file at path whenever it changes and
// hands every valid result to onChange. Edits that fail to load are logged
// and skipped. Watch blocks until ctx is done.
//
// An empty path watches the default location.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	if path == "" {
		path = GetDefaultConfigPath()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	// Editors save by renaming over the file, which drops a watch on the
	// file itself; watch the directory instead.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Debug("Watching configuration", "path", abs)

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			reload = time.After(watchDebounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Configuration watcher error", logger.KeyError, err)

		case <-reload:
			reload = nil
			cfg, err := Load(abs)
			if err != nil {
				logger.Warn("Ignoring configuration change", "path", abs, logger.KeyError, err)
				continue
			}
			logger.Info("Configuration reloaded", "path", abs)
			onChange(cfg)
		}
	}
}
