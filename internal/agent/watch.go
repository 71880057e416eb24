package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const catalogDebounce = 250 * time.Millisecond

// WatchCatalog reloads the catalog at path whenever it changes and passes the
// parsed result to onChange. Invalid catalogs are logged and skipped. The
// parent directory is watched so editors that replace the file by rename are
// picked up. WatchCatalog blocks until ctx is done.
func WatchCatalog(ctx context.Context, path string, onChange func(Catalog), logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve catalog path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(catalogDebounce)
			fire = timer.C
		case <-fire:
			fire = nil
			cat, err := LoadCatalog(abs)
			if err != nil {
				logger.Warn("catalog reload skipped", "path", abs, "error", err)
				continue
			}
			logger.Info("catalog reloaded", "path", abs, "agents", len(cat.Agents))
			onChange(cat)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog watcher error", "error", err)
		}
	}
}
