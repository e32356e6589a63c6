package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ehrlich-b/arkanrelay/internal/logger"
)

// Watch reloads path on every write/create event and invokes onChange with
// the freshly parsed Config. Runs until ctx is cancelled. Only kore.*
// settings are expected to usefully change at runtime (reconnect policy,
// candidate ports); the hook addresses and logging sinks are effectively
// fixed once installed.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(path)
			if err != nil {
				logger.App.Warn("config reload failed", "err", err)
				continue
			}
			logger.App.Info("config reloaded", "path", path)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.App.Warn("config watcher error", "err", err)
		}
	}
}
