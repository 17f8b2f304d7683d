package history

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultWatchDebounce = 250 * time.Millisecond

// Watch observes the registry files and calls onChange, debounced, after any of
// them is written, created, renamed or removed. The parent directories are
// watched so registries replaced by rename are still seen. Watch blocks until
// ctx ends.
func Watch(ctx context.Context, paths []string, debounce time.Duration, logger *zap.Logger, onChange func()) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	targets := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		absolute, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		targets[absolute] = struct{}{}
		dirs[filepath.Dir(absolute)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}
	logger.Info("registry watcher started", zap.Int("files", len(targets)))

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
			return
		}
		timer.Reset(debounce)
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("registry watcher stopped")
			return nil

		case <-fire:
			timer = nil
			fire = nil
			if onChange != nil {
				onChange()
			}

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			absolute, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			if _, ok := targets[absolute]; !ok {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			logger.Debug("registry changed", zap.String("path", absolute), zap.String("op", event.Op.String()))
			schedule()

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("registry watcher error", zap.Error(watchErr))
		}
	}
}
