package config

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// FileWatcher polls a file for changes.
// Polling is used instead of fsnotify because mounted config volumes are swapped via
// symlinks, which inotify reports unreliably.
type FileWatcher struct {
	path     string
	interval time.Duration
	lastMod  time.Time
	logger   *slog.Logger
}

func NewFileWatcher(path string, interval time.Duration, logger *slog.Logger) *FileWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &FileWatcher{
		path:     path,
		interval: interval,
		logger:   logger.With("component", "config_watcher"),
	}
}

// Watch blocks until ctx is done, calling onChange whenever the file's mtime advances.
func (w *FileWatcher) Watch(ctx context.Context, onChange func()) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}

	w.logger.Info("Config watcher started", "path", w.path, "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue // File might be temporarily gone during swap
			}

			if info.ModTime().After(w.lastMod) {
				w.logger.Info("Config file changed, reloading", "path", w.path)
				w.lastMod = info.ModTime()
				onChange()
			}
		}
	}
}

// Reload wires a Loader to a Container: the file is re-read and the section picked by
// extract is swapped in. Failed loads keep the previous snapshot.
func Reload[T any, S any](loader *Loader[T], target *Container[S], extract func(*T) S, logger *slog.Logger) func() {
	return func() {
		cfg, err := loader.Load()
		if err != nil {
			logger.Error("Config reload failed, keeping previous values", "error", err)
			return
		}
		if err := target.Update(extract(cfg)); err != nil {
			logger.Error("Config reload rejected", "error", err)
			return
		}
		logger.Info("Config reloaded")
	}
}
