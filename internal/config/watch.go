package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/HaeungLee/ai-character-chat-platform-sub000/internal/logging"
)

// DefaultDebounce batches the burst of events an editor save produces.
const DefaultDebounce = 300 * time.Millisecond

// Watch reloads the config whenever the global file or dataDir's override
// changes, passing the new value to fn. Reload errors are logged and the
// previous config stays in effect. Watch blocks until ctx is done.
func Watch(ctx context.Context, dataDir string, debounce time.Duration, logger *slog.Logger, fn func(Config)) error {
	logger = logging.OrDefault(logger)
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	var files []string
	if p, err := GlobalConfigPath(); err == nil {
		files = append(files, p)
	}
	if dataDir != "" {
		files = append(files, DataConfigPath(dataDir))
	}
	return watchFiles(ctx, files, debounce, logger, func() {
		cfg, err := Load(dataDir)
		if err != nil {
			logger.Warn("config reload failed, keeping previous config", slog.Any("error", err))
			return
		}
		logger.Info("config reloaded")
		fn(cfg)
	})
}

func watchFiles(ctx context.Context, files []string, debounce time.Duration, logger *slog.Logger, reload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch directories, not files: editors replace files by rename and a
	// file watch would be lost with the old inode.
	wanted := make(map[string]bool, len(files))
	watched := 0
	for _, f := range files {
		f = filepath.Clean(f)
		wanted[f] = true
		if err := watcher.Add(filepath.Dir(f)); err != nil {
			logger.Debug("config directory not watchable", slog.String("path", filepath.Dir(f)), slog.Any("error", err))
			continue
		}
		watched++
	}
	if watched == 0 {
		<-ctx.Done()
		return nil
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !wanted[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watch error", slog.Any("error", err))

		case <-timer.C:
			reload()
		}
	}
}
