package hooks

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const watchDebounce = 300 * time.Millisecond

// Watch re-syncs path whenever it changes until ctx is done. The parent directory
// is watched so editors that replace the file by rename are seen.
func (s *Service) Watch(ctx context.Context, path string, onSync func(*SyncResult, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve hooks file: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	s.logger.Info("watching hooks file", zap.String("path", abs))

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || event.Op == fsnotify.Chmod {
				continue
			}
			if event.Op&fsnotify.Remove != 0 {
				s.logger.Debug("hooks file removed, keeping current hooks")
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(watchDebounce)
			} else {
				debounce.Reset(watchDebounce)
			}
			fire = debounce.C

		case <-fire:
			fire = nil
			result, err := s.SyncFile(ctx, abs)
			if err != nil {
				s.logger.Warn("hooks re-sync failed", zap.Error(err))
			}
			if onSync != nil {
				onSync(result, err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Debug("hooks watcher error", zap.Error(err))
		}
	}
}
