package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 100 * time.Millisecond

// Watch reloads the config whenever the file changes and calls fn with the
// new configuration. It blocks until ctx is cancelled. Invalid files are
// logged and skipped; the previous configuration stays in effect.
func (m *Manager) Watch(ctx context.Context, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace the file on save, so watch the directory.
	if err := watcher.Add(filepath.Dir(m.configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	log := logger.WithComponent("config")
	target := filepath.Clean(m.configPath)

	debounce := time.NewTimer(0)
	<-debounce.C

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(watchDebounce)

		case <-debounce.C:
			if err := m.load(); err != nil {
				log.Warn().Err(err).Str("path", m.configPath).Msg("Ignoring invalid config change")
				continue
			}
			log.Info().Str("path", m.configPath).Msg("Config reloaded")
			if fn != nil {
				fn(m.Get())
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}
