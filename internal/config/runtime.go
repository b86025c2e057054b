package config

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Runtime holds the current configuration snapshot. Readers resolve
// endpoints per attempt through Snapshot, so a Swap (manual or via Watch)
// is visible on the very next attempt.
type Runtime struct {
	mu  sync.RWMutex
	cfg Config
}

// NewRuntime wraps an initial configuration.
func NewRuntime(cfg Config) *Runtime {
	return &Runtime{cfg: cfg}
}

// Snapshot returns the current configuration by value.
func (r *Runtime) Snapshot() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Swap replaces the current configuration.
func (r *Runtime) Swap(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// Watch reloads the config file on write events until ctx is done. Reload
// failures keep the previous snapshot and are logged, never fatal.
func (r *Runtime) Watch(ctx context.Context, path string, logger zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace files via rename, which drops
	// a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					logger.Error().Err(err).Str("path", path).Msg("config reload failed, keeping previous snapshot")
					continue
				}
				r.Swap(cfg)
				logger.Info().Str("endpoint", cfg.API.Endpoint).Msg("config reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Msg("config watcher error")
			}
		}
	}()
	return nil
}
