package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager holds the current config and re-reads the file when it
// changes on disk. Consumers read through Get and may subscribe with
// OnChange; registered providers are not re-created on reload, only the
// defaults layer is refreshed.
type Manager struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	current  *Config
	onChange []func(*Config)
}

// NewManager loads the initial config.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{path: path, logger: logger, current: cfg}, nil
}

// Get returns the current config snapshot.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnChange registers a callback invoked after each successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Watch blocks watching the file until ctx is done. Editors replace
// files on save, so Create and Rename fire as well as Write; a short
// debounce absorbs the burst.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(m.path); err != nil {
		return err
	}

	var timer *time.Timer
	reload := func() {
		cfg, err := Load(m.path)
		if err != nil {
			m.logger.Warn("config reload failed, keeping previous", "path", m.path, "error", err)
			return
		}
		m.mu.Lock()
		m.current = cfg
		callbacks := append([]func(*Config){}, m.onChange...)
		m.mu.Unlock()
		m.logger.Info("config reloaded", "path", m.path)
		for _, fn := range callbacks {
			fn(cfg)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(200*time.Millisecond, reload)
			// Re-add after rename; some editors swap the inode.
			_ = watcher.Add(m.path)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("config watch error", "error", err)
		}
	}
}
