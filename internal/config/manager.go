package config

import (
	"context"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces bursts of filesystem events into one reload.
const reloadDebounce = 500 * time.Millisecond

// Manager owns the active gateway configuration. Readers take the
// current snapshot through an atomic pointer, so a reload swaps the
// whole Config and in-flight requests never observe a half-applied
// update.
type Manager struct {
	path    string
	current atomic.Pointer[Config]
	logger  *slog.Logger

	mu          sync.Mutex
	subscribers []func(*Config)
	checksum    uint64

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	done      chan struct{}
}

// NewManager loads the configuration file and returns a manager
// serving it. The file is not watched until Watch is called.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		path:     path,
		logger:   logger,
		checksum: checksum(data),
	}
	m.current.Store(cfg)
	return m, nil
}

// Get returns the current configuration snapshot. Safe for concurrent
// use.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// OnChange registers a callback invoked after each successful reload.
// Callbacks run on the watch goroutine, one at a time.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// Watch starts watching the configuration file for changes. The parent
// directory is watched rather than the file itself, so editors and
// deploy tools that replace the file via rename keep triggering
// reloads.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(m.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	m.watcher = watcher
	m.done = make(chan struct{})
	go m.watch(ctx)
	return nil
}

func (m *Manager) watch(ctx context.Context) {
	defer close(m.done)

	target := filepath.Base(m.path)
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			m.closeWatcher()
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(reloadDebounce)

		case <-pending:
			pending = nil
			m.reload()

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watch error", "error", err)
		}
	}
}

// reload re-reads the file and swaps in the parsed result. Touches
// that leave the content byte-identical are ignored, and a file that
// fails to parse or validate leaves the current config active.
func (m *Manager) reload() {
	data, err := os.ReadFile(m.path)
	if err != nil {
		m.logger.Error("config reload failed, keeping current", "error", err)
		return
	}

	sum := checksum(data)
	m.mu.Lock()
	unchanged := sum == m.checksum
	m.mu.Unlock()
	if unchanged {
		m.logger.Debug("config content unchanged, skipping reload")
		return
	}

	cfg, err := Parse(data)
	if err != nil {
		m.logger.Error("config reload failed, keeping current", "error", err)
		return
	}

	m.current.Store(cfg)

	m.mu.Lock()
	m.checksum = sum
	subs := make([]func(*Config), len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	m.logger.Info("configuration reloaded",
		"providers", len(cfg.Providers),
		"strategy", cfg.Routing.Strategy,
	)
	for _, fn := range subs {
		fn(cfg)
	}
}

// Close stops the watcher and waits for the watch goroutine to exit.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	err := m.closeWatcher()
	<-m.done
	return err
}

func (m *Manager) closeWatcher() error {
	var err error
	m.closeOnce.Do(func() {
		err = m.watcher.Close()
	})
	return err
}

func checksum(data []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(data)
	return h.Sum64()
}
