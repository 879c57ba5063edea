package config

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const managerTestConfig = `
server:
  port: 9090
providers:
  - name: openai
    endpoint: https://api.openai.com/v1
`

func TestManager_Get(t *testing.T) {
	path := writeConfigFile(t, managerTestConfig)

	m, err := NewManager(path, slog.Default())
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 9090, m.Get().Server.Port)
}

func TestManager_LoadFailure(t *testing.T) {
	_, err := NewManager("/does/not/exist.yaml", slog.Default())
	assert.Error(t, err)
}

func TestManager_HotReload(t *testing.T) {
	path := writeConfigFile(t, managerTestConfig)

	m, err := NewManager(path, slog.Default())
	require.NoError(t, err)
	defer m.Close()

	var notified atomic.Bool
	m.OnChange(func(cfg *Config) {
		notified.Store(true)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	updated := `
server:
  port: 9191
providers:
  - name: openai
    endpoint: https://api.openai.com/v1
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	require.Eventually(t, func() bool {
		return m.Get().Server.Port == 9191
	}, 3*time.Second, 50*time.Millisecond)
	assert.True(t, notified.Load())
}

func TestManager_UnchangedContentSkipsNotify(t *testing.T) {
	path := writeConfigFile(t, managerTestConfig)

	m, err := NewManager(path, slog.Default())
	require.NoError(t, err)
	defer m.Close()

	var notifications atomic.Int32
	m.OnChange(func(cfg *Config) {
		notifications.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	// Rewriting identical bytes fires filesystem events but must not
	// notify subscribers.
	require.NoError(t, os.WriteFile(path, []byte(managerTestConfig), 0o644))
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, int32(0), notifications.Load())

	updated := managerTestConfig + "routing:\n  strategy: random\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
	require.Eventually(t, func() bool {
		return notifications.Load() == 1
	}, 3*time.Second, 50*time.Millisecond)
	assert.Equal(t, "random", m.Get().Routing.Strategy)
}

func TestManager_ReplacedFileTriggersReload(t *testing.T) {
	path := writeConfigFile(t, managerTestConfig)

	m, err := NewManager(path, slog.Default())
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	// Atomic replace via rename, the way editors and deploy tools
	// update files.
	updated := `
server:
  port: 9292
providers:
  - name: openai
    endpoint: https://api.openai.com/v1
`
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(updated), 0o644))
	require.NoError(t, os.Rename(tmp, path))

	require.Eventually(t, func() bool {
		return m.Get().Server.Port == 9292
	}, 3*time.Second, 50*time.Millisecond)
}

func TestManager_InvalidReloadKeepsCurrent(t *testing.T) {
	path := writeConfigFile(t, managerTestConfig)

	m, err := NewManager(path, slog.Default())
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	require.NoError(t, os.WriteFile(path, []byte("providers: [\n"), 0o644))

	time.Sleep(time.Second)
	assert.Equal(t, 9090, m.Get().Server.Port, "broken file leaves the old config active")
}
