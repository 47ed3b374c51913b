package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/harun/moonlight/pkg/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "default", cfg.Pool.Name)
	assert.Equal(t, 1, cfg.Pool.MinSize)
	assert.Equal(t, 10, cfg.Pool.MaxSize)
	assert.Equal(t, 100, cfg.Pool.MaxUses)
	assert.Equal(t, "chromium", cfg.Pool.BrowserType)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
	assert.False(t, cfg.Fleet.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestToPoolConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pool.Name = "crawl"
	cfg.Pool.MaxSize = 3
	cfg.Pool.MaintenanceInterval = 10 * time.Second
	cfg.Launch.ExecutablePath = "/usr/bin/chromium"
	cfg.Launch.Args = []string{"--mute-audio"}
	cfg.Context.DisposeOnDetach = true
	cfg.Metrics.Enabled = false

	pc := cfg.ToPoolConfig()

	assert.Equal(t, "crawl", pc.Name)
	assert.Equal(t, 3, pc.MaxSize)
	assert.Equal(t, 10*time.Second, pc.MaintenanceInterval)
	assert.Equal(t, "/usr/bin/chromium", pc.LaunchOptions.ExecutablePath)
	assert.Equal(t, []string{"--mute-audio"}, pc.LaunchOptions.Args)
	assert.True(t, pc.LaunchOptions.Headless)
	assert.True(t, pc.ContextOptions.DisposeOnDetach)
	assert.Nil(t, pc.ContextOptions.Proxy)
	assert.False(t, pc.EnableMetrics)
	assert.NoError(t, pc.Validate())
}

func TestLauncher(t *testing.T) {
	cfg := DefaultConfig()

	l, err := cfg.Launcher()
	require.NoError(t, err)
	assert.Nil(t, l)

	cfg.Launch.Endpoint = "ws://127.0.0.1:9222/devtools/browser/abc"
	l, err = cfg.Launcher()
	require.NoError(t, err)
	attach, ok := l.(*browser.AttachLauncher)
	require.True(t, ok)
	assert.Equal(t, cfg.Launch.Endpoint, attach.Endpoint)
	assert.Equal(t, browser.Chromium, attach.Family.Name())
}

func TestConfigString(t *testing.T) {
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(DefaultConfig().String()), &decoded))
	assert.Contains(t, decoded, "pool")
	assert.Contains(t, decoded, "fleet")
}
