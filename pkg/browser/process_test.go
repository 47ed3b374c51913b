package browser

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureUserDataDir(t *testing.T) {
	t.Run("explicit directory is created and kept", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "profile")

		got, temp, err := ensureUserDataDir(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, got)
		assert.False(t, temp)

		_, err = os.Stat(dir)
		assert.NoError(t, err)
	})

	t.Run("empty directory yields a temporary profile", func(t *testing.T) {
		got, temp, err := ensureUserDataDir("")
		require.NoError(t, err)
		defer os.RemoveAll(got)

		assert.True(t, temp)
		assert.DirExists(t, got)
	})
}

func TestProcessCleanup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "owned")
	require.NoError(t, os.MkdirAll(dir, 0755))

	kills := 0
	proc := &Process{UserDataDir: dir, tempDir: true, kill: func() error {
		kills++
		return nil
	}}

	require.NoError(t, proc.Cleanup())
	require.NoError(t, proc.Kill())

	assert.Equal(t, 1, kills)
	assert.NoDirExists(t, dir)
}

func TestProcessCleanupKeepsUserProfile(t *testing.T) {
	dir := t.TempDir()
	proc := &Process{UserDataDir: dir}

	require.NoError(t, proc.Cleanup())
	assert.DirExists(t, dir)
}

func TestWaitForEndpoint(t *testing.T) {
	family := chromiumFamily{}

	t.Run("file appears later", func(t *testing.T) {
		dir := t.TempDir()
		go func() {
			time.Sleep(50 * time.Millisecond)
			_ = os.WriteFile(family.EndpointFile(dir), []byte("9333\n/devtools/browser/abc\n"), 0644)
		}()

		endpoint, err := waitForEndpoint(context.Background(), family, dir, 2*time.Second, 10*time.Millisecond, nil)
		require.NoError(t, err)
		assert.Equal(t, "ws://127.0.0.1:9333/devtools/browser/abc", endpoint)
	})

	t.Run("timeout", func(t *testing.T) {
		_, err := waitForEndpoint(context.Background(), family, t.TempDir(), 50*time.Millisecond, 10*time.Millisecond, nil)
		require.Error(t, err)
		assert.True(t, HasCode(err, ErrCodeTimeout))
	})

	t.Run("process exited", func(t *testing.T) {
		exited := make(chan struct{})
		close(exited)

		_, err := waitForEndpoint(context.Background(), family, t.TempDir(), time.Second, 10*time.Millisecond, exited)
		require.Error(t, err)
		assert.True(t, HasCode(err, ErrCodeBrowserCrash))
	})
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}

	path := filepath.Join(t.TempDir(), "fake-browser")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func TestExecLauncher(t *testing.T) {
	family := firefoxFamily{}

	t.Run("discovers endpoint", func(t *testing.T) {
		// firefox args start with: -profile <dir>
		bin := writeScript(t, `echo '{"webSocketDebuggerUrl":"ws://127.0.0.1:4444/devtools/browser/ff"}' > "$2/firefox_debug.json"
exec sleep 30
`)
		l := &ExecLauncher{Family: family, PollInterval: 10 * time.Millisecond, Logger: zerolog.Nop()}

		proc, err := l.Launch(context.Background(), LaunchOptions{ExecutablePath: bin, Headless: true, Timeout: 5 * time.Second})
		require.NoError(t, err)

		assert.Equal(t, "ws://127.0.0.1:4444/devtools/browser/ff", proc.Endpoint)
		assert.Equal(t, Firefox, proc.Family.Name())
		assert.Greater(t, proc.PID, 0)
		assert.DirExists(t, proc.UserDataDir)

		require.NoError(t, proc.Cleanup())
		assert.NoDirExists(t, proc.UserDataDir)
	})

	t.Run("exits early", func(t *testing.T) {
		bin := writeScript(t, "exit 1\n")
		l := &ExecLauncher{Family: family, PollInterval: 10 * time.Millisecond, Logger: zerolog.Nop()}

		_, err := l.Launch(context.Background(), LaunchOptions{ExecutablePath: bin, Timeout: 5 * time.Second})
		require.Error(t, err)
		assert.True(t, HasCode(err, ErrCodeBrowserCrash))
	})

	t.Run("never publishes endpoint", func(t *testing.T) {
		bin := writeScript(t, "exec sleep 30\n")
		l := &ExecLauncher{Family: family, PollInterval: 10 * time.Millisecond, Logger: zerolog.Nop()}

		_, err := l.Launch(context.Background(), LaunchOptions{ExecutablePath: bin, Timeout: 100 * time.Millisecond})
		require.Error(t, err)
		assert.True(t, HasCode(err, ErrCodeTimeout))
	})

	t.Run("missing executable", func(t *testing.T) {
		l := &ExecLauncher{Family: family, Logger: zerolog.Nop()}

		_, err := l.Launch(context.Background(), LaunchOptions{ExecutablePath: filepath.Join(t.TempDir(), "nope")})
		require.Error(t, err)
		assert.True(t, HasCode(err, ErrCodeNotFound))
	})
}

func TestAttachLauncher(t *testing.T) {
	l := &AttachLauncher{Endpoint: "ws://127.0.0.1:9222/devtools/browser/x"}

	proc, err := l.Launch(context.Background(), LaunchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/x", proc.Endpoint)
	assert.Equal(t, Chromium, proc.Family.Name())
	assert.False(t, proc.Owned())
	assert.NoError(t, proc.Kill())
}

func TestProcessOwned(t *testing.T) {
	attached := NewProcess("ws://127.0.0.1:9222/devtools/browser/x", nil, nil)
	assert.False(t, attached.Owned())
	assert.NoError(t, attached.Kill())

	killed := 0
	owned := NewProcess("ws://127.0.0.1:9222/devtools/browser/y", nil, func() error {
		killed++
		return nil
	})
	assert.True(t, owned.Owned())
	require.NoError(t, owned.Kill())
	require.NoError(t, owned.Kill())
	assert.Equal(t, 1, killed)
}

func TestNewLauncher(t *testing.T) {
	chromium, err := FamilyByName("chromium")
	require.NoError(t, err)
	_, ok := NewLauncher(chromium).(*RodLauncher)
	assert.True(t, ok)

	webkit, err := FamilyByName("webkit")
	require.NoError(t, err)
	_, ok = NewLauncher(webkit).(*ExecLauncher)
	assert.True(t, ok)
}
