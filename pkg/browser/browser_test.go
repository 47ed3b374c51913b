package browser

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/moonlight/internal/cdptest"
	"github.com/harun/moonlight/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLauncher struct {
	proc *Process
	err  error
}

func (s *staticLauncher) Launch(context.Context, LaunchOptions) (*Process, error) {
	return s.proc, s.err
}

func connectTest(t *testing.T) (*cdptest.Server, *Browser) {
	t.Helper()

	server := cdptest.NewServer()
	t.Cleanup(server.Close)

	b, err := Connect(context.Background(), &Process{Endpoint: server.URL(), Family: chromiumFamily{}}, protocol.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close(context.Background()) })

	return server, b
}

func TestBrowserVersion(t *testing.T) {
	server, b := connectTest(t)
	server.HandleResult("Browser.getVersion", map[string]string{
		"protocolVersion": "1.3",
		"product":         "HeadlessChrome/120.0.6099.71",
	})

	v, err := b.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.3", v.ProtocolVersion)
	assert.Equal(t, "HeadlessChrome/120.0.6099.71", v.Product)
	assert.True(t, b.Alive())
	assert.Equal(t, server.URL(), b.Endpoint())
}

func TestBrowserNewContext(t *testing.T) {
	server, b := connectTest(t)

	var params map[string]interface{}
	server.Handle("Target.createBrowserContext", func(_ *cdptest.Conn, req cdptest.Request) cdptest.Reply {
		_ = json.Unmarshal(req.Params, &params)
		return cdptest.Reply{Result: map[string]string{"browserContextId": "ctx-1"}}
	})

	c, err := b.NewContext(context.Background(), ContextOptions{
		DisposeOnDetach: true,
		Proxy:           &ProxyOptions{Server: "http://proxy.local:3128", Bypass: "localhost"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ctx-1", c.ID())
	assert.Equal(t, true, params["disposeOnDetach"])
	assert.Equal(t, "http://proxy.local:3128", params["proxyServer"])
	assert.Equal(t, "localhost", params["proxyBypassList"])
	assert.Len(t, b.Contexts(), 1)

	require.NoError(t, c.Dispose(context.Background()))
	require.NoError(t, c.Dispose(context.Background()))
	assert.Equal(t, 1, server.RequestCount("Target.disposeBrowserContext"))
	assert.Empty(t, b.Contexts())
}

func TestBrowserNewContextRejected(t *testing.T) {
	server, b := connectTest(t)
	server.HandleError("Target.createBrowserContext", "Failed to create context")

	_, err := b.NewContext(context.Background(), ContextOptions{})
	require.Error(t, err)
	assert.True(t, protocol.IsRemote(err))
}

func TestDisposeContexts(t *testing.T) {
	server, b := connectTest(t)
	n := 0
	server.Handle("Target.createBrowserContext", func(*cdptest.Conn, cdptest.Request) cdptest.Reply {
		n++
		return cdptest.Reply{Result: map[string]string{"browserContextId": "ctx-" + string(rune('a'+n))}}
	})

	for i := 0; i < 3; i++ {
		_, err := b.NewContext(context.Background(), ContextOptions{})
		require.NoError(t, err)
	}

	require.NoError(t, b.DisposeContexts(context.Background()))
	assert.Equal(t, 3, server.RequestCount("Target.disposeBrowserContext"))
	assert.Empty(t, b.Contexts())
}

func TestBrowserClose(t *testing.T) {
	server := cdptest.NewServer()
	defer server.Close()

	dir := filepath.Join(t.TempDir(), "profile")
	require.NoError(t, os.MkdirAll(dir, 0755))
	killed := 0
	proc := &Process{Endpoint: server.URL(), Family: chromiumFamily{}, UserDataDir: dir, tempDir: true, kill: func() error {
		killed++
		return nil
	}}

	b, err := Launch(context.Background(), &staticLauncher{proc: proc}, DefaultLaunchOptions(), protocol.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	require.NoError(t, b.Close(context.Background()))
	require.NoError(t, b.Close(context.Background()))

	assert.Equal(t, 1, server.RequestCount("Browser.close"))
	assert.Equal(t, 1, killed)
	assert.NoDirExists(t, dir)
	assert.False(t, b.Alive())

	_, err = b.NewContext(context.Background(), ContextOptions{})
	assert.True(t, HasCode(err, ErrCodeClosed))
}

func TestBrowserCloseAfterCrash(t *testing.T) {
	server, b := connectTest(t)
	server.DisconnectAll()

	require.Eventually(t, func() bool { return !b.Alive() }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, 0, server.RequestCount("Browser.close"))
}

func TestBrowserCloseLeavesAttachedRunning(t *testing.T) {
	server := cdptest.NewServer()
	defer server.Close()

	proc, err := (&AttachLauncher{Endpoint: server.URL()}).Launch(context.Background(), DefaultLaunchOptions())
	require.NoError(t, err)
	assert.False(t, proc.Owned())

	b, err := Connect(context.Background(), proc, protocol.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, 0, server.RequestCount("Browser.close"))
	assert.False(t, b.Alive())
}

func TestLaunchConnectFailureCleansUp(t *testing.T) {
	server := cdptest.NewServer()
	defer server.Close()
	server.RefuseConnections(true)

	killed := false
	proc := &Process{Endpoint: server.URL(), kill: func() error {
		killed = true
		return nil
	}}

	_, err := Launch(context.Background(), &staticLauncher{proc: proc}, DefaultLaunchOptions(), protocol.WithLogger(zerolog.Nop()))
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrCodeConnection))
	assert.True(t, errors.Is(err, protocol.ErrTransport))
	assert.True(t, killed)
}

func TestLaunchPropagatesLauncherError(t *testing.T) {
	launchErr := &BrowserError{Code: ErrCodeLaunch, Message: "boom"}

	_, err := Launch(context.Background(), &staticLauncher{err: launchErr}, DefaultLaunchOptions())
	assert.Same(t, launchErr, err)
}
