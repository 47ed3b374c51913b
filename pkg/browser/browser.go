package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/harun/moonlight/pkg/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const closeRequestTimeout = 2 * time.Second

// Browser is a connected browser process
type Browser struct {
	family  Family
	process *Process
	conn    *protocol.Connection
	logger  zerolog.Logger

	mu       sync.Mutex
	contexts map[string]*Context
	closed   bool

	closeOnce sync.Once
	closeErr  error
}

// Launch starts a browser with launcher and connects to it. The process is
// cleaned up if the connection cannot be established.
func Launch(ctx context.Context, launcher Launcher, opts LaunchOptions, connOpts ...protocol.Option) (*Browser, error) {
	proc, err := launcher.Launch(ctx, opts)
	if err != nil {
		return nil, err
	}

	b, err := Connect(ctx, proc, connOpts...)
	if err != nil {
		_ = proc.Cleanup()
		return nil, err
	}
	return b, nil
}

// Connect dials the process endpoint
func Connect(ctx context.Context, proc *Process, connOpts ...protocol.Option) (*Browser, error) {
	family := proc.Family
	if family == nil {
		family = chromiumFamily{}
	}

	logger := log.Logger.With().
		Str("component", "browser").
		Str("browser_type", family.Name()).
		Logger()

	conn, err := protocol.Dial(ctx, proc.Endpoint, append([]protocol.Option{protocol.WithLogger(logger)}, connOpts...)...)
	if err != nil {
		return nil, &BrowserError{
			Code:    ErrCodeConnection,
			Message: fmt.Sprintf("failed to connect to %s", family.Name()),
			Details: proc.Endpoint,
			Err:     err,
		}
	}

	return &Browser{
		family:   family,
		process:  proc,
		conn:     conn,
		logger:   logger,
		contexts: make(map[string]*Context),
	}, nil
}

// Connection returns the protocol connection to the browser
func (b *Browser) Connection() *protocol.Connection {
	return b.conn
}

// Family returns the browser family
func (b *Browser) Family() Family {
	return b.family
}

// Endpoint returns the remote-debugging URL
func (b *Browser) Endpoint() string {
	return b.process.Endpoint
}

// Process returns the underlying process handle
func (b *Browser) Process() *Process {
	return b.process
}

// Alive reports whether the connection to the browser is still open
func (b *Browser) Alive() bool {
	return b.conn.Err() == nil
}

// Version queries Browser.getVersion
func (b *Browser) Version(ctx context.Context) (*cdpbrowser.GetVersionReturns, error) {
	raw, err := b.conn.SendRequest(ctx, cdpbrowser.CommandGetVersion, nil)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}

	var ret cdpbrowser.GetVersionReturns
	if err := json.Unmarshal(raw, &ret); err != nil {
		return nil, fmt.Errorf("decode version: %w", err)
	}
	return &ret, nil
}

// NewContext creates an isolated browser context
func (b *Browser) NewContext(ctx context.Context, opts ContextOptions) (*Context, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, &BrowserError{Code: ErrCodeClosed, Message: "browser is closed"}
	}

	params := target.CreateBrowserContext()
	if opts.DisposeOnDetach {
		params = params.WithDisposeOnDetach(true)
	}
	if opts.Proxy != nil && opts.Proxy.Server != "" {
		params = params.WithProxyServer(opts.Proxy.Server)
		if opts.Proxy.Bypass != "" {
			params = params.WithProxyBypassList(opts.Proxy.Bypass)
		}
	}

	raw, err := b.conn.SendRequest(ctx, target.CommandCreateBrowserContext, params)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	var ret target.CreateBrowserContextReturns
	if err := json.Unmarshal(raw, &ret); err != nil {
		return nil, fmt.Errorf("decode browser context: %w", err)
	}
	if ret.BrowserContextID == "" {
		return nil, fmt.Errorf("create browser context: empty browserContextId")
	}

	c := &Context{id: string(ret.BrowserContextID), browser: b}

	b.mu.Lock()
	b.contexts[c.id] = c
	b.mu.Unlock()

	b.logger.Debug().Str("context_id", c.id).Msg("Browser context created")
	return c, nil
}

// Contexts returns the contexts created through this handle and not yet disposed
func (b *Browser) Contexts() []*Context {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Context, 0, len(b.contexts))
	for _, c := range b.contexts {
		out = append(out, c)
	}
	return out
}

// DisposeContexts disposes every open context, returning the first error
func (b *Browser) DisposeContexts(ctx context.Context) error {
	var first error
	for _, c := range b.Contexts() {
		if err := c.Dispose(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (b *Browser) forgetContext(id string) {
	b.mu.Lock()
	delete(b.contexts, id)
	b.mu.Unlock()
}

// Close asks an owned browser to exit, closes the connection, kills the
// process and removes a temporary profile. An attached browser keeps running.
// Only process cleanup errors are returned.
func (b *Browser) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.contexts = make(map[string]*Context)
		b.mu.Unlock()

		// teardown runs to completion even when ctx is already cancelled
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeRequestTimeout)
		defer cancel()

		if b.process.Owned() && b.Alive() {
			if _, err := b.conn.SendRequest(closeCtx, cdpbrowser.CommandClose, nil); err != nil {
				b.logger.Debug().Err(err).Msg("Browser.close failed")
			}
		}

		if err := b.conn.Close(closeCtx); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to close connection")
		}

		b.closeErr = b.process.Cleanup()
		if b.closeErr != nil {
			b.logger.Warn().Err(b.closeErr).Msg("Failed to clean up browser process")
		}
	})
	return b.closeErr
}
