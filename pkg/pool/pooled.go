package pool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/moonlight/pkg/browser"
	"github.com/harun/moonlight/pkg/protocol"
)

const contextDisposeTimeout = 5 * time.Second

// PooledBrowser grants exclusive use of one pooled browser until Release
type PooledBrowser struct {
	id       string
	browser  *browser.Browser
	pool     *Pool
	released *atomic.Bool
	cleanup  runtime.Cleanup

	mu       sync.Mutex
	contexts []*browser.Context
}

type leakedHandle struct {
	pool     *Pool
	id       string
	released *atomic.Bool
}

func newPooledBrowser(p *Pool, id string, b *browser.Browser) *PooledBrowser {
	pb := &PooledBrowser{
		id:       id,
		browser:  b,
		pool:     p,
		released: new(atomic.Bool),
	}

	// a handle dropped without Release still returns its browser
	pb.cleanup = runtime.AddCleanup(pb, func(h leakedHandle) {
		if h.released.CompareAndSwap(false, true) {
			h.pool.logger.Warn().Str("browser_id", h.id).Msg("Pooled browser was garbage collected without Release")
			h.pool.returnBrowser(h.id)
		}
	}, leakedHandle{pool: p, id: id, released: pb.released})

	return pb
}

// ID returns the pooled browser id
func (pb *PooledBrowser) ID() string {
	return pb.id
}

// Browser returns the underlying browser
func (pb *PooledBrowser) Browser() *browser.Browser {
	return pb.browser
}

// Connection returns the protocol connection to the browser
func (pb *PooledBrowser) Connection() *protocol.Connection {
	return pb.browser.Connection()
}

// NewContext creates a browser context with the pool's context options
func (pb *PooledBrowser) NewContext(ctx context.Context) (*browser.Context, error) {
	return pb.NewContextWithOptions(ctx, pb.pool.cfg.ContextOptions)
}

// NewContextWithOptions creates a browser context. Contexts still open at
// Release are disposed before the browser is handed out again.
func (pb *PooledBrowser) NewContextWithOptions(ctx context.Context, opts browser.ContextOptions) (*browser.Context, error) {
	c, err := pb.browser.NewContext(ctx, opts)
	if err != nil {
		return nil, err
	}

	pb.mu.Lock()
	pb.contexts = append(pb.contexts, c)
	pb.mu.Unlock()
	return c, nil
}

// Release returns the browser to the pool. It never blocks on recycling and
// only the first call has effect.
func (pb *PooledBrowser) Release() {
	if !pb.released.CompareAndSwap(false, true) {
		return
	}
	pb.cleanup.Stop()

	pb.mu.Lock()
	contexts := pb.contexts
	pb.contexts = nil
	pb.mu.Unlock()

	if len(contexts) == 0 {
		pb.pool.returnBrowser(pb.id)
		return
	}

	id := pb.id
	p := pb.pool
	if !p.spawn(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, contextDisposeTimeout)
		defer cancel()
		for _, c := range contexts {
			if err := c.Dispose(ctx); err != nil {
				p.logger.Debug().Err(err).Str("browser_id", id).Msg("Failed to dispose browser context")
			}
		}
		p.returnBrowser(id)
	}) {
		p.returnBrowser(id)
	}
}
