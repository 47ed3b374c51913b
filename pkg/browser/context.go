package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
)

// Context is an isolated browser context, similar to an incognito profile
type Context struct {
	id      string
	browser *Browser

	disposeOnce sync.Once
	disposeErr  error
}

// ID returns the browser context id
func (c *Context) ID() string {
	return c.id
}

// Browser returns the browser owning the context
func (c *Context) Browser() *Browser {
	return c.browser
}

// Dispose closes the context and all its pages
func (c *Context) Dispose(ctx context.Context) error {
	c.disposeOnce.Do(func() {
		c.browser.forgetContext(c.id)

		params := target.DisposeBrowserContext(cdp.BrowserContextID(c.id))
		if _, err := c.browser.conn.SendRequest(ctx, target.CommandDisposeBrowserContext, params); err != nil {
			c.disposeErr = fmt.Errorf("dispose browser context %s: %w", c.id, err)
		}
	})
	return c.disposeErr
}
