package pool

import "errors"

var (
	// ErrNoBrowsersAvailable is returned when the pool is at capacity and
	// nothing is idle. Callers retry with their own backoff.
	ErrNoBrowsersAvailable = errors.New("no browsers available")
	// ErrPoolSizeLimitReached is returned by creation when the pool is full
	ErrPoolSizeLimitReached = errors.New("pool size limit reached")
	// ErrInvalidBrowserID is returned for ids the pool does not track
	ErrInvalidBrowserID = errors.New("invalid browser id")
	// ErrBrowserNotIdle is returned when a claim loses the race for a browser
	ErrBrowserNotIdle = errors.New("browser is not idle")
	// ErrBrowserInitializing is returned when recycling a browser whose
	// launch has not finished
	ErrBrowserInitializing = errors.New("browser is still initializing")
	// ErrPoolClosed is returned after Shutdown
	ErrPoolClosed = errors.New("pool is closed")
)

// errBrowserDead marks an idle browser whose connection has terminated
var errBrowserDead = errors.New("browser connection lost")
