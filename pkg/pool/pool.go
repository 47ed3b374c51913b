package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/moonlight/internal/observability"
	"github.com/harun/moonlight/internal/tracing"
	"github.com/harun/moonlight/pkg/browser"
	"github.com/harun/moonlight/pkg/protocol"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const tracerName = "moonlight.pool"

// Observer is notified after every change of a browser record. Calls are
// made outside the pool's locks and must not call back into the pool.
type Observer interface {
	BrowserUpdated(pool string, info Info)
	BrowserRemoved(pool string, info Info)
}

// entry is the record of one pooled browser. Fields are guarded by mu.
type entry struct {
	mu          sync.Mutex
	id          string
	browser     *browser.Browser
	status      Status
	createdAt   time.Time
	lastUsed    time.Time
	useCount    int
	browserType string
}

func (e *entry) infoLocked() Info {
	info := Info{
		ID:          e.id,
		Status:      e.status,
		CreatedAt:   e.createdAt,
		LastUsed:    e.lastUsed,
		UseCount:    e.useCount,
		BrowserType: e.browserType,
	}
	if e.browser != nil {
		info.Endpoint = e.browser.Endpoint()
	}
	return info
}

func (e *entry) info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.infoLocked()
}

// Pool keeps between MinSize and MaxSize browsers alive and hands them out
// for exclusive use.
type Pool struct {
	cfg      Config
	launcher browser.Launcher
	logger   zerolog.Logger
	observer Observer
	connOpts []protocol.Option
	now      func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	// bounds concurrent creations across every path
	permits *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc

	lifecycleMu sync.Mutex
	stopping    bool
	tasks       sync.WaitGroup

	scheduler    *cron.Cron
	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures a Pool
type Option func(*Pool)

// WithLogger sets the pool logger
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithObserver registers an observer for record changes
func WithObserver(observer Observer) Option {
	return func(p *Pool) {
		p.observer = observer
	}
}

// WithConnectionOptions adds options to every browser connection
func WithConnectionOptions(opts ...protocol.Option) Option {
	return func(p *Pool) {
		p.connOpts = append(p.connOpts, opts...)
	}
}

// WithClock replaces the time source used for idle accounting
func WithClock(now func() time.Time) Option {
	return func(p *Pool) {
		p.now = now
	}
}

// New validates cfg, starts the maintenance schedule and launches MinSize
// browsers. A nil launcher selects the default one for cfg.BrowserType.
// Launch failures during start-up are logged, not returned.
func New(ctx context.Context, cfg Config, launcher browser.Launcher, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	if launcher == nil {
		family, err := browser.FamilyByName(cfg.BrowserType)
		if err != nil {
			return nil, err
		}
		launcher = browser.NewLauncher(family)
	}

	baseCtx, cancel := context.WithCancel(tracing.WithPool(context.Background(), cfg.Name))

	p := &Pool{
		cfg:      cfg,
		launcher: launcher,
		logger:   log.Logger.With().Str("component", "pool").Logger(),
		now:      time.Now,
		entries:  make(map[string]*entry),
		permits:  semaphore.NewWeighted(int64(cfg.MaxSize)),
		baseCtx:  baseCtx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("pool", cfg.Name).Logger()

	connLogger := p.logger.With().Str("component", "protocol").Logger()
	p.connOpts = append([]protocol.Option{
		protocol.WithLogger(connLogger),
		protocol.WithRequestTimeout(cfg.RequestTimeout),
	}, p.connOpts...)

	if cfg.EnableMetrics {
		observability.EnsureRegistered()
	}

	if cfg.MaintenanceInterval > 0 {
		p.startSchedule()
	}

	p.initialize(tracing.WithPool(ctx, cfg.Name))

	p.logger.Info().
		Int("min_size", cfg.MinSize).
		Int("max_size", cfg.MaxSize).
		Int("size", p.Size()).
		Str("browser_type", cfg.BrowserType).
		Msg("Browser pool started")

	return p, nil
}

// Name returns the pool name
func (p *Pool) Name() string {
	return p.cfg.Name
}

// Config returns the pool configuration
func (p *Pool) Config() Config {
	return p.cfg
}

// initialize launches MinSize browsers concurrently
func (p *Pool) initialize(ctx context.Context) {
	if p.cfg.MinSize == 0 {
		return
	}

	created, err := p.createMany(ctx, p.cfg.MinSize)
	if err != nil {
		p.logger.Warn().
			Err(err).
			Int("created", created).
			Int("min_size", p.cfg.MinSize).
			Msg("Pool started below minimum size")
	}
}

// createMany creates n idle browsers concurrently and returns how many
// succeeded together with the first failure.
func (p *Pool) createMany(ctx context.Context, n int) (int, error) {
	var created atomic.Int32
	var g errgroup.Group

	for i := 0; i < n; i++ {
		g.Go(func() error {
			if _, err := p.createBrowser(ctx, false); err != nil {
				return err
			}
			created.Add(1)
			return nil
		})
	}

	err := g.Wait()
	return int(created.Load()), err
}

// GetBrowser claims an idle browser, or creates one when the pool has room.
// It never waits for a browser to be released: at capacity it fails with
// ErrNoBrowsersAvailable.
func (p *Pool) GetBrowser(ctx context.Context) (*PooledBrowser, error) {
	ctx, span := tracing.StartSpan(tracing.WithPool(ctx, p.cfg.Name), tracerName, "pool.get_browser",
		attribute.String("pool", p.cfg.Name))
	defer span.End()

	pb, err := p.getBrowser(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.recordOperation("claim", false)
		return nil, err
	}

	span.SetAttributes(attribute.String("browser.id", pb.id))
	p.recordOperation("claim", true)
	return pb, nil
}

func (p *Pool) getBrowser(ctx context.Context) (*PooledBrowser, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	for _, e := range p.idleCandidates() {
		if err := p.claim(e); err != nil {
			if errors.Is(err, errBrowserDead) {
				p.spawn(func(ctx context.Context) {
					p.closeAndRemove(tracing.WithBrowserID(ctx, e.id), e)
				})
				continue
			}
			if errors.Is(err, ErrBrowserNotIdle) {
				continue
			}
			return nil, err
		}
		return p.handle(e), nil
	}

	if p.Size() < p.cfg.MaxSize {
		e, err := p.createBrowser(ctx, true)
		if err == nil {
			return p.handle(e), nil
		}
		if !errors.Is(err, ErrPoolSizeLimitReached) {
			return nil, err
		}
	}

	return nil, ErrNoBrowsersAvailable
}

// idleCandidates is an unsynchronized best-effort scan; claim re-validates
func (p *Pool) idleCandidates() []*entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*entry
	for _, e := range p.entries {
		e.mu.Lock()
		idle := e.status == StatusIdle
		e.mu.Unlock()
		if idle {
			out = append(out, e)
		}
	}
	return out
}

// claim moves e from Idle to InUse atomically with respect to the record
func (p *Pool) claim(e *entry) error {
	e.mu.Lock()
	if e.status != StatusIdle {
		e.mu.Unlock()
		return ErrBrowserNotIdle
	}
	if e.browser != nil && !e.browser.Alive() {
		e.status = StatusFailed
		info := e.infoLocked()
		e.mu.Unlock()
		p.changed(info)
		return errBrowserDead
	}
	e.status = StatusInUse
	e.lastUsed = p.now()
	info := e.infoLocked()
	e.mu.Unlock()

	p.changed(info)
	return nil
}

// returnBrowser moves a released browser back to Idle. When the browser has
// reached MaxUses (or reuse is disabled) it goes to CleaningUp instead, in
// the same critical section, and is retired in the background.
func (p *Pool) returnBrowser(id string) {
	e := p.lookup(id)
	if e == nil {
		p.logger.Debug().Str("browser_id", id).Msg("Released browser is no longer tracked")
		return
	}

	e.mu.Lock()
	if e.status != StatusInUse {
		status := e.status
		e.mu.Unlock()
		p.logger.Debug().Str("browser_id", id).Stringer("status", status).Msg("Ignoring release of browser not in use")
		return
	}
	e.lastUsed = p.now()
	e.useCount++
	retire := e.useCount >= p.cfg.MaxUses || !p.cfg.EnableReuse
	if retire {
		e.status = StatusCleaningUp
	} else {
		e.status = StatusIdle
	}
	info := e.infoLocked()
	e.mu.Unlock()

	p.recordOperation("return", true)
	p.changed(info)

	if retire {
		p.logger.Debug().Str("browser_id", id).Int("use_count", info.UseCount).Msg("Browser reached its use limit")
		p.spawn(func(ctx context.Context) {
			p.finishRecycle(tracing.WithBrowserID(ctx, id), e, "max_uses")
		})
	}
}

// createBrowser reserves a slot, launches a browser with retries and
// publishes it as Idle, or as InUse when claim is set.
func (p *Pool) createBrowser(ctx context.Context, claim bool) (*entry, error) {
	if err := p.permits.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire creation permit: %w", err)
	}
	defer p.permits.Release(1)

	id, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("generate browser id: %w", err)
	}

	now := p.now()
	e := &entry{
		id:          id,
		status:      StatusInitializing,
		createdAt:   now,
		lastUsed:    now,
		browserType: p.cfg.BrowserType,
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if len(p.entries) >= p.cfg.MaxSize {
		p.mu.Unlock()
		return nil, ErrPoolSizeLimitReached
	}
	p.entries[id] = e
	p.mu.Unlock()

	ctx = tracing.WithBrowserID(ctx, id)
	p.changed(e.info())

	start := time.Now()
	b, err := p.launchWithRetry(ctx, id)
	if p.cfg.EnableMetrics {
		observability.RecordBrowserCreation(p.cfg.Name, time.Since(start), err == nil)
	}

	if err != nil {
		e.mu.Lock()
		e.status = StatusFailed
		info := e.infoLocked()
		e.mu.Unlock()

		p.changed(info)
		p.remove(id)
		observability.RecordBrowserLifecycle(ctx, p.cfg.Name, id, "failed", "error", map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	tracked := p.lookup(id) == e
	e.mu.Lock()
	if !tracked || e.status != StatusInitializing {
		// the record was retired while launching; the browser is not ours to hand out
		e.mu.Unlock()
		p.remove(id)
		_ = b.Close(ctx)
		return nil, ErrBrowserInitializing
	}
	e.browser = b
	if claim {
		e.status = StatusInUse
	} else {
		e.status = StatusIdle
	}
	e.lastUsed = p.now()
	info := e.infoLocked()
	e.mu.Unlock()

	if p.isClosed() {
		p.remove(id)
		_ = b.Close(ctx)
		return nil, ErrPoolClosed
	}

	p.changed(info)
	observability.RecordBrowserLifecycle(ctx, p.cfg.Name, id, "created", "success", map[string]interface{}{"endpoint": b.Endpoint()})
	logger := tracing.LoggerFromContext(ctx, p.logger)
	logger.Debug().Bool("claimed", claim).Msg("Browser created")

	return e, nil
}

func (p *Pool) launchWithRetry(ctx context.Context, id string) (*browser.Browser, error) {
	logger := tracing.LoggerFromContext(ctx, p.logger)
	attempts := p.cfg.MaxCreationRetries

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		b, err := browser.Launch(ctx, p.launcher, p.cfg.LaunchOptions, p.connOpts...)
		if err == nil {
			return b, nil
		}
		lastErr = err

		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", attempts).
			Msg("Browser creation failed")

		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.cfg.CreationRetryDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("create browser %s: %w", id, errors.Join(ctx.Err(), lastErr))
		}
	}

	return nil, fmt.Errorf("create browser %s after %d attempts: %w", id, attempts, lastErr)
}

// Recycle retires the browser: it is closed, removed and, when the pool
// drops below MinSize, replaced. Close errors are logged, not returned.
//
// An InUse browser is taken away from its holder: the holder's connection
// closes under it and its later Release is a no-op. A browser that is still
// Initializing cannot be recycled and yields ErrBrowserInitializing.
func (p *Pool) Recycle(ctx context.Context, id string) error {
	e := p.lookup(id)
	if e == nil {
		return ErrInvalidBrowserID
	}

	e.mu.Lock()
	switch e.status {
	case StatusCleaningUp:
		e.mu.Unlock()
		return nil
	case StatusInitializing:
		e.mu.Unlock()
		return ErrBrowserInitializing
	}
	e.status = StatusCleaningUp
	info := e.infoLocked()
	e.mu.Unlock()

	p.changed(info)
	p.finishRecycle(tracing.WithBrowserID(ctx, id), e, "requested")
	return nil
}

// finishRecycle closes and removes a record already in CleaningUp, then
// replaces it if the pool is below MinSize.
func (p *Pool) finishRecycle(ctx context.Context, e *entry, reason string) {
	p.closeAndRemove(ctx, e)
	p.recordOperation("recycle", true)
	observability.RecordBrowserLifecycle(ctx, p.cfg.Name, e.id, "recycled", "success", map[string]interface{}{"reason": reason})

	if p.isClosed() || p.Size() >= p.cfg.MinSize {
		return
	}

	if _, err := p.createBrowser(ctx, false); err != nil {
		logger := tracing.LoggerFromContext(ctx, p.logger)
		logger.Warn().Err(err).Msg("Failed to replace recycled browser")
	}
}

func (p *Pool) closeAndRemove(ctx context.Context, e *entry) {
	e.mu.Lock()
	b := e.browser
	e.mu.Unlock()

	if b != nil {
		if err := b.Close(ctx); err != nil {
			logger := tracing.LoggerFromContext(ctx, p.logger)
			logger.Warn().Err(err).Msg("Failed to close browser")
		}
	}
	p.remove(e.id)
}

func (p *Pool) remove(id string) {
	p.mu.Lock()
	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	info := e.info()
	p.publishGauges()
	if p.observer != nil {
		p.observer.BrowserRemoved(p.cfg.Name, info)
	}
}

// spawn runs fn in a tracked background goroutine. It refuses once the pool
// is shutting down.
func (p *Pool) spawn(fn func(ctx context.Context)) bool {
	p.lifecycleMu.Lock()
	if p.stopping {
		p.lifecycleMu.Unlock()
		return false
	}
	p.tasks.Add(1)
	p.lifecycleMu.Unlock()

	go func() {
		defer p.tasks.Done()
		fn(p.baseCtx)
	}()
	return true
}

// Shutdown stops maintenance, waits for background work and closes every
// browser whatever its status. It is idempotent.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		if p.scheduler != nil {
			stopped := p.scheduler.Stop()
			select {
			case <-stopped.Done():
			case <-ctx.Done():
			}
		}

		p.lifecycleMu.Lock()
		p.stopping = true
		p.lifecycleMu.Unlock()
		p.cancel()

		waited := make(chan struct{})
		go func() {
			p.tasks.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			p.shutdownErr = fmt.Errorf("wait for background tasks: %w", ctx.Err())
		}

		p.mu.Lock()
		entries := make([]*entry, 0, len(p.entries))
		for _, e := range p.entries {
			entries = append(entries, e)
		}
		p.mu.Unlock()

		var g errgroup.Group
		for _, e := range entries {
			g.Go(func() error {
				p.closeAndRemove(ctx, e)
				return nil
			})
		}
		_ = g.Wait()

		p.logger.Info().Int("closed", len(entries)).Msg("Browser pool shut down")
	})
	return p.shutdownErr
}

func (p *Pool) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

func (p *Pool) lookup(id string) *entry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.entries[id]
}

func (p *Pool) handle(e *entry) *PooledBrowser {
	e.mu.Lock()
	b := e.browser
	e.mu.Unlock()
	return newPooledBrowser(p, e.id, b)
}

// Size returns the number of tracked browsers in any status
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// AvailableCount returns the number of Idle browsers
func (p *Pool) AvailableCount() int {
	return p.Stats().Idle
}

// InUseCount returns the number of claimed browsers
func (p *Pool) InUseCount() int {
	return p.Stats().InUse
}

// Stats counts browsers by status
func (p *Pool) Stats() Stats {
	var s Stats
	for _, info := range p.Snapshot() {
		s.Size++
		switch info.Status {
		case StatusInitializing:
			s.Initializing++
		case StatusIdle:
			s.Idle++
		case StatusInUse:
			s.InUse++
		case StatusCleaningUp:
			s.CleaningUp++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// Snapshot returns a copy of every record, oldest first
func (p *Pool) Snapshot() []Info {
	p.mu.RLock()
	out := make([]Info, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.info())
	}
	p.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Info returns the record of one browser
func (p *Pool) Info(id string) (Info, error) {
	e := p.lookup(id)
	if e == nil {
		return Info{}, ErrInvalidBrowserID
	}
	return e.info(), nil
}

func (p *Pool) changed(info Info) {
	p.publishGauges()
	if p.observer != nil {
		p.observer.BrowserUpdated(p.cfg.Name, info)
	}
}

func (p *Pool) publishGauges() {
	if !p.cfg.EnableMetrics {
		return
	}
	s := p.Stats()
	observability.SetPoolBrowsers(p.cfg.Name, statusNames, map[string]int{
		StatusInitializing.String(): s.Initializing,
		StatusIdle.String():         s.Idle,
		StatusInUse.String():        s.InUse,
		StatusCleaningUp.String():   s.CleaningUp,
		StatusFailed.String():       s.Failed,
	})
}

func (p *Pool) recordOperation(operation string, success bool) {
	if p.cfg.EnableMetrics {
		observability.RecordPoolOperation(p.cfg.Name, operation, success)
	}
}
