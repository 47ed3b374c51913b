package pool

import (
	"context"

	"github.com/harun/moonlight/internal/observability"
	"github.com/harun/moonlight/internal/tracing"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// startSchedule runs PerformMaintenance every MaintenanceInterval. A run
// still in progress when the next one is due causes that one to be skipped.
// cron.Every rounds the interval to whole seconds.
func (p *Pool) startSchedule() {
	logger := cronLogger{logger: p.logger.With().Str("component", "maintenance").Logger()}

	p.scheduler = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	p.scheduler.Schedule(cron.Every(p.cfg.MaintenanceInterval), cron.FuncJob(func() {
		p.PerformMaintenance(p.baseCtx)
	}))
	p.scheduler.Start()
}

// PerformMaintenance removes dead browsers, recycles browsers idle for longer
// than MaxIdleTime without going below MinSize, then tops the pool back up
// to MinSize.
func (p *Pool) PerformMaintenance(ctx context.Context) {
	if p.isClosed() {
		return
	}

	ctx, span := tracing.StartSpan(tracing.WithOperation(ctx, "maintenance"), tracerName, "pool.maintenance",
		attribute.String("pool", p.cfg.Name))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, p.logger)

	dead := p.reapDead(ctx)
	expired := p.expireIdle(ctx)

	shortfall := p.cfg.MinSize - p.Size()
	created := 0
	if shortfall > 0 && !p.isClosed() {
		var err error
		created, err = p.createMany(ctx, shortfall)
		if err != nil {
			logger.Warn().Err(err).Int("created", created).Int("shortfall", shortfall).Msg("Pool top-up incomplete")
		}
	}

	span.SetAttributes(
		attribute.Int("pool.dead", dead),
		attribute.Int("pool.expired", expired),
		attribute.Int("pool.created", created),
	)
	if dead+expired+created > 0 {
		logger.Info().
			Int("dead", dead).
			Int("expired", expired).
			Int("created", created).
			Int("size", p.Size()).
			Msg("Pool maintenance completed")
	}
}

// reapDead removes idle browsers whose connection has terminated
func (p *Pool) reapDead(ctx context.Context) int {
	var dead []*entry
	p.mu.RLock()
	for _, e := range p.entries {
		e.mu.Lock()
		if e.status == StatusIdle && e.browser != nil && !e.browser.Alive() {
			e.status = StatusFailed
			dead = append(dead, e)
		}
		e.mu.Unlock()
	}
	p.mu.RUnlock()

	for _, e := range dead {
		ctx := tracing.WithBrowserID(ctx, e.id)
		logger := tracing.LoggerFromContext(ctx, p.logger)
		logger.Warn().Msg("Removing browser with a dead connection")
		p.changed(e.info())
		p.closeAndRemove(ctx, e)
		observability.RecordBrowserLifecycle(ctx, p.cfg.Name, e.id, "failed", "error", map[string]interface{}{"reason": "connection lost"})
	}
	return len(dead)
}

// expireIdle recycles idle browsers past MaxIdleTime, keeping MinSize
func (p *Pool) expireIdle(ctx context.Context) int {
	if p.cfg.MaxIdleTime <= 0 {
		return 0
	}

	now := p.now()
	var expired []*entry

	p.mu.RLock()
	budget := len(p.entries) - p.cfg.MinSize
	for _, e := range p.entries {
		if budget <= 0 {
			break
		}
		e.mu.Lock()
		if e.status == StatusIdle && now.Sub(e.lastUsed) > p.cfg.MaxIdleTime {
			e.status = StatusCleaningUp
			expired = append(expired, e)
			budget--
		}
		e.mu.Unlock()
	}
	p.mu.RUnlock()

	for _, e := range expired {
		ctx := tracing.WithBrowserID(ctx, e.id)
		p.changed(e.info())
		p.closeAndRemove(ctx, e)
		p.recordOperation("recycle", true)
		observability.RecordBrowserLifecycle(ctx, p.cfg.Name, e.id, "recycled", "success", map[string]interface{}{"reason": "idle"})
	}
	return len(expired)
}
