package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/moonlight/internal/config"
	"github.com/harun/moonlight/internal/logger"
	"github.com/harun/moonlight/internal/observability"
	"github.com/harun/moonlight/internal/tracing"
	"github.com/harun/moonlight/pkg/fleet"
	"github.com/harun/moonlight/pkg/pool"
	"github.com/rs/zerolog"
)

// Daemon hosts one browser pool together with its admin HTTP server
type Daemon struct {
	config *config.Config
	logger *logger.Logger
	log    zerolog.Logger

	pool      *pool.Pool
	registry  *fleet.Registry
	server    *http.Server
	listener  net.Listener
	lifecycle *LifecycleManager

	wg sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
	lifecycleLog   bool
	pidWritten     bool
}

// Status describes a running daemon
type Status struct {
	Running   bool          `json:"running"`
	Uptime    time.Duration `json:"uptime"`
	StartTime time.Time     `json:"start_time"`
	Address   string        `json:"address,omitempty"`
}

// New prepares a daemon. Nothing is launched until Start.
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Daemon{
		config: cfg,
		logger: log,
		log:    log.Component("daemon"),
	}
	d.lifecycle = NewLifecycleManager(d, cfg.PIDFile)
	return d, nil
}

// Start initializes tracing and the fleet registry, launches the pool and
// starts serving the admin endpoints.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	log := tracing.LoggerFromContext(ctx, d.log)
	log.Info().Str("pool", d.config.Pool.Name).Msg("Starting moonlight daemon")

	if err := d.start(ctx, log); err != nil {
		d.teardown(context.Background())
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return err
	}

	log.Info().Str("address", d.Addr()).Int("pool_size", d.pool.Size()).Msg("Daemon started")
	return nil
}

func (d *Daemon) start(ctx context.Context, log zerolog.Logger) error {
	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}
	d.pidWritten = true

	if d.config.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(d.config.Tracing); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without it")
		} else {
			d.tracingEnabled = true
		}
	}

	if d.config.LifecycleLog != "" {
		if err := observability.OpenLifecycleLog(d.config.LifecycleLog); err != nil {
			return fmt.Errorf("failed to open lifecycle log: %w", err)
		}
		d.lifecycleLog = true
	}

	opts := []pool.Option{pool.WithLogger(d.logger.Component("pool"))}
	if d.config.Fleet.Enabled {
		registry, err := fleet.New(d.config.Fleet, fleet.WithLogger(d.logger.Component("fleet")))
		if err != nil {
			return fmt.Errorf("failed to create fleet registry: %w", err)
		}
		if err := registry.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("Fleet registry unreachable, state will be published once it recovers")
		}
		d.registry = registry
		opts = append(opts, pool.WithObserver(registry))
	}

	launcher, err := d.config.Launcher()
	if err != nil {
		return err
	}

	p, err := pool.New(ctx, d.config.ToPoolConfig(), launcher, opts...)
	if err != nil {
		return fmt.Errorf("failed to create pool: %w", err)
	}
	d.pool = p

	listener, err := net.Listen("tcp", d.config.HTTP.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.config.HTTP.Listen, err)
	}
	d.listener = listener
	d.server = &http.Server{
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error().Err(err).Msg("Admin server failed")
		}
	}()

	return nil
}

// Stop shuts the admin server and the pool down, in that order
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	d.log.Info().Msg("Stopping moonlight daemon")

	ctx, cancel := context.WithTimeout(ctx, d.config.HTTP.ShutdownTimeout)
	defer cancel()

	err := d.teardown(ctx)
	d.log.Info().Msg("Daemon stopped")
	return err
}

// teardown releases whatever start managed to set up
func (d *Daemon) teardown(ctx context.Context) error {
	var errs []error

	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("admin server shutdown: %w", err))
		}
		d.wg.Wait()
	}

	if d.pool != nil {
		if err := d.pool.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("pool shutdown: %w", err))
		}
	}

	if d.registry != nil {
		if err := d.registry.Close(); err != nil {
			d.log.Warn().Err(err).Msg("Failed to close fleet registry")
		}
	}

	if d.tracingEnabled {
		if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
			d.log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		d.tracingEnabled = false
	}

	if d.lifecycleLog {
		if err := observability.GetLifecycleLog().Close(); err != nil {
			d.log.Error().Err(err).Msg("Failed to close lifecycle log")
		}
		d.lifecycleLog = false
	}

	if d.pidWritten {
		if err := d.lifecycle.Stop(); err != nil {
			d.log.Error().Err(err).Msg("Failed to stop lifecycle manager")
		}
		d.pidWritten = false
	}

	return errors.Join(errs...)
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{Running: d.running}
	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.Address = d.Addr()
	}
	return status
}

// Wait blocks until SIGINT or SIGTERM, then stops the daemon
func (d *Daemon) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	d.log.Info().Str("signal", sig.String()).Msg("Received signal")

	return d.Stop(context.Background())
}

// Addr returns the admin server address once listening
func (d *Daemon) Addr() string {
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Pool returns the hosted pool, nil before Start
func (d *Daemon) Pool() *pool.Pool {
	return d.pool
}
