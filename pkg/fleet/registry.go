// Package fleet mirrors pool state into Redis so that other processes can
// see which browsers of which pool are free or busy.
//
// Layout, for prefix "moonlight:" and pool "default":
//
//	moonlight:pools                         set of pool names
//	moonlight:default:chromium:free         set of idle browser ids
//	moonlight:default:chromium:busy         set of claimed browser ids
//	moonlight:default:browser:<id>          hash with the browser record
package fleet

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/harun/moonlight/pkg/pool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config configures the Redis registry
type Config struct {
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
	URL     string        `json:"url" mapstructure:"url"`
	Prefix  string        `json:"prefix" mapstructure:"prefix"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	// TTL bounds how long a browser hash survives without updates
	TTL time.Duration `json:"ttl" mapstructure:"ttl"`
}

// DefaultConfig returns a disabled registry pointing at a local Redis
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		URL:     "redis://localhost:6379/0",
		Prefix:  "moonlight:",
		Timeout: 2 * time.Second,
		TTL:     time.Hour,
	}
}

// Registry implements pool.Observer on top of Redis. Observer callbacks
// never fail: Redis errors are logged and dropped.
type Registry struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	ttl     time.Duration
	logger  zerolog.Logger
}

var _ pool.Observer = (*Registry)(nil)

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the registry logger
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New connects to cfg.URL. The connection is lazy; use Ping to check it.
func New(cfg Config, opts ...Option) (*Registry, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Timeout > 0 {
		opt.DialTimeout = cfg.Timeout
		opt.ReadTimeout = cfg.Timeout
		opt.WriteTimeout = cfg.Timeout
	}
	return NewWithClient(redis.NewClient(opt), cfg, opts...), nil
}

// NewWithClient wraps an existing client. Close closes it.
func NewWithClient(client *redis.Client, cfg Config, opts ...Option) *Registry {
	r := &Registry{
		client:  client,
		prefix:  cfg.Prefix,
		timeout: cfg.Timeout,
		ttl:     cfg.TTL,
		logger:  log.Logger.With().Str("component", "fleet").Logger(),
	}
	if r.timeout <= 0 {
		r.timeout = DefaultConfig().Timeout
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping checks that Redis is reachable
func (r *Registry) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (r *Registry) Close() error {
	return r.client.Close()
}

func (r *Registry) poolsKey() string {
	return r.prefix + "pools"
}

func (r *Registry) freeKey(poolName, browserType string) string {
	return fmt.Sprintf("%s%s:%s:free", r.prefix, poolName, browserType)
}

func (r *Registry) busyKey(poolName, browserType string) string {
	return fmt.Sprintf("%s%s:%s:busy", r.prefix, poolName, browserType)
}

func (r *Registry) browserKey(poolName, id string) string {
	return fmt.Sprintf("%s%s:browser:%s", r.prefix, poolName, id)
}

// BrowserUpdated moves the browser into the set matching its status and
// rewrites its hash
func (r *Registry) BrowserUpdated(poolName string, info pool.Info) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	free := r.freeKey(poolName, info.BrowserType)
	busy := r.busyKey(poolName, info.BrowserType)
	hash := r.browserKey(poolName, info.ID)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.poolsKey(), poolName)
		switch info.Status {
		case pool.StatusIdle:
			pipe.SRem(ctx, busy, info.ID)
			pipe.SAdd(ctx, free, info.ID)
		case pool.StatusInUse:
			pipe.SRem(ctx, free, info.ID)
			pipe.SAdd(ctx, busy, info.ID)
		default:
			pipe.SRem(ctx, free, info.ID)
			pipe.SRem(ctx, busy, info.ID)
		}
		pipe.HSet(ctx, hash, recordFields(info))
		if r.ttl > 0 {
			pipe.Expire(ctx, hash, r.ttl)
		}
		return nil
	})
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("pool", poolName).
			Str("browser_id", info.ID).
			Stringer("status", info.Status).
			Msg("Failed to publish browser state")
	}
}

// BrowserRemoved drops the browser from both sets and deletes its hash
func (r *Registry) BrowserRemoved(poolName string, info pool.Info) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, r.freeKey(poolName, info.BrowserType), info.ID)
		pipe.SRem(ctx, r.busyKey(poolName, info.BrowserType), info.ID)
		pipe.Del(ctx, r.browserKey(poolName, info.ID))
		return nil
	})
	if err != nil {
		r.logger.Warn().
			Err(err).
			Str("pool", poolName).
			Str("browser_id", info.ID).
			Msg("Failed to remove browser state")
	}
}

// Free lists idle browser ids of a pool
func (r *Registry) Free(ctx context.Context, poolName, browserType string) ([]string, error) {
	return r.client.SMembers(ctx, r.freeKey(poolName, browserType)).Result()
}

// Busy lists claimed browser ids of a pool
func (r *Registry) Busy(ctx context.Context, poolName, browserType string) ([]string, error) {
	return r.client.SMembers(ctx, r.busyKey(poolName, browserType)).Result()
}

// Pools lists every pool that has published state
func (r *Registry) Pools(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, r.poolsKey()).Result()
}

// Browser returns the stored record of one browser. The boolean is false
// when the browser is unknown.
func (r *Registry) Browser(ctx context.Context, poolName, id string) (map[string]string, bool, error) {
	fields, err := r.client.HGetAll(ctx, r.browserKey(poolName, id)).Result()
	if err != nil {
		return nil, false, err
	}
	return fields, len(fields) > 0, nil
}

func recordFields(info pool.Info) map[string]interface{} {
	return map[string]interface{}{
		"status":       info.Status.String(),
		"use_count":    strconv.Itoa(info.UseCount),
		"browser_type": info.BrowserType,
		"endpoint":     info.Endpoint,
		"created_at":   info.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_used":    info.LastUsed.UTC().Format(time.RFC3339Nano),
	}
}
