package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/harun/moonlight/internal/logger"
	"github.com/harun/moonlight/internal/tracing"
	"github.com/harun/moonlight/pkg/browser"
	"github.com/harun/moonlight/pkg/fleet"
	"github.com/harun/moonlight/pkg/pool"
)

// Config represents the moonlight configuration file
type Config struct {
	Pool    PoolConfig     `json:"pool" mapstructure:"pool"`
	Launch  LaunchConfig   `json:"launch" mapstructure:"launch"`
	Context ContextConfig  `json:"context" mapstructure:"context"`
	Logging logger.Config  `json:"logging" mapstructure:"logging"`
	Metrics MetricsConfig  `json:"metrics" mapstructure:"metrics"`
	Tracing tracing.Config `json:"tracing" mapstructure:"tracing"`
	Fleet   fleet.Config   `json:"fleet" mapstructure:"fleet"`
	HTTP    HTTPConfig     `json:"http" mapstructure:"http"`

	// LifecycleLog is a JSON-lines file of browser lifecycle events
	LifecycleLog string `json:"lifecycle_log" mapstructure:"lifecycle_log"`

	// PIDFile defaults to ~/.moonlight/moonlight.pid
	PIDFile string `json:"pid_file" mapstructure:"pid_file"`
}

// PoolConfig holds pool sizing and recycling settings
type PoolConfig struct {
	Name                string        `json:"name" mapstructure:"name"`
	MinSize             int           `json:"min_size" mapstructure:"min_size"`
	MaxSize             int           `json:"max_size" mapstructure:"max_size"`
	MaxUses             int           `json:"max_uses" mapstructure:"max_uses"`
	MaxIdleTime         time.Duration `json:"max_idle_time" mapstructure:"max_idle_time"`
	BrowserType         string        `json:"browser_type" mapstructure:"browser_type"`
	EnableReuse         bool          `json:"enable_reuse" mapstructure:"enable_reuse"`
	CreationRetryDelay  time.Duration `json:"creation_retry_delay" mapstructure:"creation_retry_delay"`
	MaxCreationRetries  int           `json:"max_creation_retries" mapstructure:"max_creation_retries"`
	MaintenanceInterval time.Duration `json:"maintenance_interval" mapstructure:"maintenance_interval"`
	RequestTimeout      time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
}

// LaunchConfig holds browser process settings
type LaunchConfig struct {
	ExecutablePath string            `json:"executable_path" mapstructure:"executable_path"`
	Headless       bool              `json:"headless" mapstructure:"headless"`
	NoSandbox      bool              `json:"no_sandbox" mapstructure:"no_sandbox"`
	Args           []string          `json:"args" mapstructure:"args"`
	Env            map[string]string `json:"env" mapstructure:"env"`
	UserDataDir    string            `json:"user_data_dir" mapstructure:"user_data_dir"`
	Timeout        time.Duration     `json:"timeout" mapstructure:"timeout"`

	// Endpoint attaches to a running browser instead of launching one
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
}

// ContextConfig holds defaults for browser contexts
type ContextConfig struct {
	ProxyServer     string `json:"proxy_server" mapstructure:"proxy_server"`
	ProxyBypass     string `json:"proxy_bypass" mapstructure:"proxy_bypass"`
	DisposeOnDetach bool   `json:"dispose_on_detach" mapstructure:"dispose_on_detach"`
}

// MetricsConfig controls Prometheus metrics
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// HTTPConfig holds the admin server settings
type HTTPConfig struct {
	Listen          string        `json:"listen" mapstructure:"listen"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	pc := pool.DefaultConfig()
	lo := browser.DefaultLaunchOptions()

	return &Config{
		Pool: PoolConfig{
			Name:                pc.Name,
			MinSize:             pc.MinSize,
			MaxSize:             pc.MaxSize,
			MaxUses:             pc.MaxUses,
			MaxIdleTime:         pc.MaxIdleTime,
			BrowserType:         pc.BrowserType,
			EnableReuse:         pc.EnableReuse,
			CreationRetryDelay:  pc.CreationRetryDelay,
			MaxCreationRetries:  pc.MaxCreationRetries,
			MaintenanceInterval: pc.MaintenanceInterval,
			RequestTimeout:      pc.RequestTimeout,
		},
		Launch: LaunchConfig{
			Headless: lo.Headless,
			Timeout:  lo.Timeout,
		},
		Logging: logger.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: tracing.DefaultConfig(),
		Fleet:   fleet.DefaultConfig(),
		HTTP: HTTPConfig{
			Listen:          "127.0.0.1:9480",
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// ToPoolConfig converts the file sections into a pool configuration
func (c *Config) ToPoolConfig() pool.Config {
	pc := pool.Config{
		Name:                c.Pool.Name,
		MinSize:             c.Pool.MinSize,
		MaxSize:             c.Pool.MaxSize,
		MaxUses:             c.Pool.MaxUses,
		MaxIdleTime:         c.Pool.MaxIdleTime,
		BrowserType:         c.Pool.BrowserType,
		EnableReuse:         c.Pool.EnableReuse,
		CreationRetryDelay:  c.Pool.CreationRetryDelay,
		MaxCreationRetries:  c.Pool.MaxCreationRetries,
		EnableMetrics:       c.Metrics.Enabled,
		MaintenanceInterval: c.Pool.MaintenanceInterval,
		RequestTimeout:      c.Pool.RequestTimeout,
		LaunchOptions: browser.LaunchOptions{
			ExecutablePath: c.Launch.ExecutablePath,
			Headless:       c.Launch.Headless,
			NoSandbox:      c.Launch.NoSandbox,
			Args:           c.Launch.Args,
			Env:            c.Launch.Env,
			UserDataDir:    c.Launch.UserDataDir,
			Timeout:        c.Launch.Timeout,
		},
		ContextOptions: browser.ContextOptions{
			DisposeOnDetach: c.Context.DisposeOnDetach,
		},
	}
	if c.Context.ProxyServer != "" {
		pc.ContextOptions.Proxy = &browser.ProxyOptions{
			Server: c.Context.ProxyServer,
			Bypass: c.Context.ProxyBypass,
		}
	}
	return pc
}

// Launcher returns the launcher the pool should use. Nil selects the
// pool's default launcher for the browser type.
func (c *Config) Launcher() (browser.Launcher, error) {
	if c.Launch.Endpoint == "" {
		return nil, nil
	}
	family, err := browser.FamilyByName(c.Pool.BrowserType)
	if err != nil {
		return nil, err
	}
	return &browser.AttachLauncher{Endpoint: c.Launch.Endpoint, Family: family}, nil
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks the semantic rules the schema cannot express
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
