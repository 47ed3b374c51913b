package pool

import (
	"fmt"
	"time"

	"github.com/harun/moonlight/pkg/browser"
)

// Config holds pool sizing, recycling and launch settings. It is fixed for
// the lifetime of a Pool.
type Config struct {
	Name                string                 `json:"name" mapstructure:"name"`
	MinSize             int                    `json:"min_size" mapstructure:"min_size"`
	MaxSize             int                    `json:"max_size" mapstructure:"max_size"`
	MaxUses             int                    `json:"max_uses" mapstructure:"max_uses"`
	MaxIdleTime         time.Duration          `json:"max_idle_time" mapstructure:"max_idle_time"`
	BrowserType         string                 `json:"browser_type" mapstructure:"browser_type"`
	LaunchOptions       browser.LaunchOptions  `json:"launch" mapstructure:"launch"`
	ContextOptions      browser.ContextOptions `json:"context" mapstructure:"context"`
	EnableReuse         bool                   `json:"enable_reuse" mapstructure:"enable_reuse"`
	CreationRetryDelay  time.Duration          `json:"creation_retry_delay" mapstructure:"creation_retry_delay"`
	MaxCreationRetries  int                    `json:"max_creation_retries" mapstructure:"max_creation_retries"`
	EnableMetrics       bool                   `json:"enable_metrics" mapstructure:"enable_metrics"`
	MaintenanceInterval time.Duration          `json:"maintenance_interval" mapstructure:"maintenance_interval"`
	// RequestTimeout is the default protocol request timeout of pooled connections
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
}

// DefaultConfig returns the default pool configuration
func DefaultConfig() Config {
	return Config{
		Name:                "default",
		MinSize:             1,
		MaxSize:             10,
		MaxUses:             100,
		MaxIdleTime:         5 * time.Minute,
		BrowserType:         browser.Chromium,
		LaunchOptions:       browser.DefaultLaunchOptions(),
		EnableReuse:         true,
		CreationRetryDelay:  time.Second,
		MaxCreationRetries:  3,
		EnableMetrics:       true,
		MaintenanceInterval: 30 * time.Second,
		RequestTimeout:      30 * time.Second,
	}
}

// Validate checks the configuration invariants.
// MaxIdleTime and MaintenanceInterval of zero disable idle expiry and the
// maintenance schedule respectively.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("pool name is required")
	}
	if c.MaxSize < 1 {
		return fmt.Errorf("max_size must be at least 1, got %d", c.MaxSize)
	}
	if c.MinSize < 0 {
		return fmt.Errorf("min_size must not be negative, got %d", c.MinSize)
	}
	if c.MinSize > c.MaxSize {
		return fmt.Errorf("min_size (%d) must not exceed max_size (%d)", c.MinSize, c.MaxSize)
	}
	if c.MaxUses < 1 {
		return fmt.Errorf("max_uses must be at least 1, got %d", c.MaxUses)
	}
	if c.MaxCreationRetries < 1 {
		return fmt.Errorf("max_creation_retries must be at least 1, got %d", c.MaxCreationRetries)
	}
	if c.MaxIdleTime < 0 || c.CreationRetryDelay < 0 || c.MaintenanceInterval < 0 || c.RequestTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if _, err := browser.FamilyByName(c.BrowserType); err != nil {
		return err
	}
	return nil
}
