package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/harun/moonlight/pkg/browser"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateBrowserType validates the browser family name
func (v *Validator) ValidateBrowserType(name string) error {
	if _, err := browser.FamilyByName(name); err != nil {
		return fmt.Errorf("invalid browser_type %q (must be one of: %s)", name, strings.Join(browser.FamilyNames(), ", "))
	}
	return nil
}

// ValidateListen validates a host:port listen address
func (v *Validator) ValidateListen(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid http.listen %q: %w", addr, err)
	}
	return nil
}

// ValidateSampleRatio validates the tracing sample ratio
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %g", ratio)
	}
	return nil
}

// ValidateConfig collects every semantic violation in cfg
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateBrowserType(cfg.Pool.BrowserType); err != nil {
		errs = append(errs, err)
	} else if err := cfg.ToPoolConfig().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("pool: %w", err))
	}

	if cfg.Launch.Endpoint != "" && cfg.Pool.MaxSize > 1 {
		errs = append(errs, fmt.Errorf("launch.endpoint attaches to a single browser; pool.max_size must be 1, got %d", cfg.Pool.MaxSize))
	}
	if cfg.Launch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("launch.timeout must not be negative"))
	}
	if cfg.Context.ProxyBypass != "" && cfg.Context.ProxyServer == "" {
		errs = append(errs, fmt.Errorf("context.proxy_bypass requires context.proxy_server"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with /, got %q", cfg.Metrics.Path))
	}

	if err := v.ValidateSampleRatio(cfg.Tracing.SampleRatio); err != nil {
		errs = append(errs, err)
	}

	if cfg.Fleet.Enabled && cfg.Fleet.URL == "" {
		errs = append(errs, fmt.Errorf("fleet.url is required when fleet is enabled"))
	}

	if err := v.ValidateListen(cfg.HTTP.Listen); err != nil {
		errs = append(errs, err)
	}

	return errs
}
