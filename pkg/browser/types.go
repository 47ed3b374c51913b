package browser

import (
	"errors"
	"fmt"
	"time"
)

const defaultLaunchTimeout = 30 * time.Second

// LaunchOptions controls how a browser process is started
type LaunchOptions struct {
	// ExecutablePath overrides executable discovery
	ExecutablePath string            `json:"executable_path,omitempty" mapstructure:"executable_path"`
	Headless       bool              `json:"headless" mapstructure:"headless"`
	NoSandbox      bool              `json:"no_sandbox" mapstructure:"no_sandbox"`
	Args           []string          `json:"args,omitempty" mapstructure:"args"`
	Env            map[string]string `json:"env,omitempty" mapstructure:"env"`
	// UserDataDir is created when missing. When empty a temporary profile
	// is used and removed when the browser closes.
	UserDataDir string `json:"user_data_dir,omitempty" mapstructure:"user_data_dir"`
	// Timeout bounds endpoint discovery after the process has started
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultLaunchOptions returns headless launch options
func DefaultLaunchOptions() LaunchOptions {
	return LaunchOptions{
		Headless: true,
		Timeout:  defaultLaunchTimeout,
	}
}

func (o LaunchOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultLaunchTimeout
	}
	return o.Timeout
}

// ProxyOptions routes a browser context through a proxy
type ProxyOptions struct {
	Server string `json:"server" mapstructure:"server"`
	Bypass string `json:"bypass,omitempty" mapstructure:"bypass"`
}

// ContextOptions configures an isolated browser context
type ContextOptions struct {
	Proxy           *ProxyOptions `json:"proxy,omitempty" mapstructure:"proxy"`
	DisposeOnDetach bool          `json:"dispose_on_detach" mapstructure:"dispose_on_detach"`
}

// BrowserError is returned for launch, discovery and configuration failures
type BrowserError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
}

func (e *BrowserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BrowserError) Unwrap() error {
	return e.Err
}

// Error codes
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeTimeout       = "TIMEOUT_ERROR"
	ErrCodeLaunch        = "LAUNCH_ERROR"
	ErrCodeBrowserCrash  = "BROWSER_CRASH"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConnection    = "CONNECTION_ERROR"
	ErrCodeClosed        = "BROWSER_CLOSED"
)

// HasCode reports whether err is a *BrowserError carrying code
func HasCode(err error, code string) bool {
	var be *BrowserError
	return errors.As(err, &be) && be.Code == code
}
