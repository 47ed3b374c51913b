package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. MOONLIGHT_POOL_MAX_SIZE
const EnvPrefix = "MOONLIGHT"

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
	schema     gojsonschema.JSONLoader
}

// NewLoader creates a loader for configPath. An empty path falls back to
// ~/.moonlight/moonlight.yaml when that file exists.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    ".env",
		schema:     gojsonschema.NewStringLoader(Schema),
	}
}

// WithEnvFile changes the dotenv file read before loading
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Load reads the dotenv file, the config file and MOONLIGHT_* variables,
// in increasing precedence, then validates the result.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := l.GetConfigPath()
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if l.configPath != "" {
				return nil, fmt.Errorf("config file not found: %w", err)
			}
			path = ""
		}
	}

	if path != "" {
		if err := l.validateFile(path); err != nil {
			return nil, err
		}

		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// validateFile checks the file alone against the schema, before defaults
// and environment overrides are merged in
func (l *Loader) validateFile(path string) error {
	fv := viper.New()
	fv.SetConfigFile(path)
	if err := fv.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	result, err := gojsonschema.Validate(l.schema, gojsonschema.NewGoLoader(fv.AllSettings()))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("config schema validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// setDefaults registers every key so that AutomaticEnv can override it
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("pool.name", cfg.Pool.Name)
	v.SetDefault("pool.min_size", cfg.Pool.MinSize)
	v.SetDefault("pool.max_size", cfg.Pool.MaxSize)
	v.SetDefault("pool.max_uses", cfg.Pool.MaxUses)
	v.SetDefault("pool.max_idle_time", cfg.Pool.MaxIdleTime.String())
	v.SetDefault("pool.browser_type", cfg.Pool.BrowserType)
	v.SetDefault("pool.enable_reuse", cfg.Pool.EnableReuse)
	v.SetDefault("pool.creation_retry_delay", cfg.Pool.CreationRetryDelay.String())
	v.SetDefault("pool.max_creation_retries", cfg.Pool.MaxCreationRetries)
	v.SetDefault("pool.maintenance_interval", cfg.Pool.MaintenanceInterval.String())
	v.SetDefault("pool.request_timeout", cfg.Pool.RequestTimeout.String())

	v.SetDefault("launch.executable_path", cfg.Launch.ExecutablePath)
	v.SetDefault("launch.headless", cfg.Launch.Headless)
	v.SetDefault("launch.no_sandbox", cfg.Launch.NoSandbox)
	v.SetDefault("launch.args", []string{})
	v.SetDefault("launch.user_data_dir", cfg.Launch.UserDataDir)
	v.SetDefault("launch.timeout", cfg.Launch.Timeout.String())
	v.SetDefault("launch.endpoint", cfg.Launch.Endpoint)

	v.SetDefault("context.proxy_server", cfg.Context.ProxyServer)
	v.SetDefault("context.proxy_bypass", cfg.Context.ProxyBypass)
	v.SetDefault("context.dispose_on_detach", cfg.Context.DisposeOnDetach)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	v.SetDefault("logging.max_age_days", cfg.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", cfg.Logging.Compress)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.path", cfg.Metrics.Path)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", cfg.Tracing.SampleRatio)

	v.SetDefault("fleet.enabled", cfg.Fleet.Enabled)
	v.SetDefault("fleet.url", cfg.Fleet.URL)
	v.SetDefault("fleet.prefix", cfg.Fleet.Prefix)
	v.SetDefault("fleet.timeout", cfg.Fleet.Timeout.String())
	v.SetDefault("fleet.ttl", cfg.Fleet.TTL.String())

	v.SetDefault("http.listen", cfg.HTTP.Listen)
	v.SetDefault("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout.String())

	v.SetDefault("lifecycle_log", cfg.LifecycleLog)
	v.SetDefault("pid_file", cfg.PIDFile)
}

// DefaultYAML renders the default configuration as a YAML document that
// passes the schema
func DefaultYAML() ([]byte, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	data, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to render default config: %w", err)
	}
	return data, nil
}

// WriteDefault writes DefaultYAML to path, refusing to overwrite unless force
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	data, err := DefaultYAML()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the config file path, or "" when none applies
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".moonlight", "moonlight.yaml")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
