// Package config provides configuration loading and management for the dashboard server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pivot-analyzer/pivot-dashboard/internal/telemetry"
)

const (
	// EnvPrefix is the prefix for environment variables read through viper
	EnvPrefix = "PIVOT_DASHBOARD"

	// DefaultPort is used when neither the config file nor PORT sets one
	DefaultPort = 10000

	// DefaultOutputDir is the served directory holding the dashboard artifact
	DefaultOutputDir = "./output"

	// DefaultCacheDir holds status and lock files; it is never served
	DefaultCacheDir = "./cache"

	// DefaultRegenerationInterval is the wait between successful generations
	DefaultRegenerationInterval = time.Hour

	// DefaultRetryInterval is the wait after a failed generation
	DefaultRetryInterval = 5 * time.Minute
)

// Viper keys shared by flags and environment variables
const (
	KeyPort                 = "port"
	KeyOutputDir            = "output-dir"
	KeyCacheDir             = "cache-dir"
	KeyRegenerationInterval = "regeneration-interval"
	KeyRetryInterval        = "retry-interval"
	KeyAdminAddress         = "admin-address"
	KeyAnalyzerCommand      = "analyzer-command"
	KeyLogLevel             = "log-level"
	KeyLogFormat            = "log-format"
)

// DefaultAssets are analyzed when the configuration lists none
var DefaultAssets = []string{"BTC", "ETH"}

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path  string
	viper *viper.Viper
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return nil
		}

		// Resolve symlinks; this also cleans the path.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// WithViper overlays values explicitly set in v (flags or environment) on top
// of the file configuration
func WithViper(v *viper.Viper) Option {
	return func(cfg *loaderConfig) error {
		cfg.viper = v
		return nil
	}
}

// Config represents the root configuration structure.
// A loaded Config is treated as immutable for the lifetime of the process.
type Config struct {
	// Port is the TCP port the content server listens on
	Port int `yaml:"port,omitempty"`

	// OutputDir is the served directory containing dashboard.html
	OutputDir string `yaml:"outputDir,omitempty"`

	// CacheDir holds generation status and the publish lock
	CacheDir string `yaml:"cacheDir,omitempty"`

	// RegenerationInterval is the wait between generations (e.g. "1h")
	RegenerationInterval string `yaml:"regenerationInterval,omitempty"`

	// RetryInterval is the fixed wait after a failed generation (e.g. "5m")
	RetryInterval string `yaml:"retryInterval,omitempty"`

	// Assets lists the asset identifiers passed to the analyzer
	Assets []string `yaml:"assets,omitempty"`

	// Analyzer configures the external analysis command
	Analyzer *AnalyzerConfig `yaml:"analyzer,omitempty"`

	// Education lists static educational entries rendered below the analysis
	Education []EducationEntry `yaml:"education,omitempty"`

	// Admin configures the optional operational listener
	Admin *AdminConfig `yaml:"admin,omitempty"`

	// Log configures the process logger
	Log *LogConfig `yaml:"log,omitempty"`

	// Telemetry configures OpenTelemetry metrics and tracing
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// AnalyzerConfig defines how the external analysis pipeline is invoked
type AnalyzerConfig struct {
	// Command is the executable invoked once per asset
	Command string `yaml:"command"`

	// Args are passed before the asset identifier
	Args []string `yaml:"args,omitempty"`

	// Timeout bounds a single asset analysis; empty means no timeout
	Timeout string `yaml:"timeout,omitempty"`
}

// EducationEntry is a titled block of explanatory text
type EducationEntry struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

// AdminConfig defines the operational endpoints listener
type AdminConfig struct {
	// Address is the listen address for /health, /readiness, /status and
	// /metrics. Empty disables the listener.
	Address string `yaml:"address,omitempty"`
}

// LogConfig defines logger settings
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// LoadConfig loads the configuration from the optional YAML file, overlays
// explicitly set flags and environment variables, applies defaults and
// validates the result
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	var config Config
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if loaderCfg.viper != nil {
		if err := config.overlay(loaderCfg.viper); err != nil {
			return nil, err
		}
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// NewViper returns a viper instance bound to the process environment.
// PORT is honoured without prefix because hosting platforms inject it that way.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv(KeyPort, EnvPrefix+"_PORT", "PORT")
	return v
}

func (c *Config) overlay(v *viper.Viper) error {
	if v.IsSet(KeyPort) {
		raw := v.GetString(KeyPort)
		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("%w: port must be an integer, got %q", ErrInvalidConfig, raw)
		}
		c.Port = port
	}
	overlayString(v, KeyOutputDir, &c.OutputDir)
	overlayString(v, KeyCacheDir, &c.CacheDir)
	overlayString(v, KeyRegenerationInterval, &c.RegenerationInterval)
	overlayString(v, KeyRetryInterval, &c.RetryInterval)

	if v.IsSet(KeyAdminAddress) {
		if c.Admin == nil {
			c.Admin = &AdminConfig{}
		}
		c.Admin.Address = v.GetString(KeyAdminAddress)
	}
	if v.IsSet(KeyAnalyzerCommand) {
		if c.Analyzer == nil {
			c.Analyzer = &AnalyzerConfig{}
		}
		c.Analyzer.Command = v.GetString(KeyAnalyzerCommand)
	}
	if v.IsSet(KeyLogLevel) || v.IsSet(KeyLogFormat) {
		if c.Log == nil {
			c.Log = &LogConfig{}
		}
		overlayString(v, KeyLogLevel, &c.Log.Level)
		overlayString(v, KeyLogFormat, &c.Log.Format)
	}
	return nil
}

func overlayString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		if value := v.GetString(key); value != "" {
			*dst = value
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.OutputDir == "" {
		c.OutputDir = DefaultOutputDir
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultCacheDir
	}
	if len(c.Assets) == 0 {
		c.Assets = append([]string(nil), DefaultAssets...)
	}
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
	}

	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 0 and 65535, got %d", c.Port))
	}

	if c.OutputDir == "" {
		errs = append(errs, errors.New("outputDir is required"))
	}
	if c.CacheDir == "" {
		errs = append(errs, errors.New("cacheDir is required"))
	}
	if c.OutputDir != "" && filepath.Clean(c.OutputDir) == filepath.Clean(c.CacheDir) {
		errs = append(errs, errors.New("cacheDir must differ from outputDir"))
	}

	if err := validateDuration("regenerationInterval", c.RegenerationInterval); err != nil {
		errs = append(errs, err)
	}
	if err := validateDuration("retryInterval", c.RetryInterval); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]bool, len(c.Assets))
	for i, asset := range c.Assets {
		if strings.TrimSpace(asset) == "" {
			errs = append(errs, fmt.Errorf("assets[%d]: identifier is required", i))
			continue
		}
		if seen[asset] {
			errs = append(errs, fmt.Errorf("assets[%d]: duplicate asset '%s'", i, asset))
		}
		seen[asset] = true
	}

	if c.Analyzer != nil {
		if err := validateDuration("analyzer.timeout", c.Analyzer.Timeout); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Log != nil && c.Log.Format != "" && c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %s", c.Log.Format))
	}

	if err := c.Telemetry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ValidateForGeneration reports whether the analyzer is configured well
// enough to run a generation
func (c *Config) ValidateForGeneration() error {
	if c.Analyzer == nil || c.Analyzer.Command == "" {
		return fmt.Errorf("%w: analyzer.command is required", ErrInvalidConfig)
	}
	return nil
}

func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '5m', '1h'): %w", field, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return nil
}

// Address returns the content server listen address
func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// GetRegenerationInterval returns the regeneration interval, using the default if unset
func (c *Config) GetRegenerationInterval() time.Duration {
	return parseOrDefault(c.RegenerationInterval, DefaultRegenerationInterval)
}

// GetRetryInterval returns the retry interval, using the default if unset
func (c *Config) GetRetryInterval() time.Duration {
	return parseOrDefault(c.RetryInterval, DefaultRetryInterval)
}

// GetAnalyzerTimeout returns the per-asset analysis timeout; zero means none
func (c *Config) GetAnalyzerTimeout() time.Duration {
	if c.Analyzer == nil {
		return 0
	}
	return parseOrDefault(c.Analyzer.Timeout, 0)
}

// GetAdminAddress returns the admin listener address, empty when disabled
func (c *Config) GetAdminAddress() string {
	if c.Admin == nil {
		return ""
	}
	return c.Admin.Address
}

// GetLogLevel returns the configured log level name
func (c *Config) GetLogLevel() string {
	if c.Log == nil {
		return ""
	}
	return c.Log.Level
}

// GetLogFormat returns the configured log format, json by default
func (c *Config) GetLogFormat() string {
	if c.Log == nil || c.Log.Format == "" {
		return "json"
	}
	return c.Log.Format
}

func parseOrDefault(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
