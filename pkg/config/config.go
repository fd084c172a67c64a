// Package config loads, validates, and persists the telegrab
// configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mvalvano/telegrab/pkg/api"
	"github.com/mvalvano/telegrab/pkg/store"
)

// Config is the full telegrab configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (TELEGRAB_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Database configures the persistence layer (SQLite or PostgreSQL):
	// users, quota counters, credentials, settings.
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Metrics controls Prometheus metrics collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API configures the operational HTTP server (health, metrics)
	API api.Config `mapstructure:"api" yaml:"api"`

	// Telegram carries the platform credentials
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`

	// Limits tunes concurrency, quota, and batch behavior
	Limits LimitsConfig `mapstructure:"limits" yaml:"limits"`

	// Sessions tunes the authenticated session cache
	Sessions SessionsConfig `mapstructure:"sessions" yaml:"sessions"`

	// Login tunes login handshake expiry
	Login LoginConfig `mapstructure:"login" yaml:"login"`

	// Downloads configures temp file placement
	Downloads DownloadsConfig `mapstructure:"downloads" yaml:"downloads"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is where logs go: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing. When
// enabled, trace data is exported to an OTLP-compatible collector.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is on. Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS towards the collector. Default: true
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the trace sampling rate, 0.0 to 1.0. Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is on. Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL.
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes selects which profiles to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig controls Prometheus metrics. When disabled nothing is
// collected and the /metrics route is not mounted.
type MetricsConfig struct {
	// Enabled controls metrics collection. Default: false
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// TelegramConfig carries the platform credentials. All three fields are
// required; startup aborts without them.
type TelegramConfig struct {
	// APIID is the application id issued by the platform
	APIID int `mapstructure:"api_id" validate:"required" yaml:"api_id"`

	// APIHash is the application secret issued by the platform
	APIHash string `mapstructure:"api_hash" validate:"required" yaml:"api_hash"`

	// BotToken authenticates the bot account
	BotToken string `mapstructure:"bot_token" validate:"required" yaml:"bot_token"`

	// OwnerID is the user allowed to run owner-only commands
	OwnerID int64 `mapstructure:"owner_id" yaml:"owner_id"`

	// Driver selects the registered platform driver. Optional when only
	// one driver is compiled in.
	Driver string `mapstructure:"driver" yaml:"driver"`
}

// LimitsConfig tunes concurrency, quota, and batch behavior.
type LimitsConfig struct {
	// MaxConcurrentDownloads bounds simultaneous downloads. Default: 4
	MaxConcurrentDownloads int `mapstructure:"max_concurrent_downloads" validate:"omitempty,min=1" yaml:"max_concurrent_downloads"`

	// MaxConcurrentUploads bounds simultaneous uploads. Default: 2
	MaxConcurrentUploads int `mapstructure:"max_concurrent_uploads" validate:"omitempty,min=1" yaml:"max_concurrent_uploads"`

	// FreeDailyQuota is the transfers a free user gets per day. Default: 5
	FreeDailyQuota int `mapstructure:"free_daily_quota" validate:"omitempty,min=1" yaml:"free_daily_quota"`

	// BatchMax caps the /batch message range. Default: 50
	BatchMax int `mapstructure:"batch_max" validate:"omitempty,min=1" yaml:"batch_max"`

	// BatchDelay is the pause between batch items. Default: 10s
	BatchDelay time.Duration `mapstructure:"batch_delay" yaml:"batch_delay"`
}

// SessionsConfig tunes the authenticated session cache.
type SessionsConfig struct {
	// IdleTTL evicts sessions unused for this long. Default: 10m
	IdleTTL time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl"`

	// SweepInterval is how often the sweeper runs. Default: 1m
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// LoginConfig tunes login handshake expiry.
type LoginConfig struct {
	// IdleTTL discards handshakes without input for this long. Default: 5m
	IdleTTL time.Duration `mapstructure:"idle_ttl" yaml:"idle_ttl"`

	// SweepInterval is how often the sweeper runs. Default: 1m
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// DownloadsConfig configures temp file placement for in-flight
// transfers.
type DownloadsConfig struct {
	// Dir holds uuid-named temp files during download/upload round
	// trips. Default: <os temp dir>/telegrab
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Load loads configuration from file, environment, and defaults.
//
// Precedence (highest to lowest): TELEGRAB_* environment variables,
// configuration file, defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  telegrab init\n\n"+
				"Or specify a custom config file:\n"+
				"  telegrab <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  telegrab init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration to path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file carries the bot token and api hash.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variables and config file search.
// Environment variables use the TELEGRAB_ prefix with underscores, e.g.
// TELEGRAB_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("TELEGRAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file if it exists. A missing file is
// not an error; defaults apply.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts strings like "30s", "5m", "1h" to
// time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory: XDG_CONFIG_HOME or
// ~/.config, with the current directory as a last resort.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "telegrab")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "telegrab")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks for a config file at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory (used by init).
func GetConfigDir() string {
	return getConfigDir()
}
