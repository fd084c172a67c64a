package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mvalvano/telegrab/pkg/store"
)

// ApplyDefaults fills unspecified fields with defaults. Zero values are
// replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	cfg.Database.ApplyDefaults()
	applyLimitsDefaults(&cfg.Limits)
	applySessionsDefaults(&cfg.Sessions)
	applyLoginDefaults(&cfg.Login)
	applyDownloadsDefaults(&cfg.Downloads)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyLimitsDefaults(cfg *LimitsConfig) {
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = 4
	}
	if cfg.MaxConcurrentUploads <= 0 {
		cfg.MaxConcurrentUploads = 2
	}
	if cfg.FreeDailyQuota <= 0 {
		cfg.FreeDailyQuota = 5
	}
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = 50
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = 10 * time.Second
	}
}

func applySessionsDefaults(cfg *SessionsConfig) {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
}

func applyLoginDefaults(cfg *LoginConfig) {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
}

func applyDownloadsDefaults(cfg *DownloadsConfig) {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(os.TempDir(), "telegrab")
	}
}

// GetDefaultConfig returns a Config with all defaults applied. Useful
// for generating sample configuration files and for tests. The Telegram
// credentials are left empty and must be filled in before start.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: store.Config{
			Type: store.DatabaseTypeSQLite,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
