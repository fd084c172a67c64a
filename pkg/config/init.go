package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// defaultConfigTemplate is the annotated sample configuration written by
// `telegrab init`. It carries every section with its default value so a new
// deployment only has to fill in the telegram credentials.
const defaultConfigTemplate = `# telegrab Configuration File
#
# Every option can be overridden with an environment variable:
#   TELEGRAB_<SECTION>_<KEY>  (underscores for nested keys)
# e.g. TELEGRAB_LOGGING_LEVEL=DEBUG

logging:
  # Minimum level: DEBUG, INFO, WARN, ERROR
  level: "INFO"
  # Output format: text or json
  format: "text"
  # Destination: stdout, stderr, or a file path
  output: "stdout"

telegram:
  # Credentials issued by the platform. All three are required.
  api_id: 0
  api_hash: ""
  bot_token: ""
  # User id allowed to run owner-only commands such as /killall
  owner_id: 0

database:
  # sqlite (default) or postgres
  type: "sqlite"
  sqlite:
    # Defaults to <XDG_DATA_HOME>/telegrab/telegrab.db when empty
    path: ""
  # postgres:
  #   host: "localhost"
  #   port: 5432
  #   user: "telegrab"
  #   password: ""
  #   database: "telegrab"
  #   ssl_mode: "disable"

limits:
  # Simultaneous downloads and uploads across all users
  max_concurrent_downloads: 4
  max_concurrent_uploads: 2
  # Transfers a free-tier user gets per UTC day
  free_daily_quota: 5
  # Largest /batch message range, and the pause between batch items
  batch_max: 50
  batch_delay: "10s"

sessions:
  # Authenticated connections idle longer than this are closed
  idle_ttl: "10m"
  sweep_interval: "1m"

login:
  # Login conversations without input longer than this are discarded
  idle_ttl: "5m"
  sweep_interval: "1m"

downloads:
  # Temp directory for in-flight transfers. Defaults to the OS temp dir.
  dir: ""

# Maximum time to wait for in-flight work during shutdown
shutdown_timeout: "30s"

metrics:
  # Prometheus metrics, exposed on the API server at /metrics
  enabled: false

api:
  # Operational HTTP server: /health, /health/ready, /metrics
  enabled: true
  port: 8080

telemetry:
  # OpenTelemetry tracing to an OTLP collector
  enabled: false
  endpoint: "localhost:4317"
  insecure: true
  sample_rate: 1.0
  profiling:
    # Pyroscope continuous profiling
    enabled: false
    endpoint: "http://localhost:4040"
`

// InitConfig writes the sample configuration file to the default location
// and returns its path. Fails when the file exists unless force is set.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	return configPath, InitConfigToPath(configPath, force)
}

// InitConfigToPath writes the sample configuration file to path. Fails when
// the file exists unless force is set.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file will carry the bot token and api hash.
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
