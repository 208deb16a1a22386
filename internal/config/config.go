// Package config handles loading and validating sales agent configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Persistent data directory. Default: ~/.salesagent/data. Override: SALESAGENT_DATA_DIR env var.
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`   // nil = SQLite default (derived from data dir)
	Dispatcher    DispatcherConfig     `json:"dispatcher" yaml:"dispatcher"`
	Admin         AdminConfig          `json:"admin" yaml:"admin"`
	Orchestrator  OrchestratorConfig   `json:"orchestrator" yaml:"orchestrator"`
	Reconcile     ReconcileConfig      `json:"reconcile" yaml:"reconcile"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the data directory.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default) or "postgres".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from data dir.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// DispatcherConfig configures the MCP tool endpoint buyers connect to.
type DispatcherConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080"
	Path       string `json:"path" yaml:"path"`               // Default: "/mcp"
}

// Addr returns the listen address with a default of ":8080".
func (d DispatcherConfig) Addr() string {
	if d.ListenAddr != "" {
		return d.ListenAddr
	}
	return ":8080"
}

// MCPPath returns the endpoint path with a default of "/mcp".
func (d DispatcherConfig) MCPPath() string {
	if d.Path != "" {
		return d.Path
	}
	return "/mcp"
}

// AdminConfig configures the operator-facing HTTP API (tasks, audit, health).
type AdminConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"` // Default: ":8081"
	EnableDocs bool   `json:"enable_docs" yaml:"enable_docs"`
}

// Addr returns the listen address with a default of ":8081".
func (a AdminConfig) Addr() string {
	if a.ListenAddr != "" {
		return a.ListenAddr
	}
	return ":8081"
}

// OrchestratorConfig tunes media buy orchestration.
type OrchestratorConfig struct {
	DryRun             bool `json:"dry_run" yaml:"dry_run"`                             // Record adapter calls instead of performing them.
	RetryAttempts      int  `json:"retry_attempts" yaml:"retry_attempts"`               // Default: 3.
	RetryBaseMS        int  `json:"retry_base_ms" yaml:"retry_base_ms"`                 // Default: 500.
	LockWaitSeconds    int  `json:"lock_wait_seconds" yaml:"lock_wait_seconds"`         // Default: 10.
	NotifyTimeoutSecs  int  `json:"notify_timeout_seconds" yaml:"notify_timeout_seconds"` // Default: 10.
}

// Retries returns the retry attempt count with a default of 3.
func (o OrchestratorConfig) Retries() int {
	if o.RetryAttempts > 0 {
		return o.RetryAttempts
	}
	return 3
}

// RetryBase returns the base retry backoff with a default of 500ms.
func (o OrchestratorConfig) RetryBase() time.Duration {
	if o.RetryBaseMS > 0 {
		return time.Duration(o.RetryBaseMS) * time.Millisecond
	}
	return 500 * time.Millisecond
}

// LockWait returns the per-buy lock acquire timeout with a default of 10s.
func (o OrchestratorConfig) LockWait() time.Duration {
	if o.LockWaitSeconds > 0 {
		return time.Duration(o.LockWaitSeconds) * time.Second
	}
	return 10 * time.Second
}

// ReconcileConfig tunes the background reconciliation loop.
type ReconcileConfig struct {
	Enabled          bool   `json:"enabled" yaml:"enabled"`
	TickSeconds      int    `json:"tick_seconds" yaml:"tick_seconds"`           // Scheduler granularity. Default: 60.
	DefaultCron      string `json:"default_cron" yaml:"default_cron"`           // Used when a tenant has no reconcile_cron. Default: "*/15 * * * *".
}

// Tick returns the scheduler tick with a default of 60s.
func (r ReconcileConfig) Tick() time.Duration {
	if r.TickSeconds > 0 {
		return time.Duration(r.TickSeconds) * time.Second
	}
	return time.Minute
}

// Cron returns the default reconcile schedule.
func (r ReconcileConfig) Cron() string {
	if r.DefaultCron != "" {
		return r.DefaultCron
	}
	return "*/15 * * * *"
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// MetricsPath returns the exposition path with a default of "/metrics".
func (m *MetricsConfig) MetricsPath() string {
	if m != nil && m.Path != "" {
		return m.Path
	}
	return "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "salesagent"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything else for JSON.
// Environment variables take precedence over config file values.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Default returns a runnable zero-config setup: SQLite storage, MCP on :8080,
// admin API on :8081, reconciliation every 15 minutes.
func Default() *Config {
	cfg := &Config{
		Admin:     AdminConfig{Enabled: true},
		Reconcile: ReconcileConfig{Enabled: true},
	}
	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if envDD := os.Getenv("SALESAGENT_DATA_DIR"); envDD != "" {
		c.DataDir = envDD
	}
	if envDSN := os.Getenv("SALESAGENT_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{}
		}
		c.Storage.Driver = "postgres"
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
	}
	if envAddr := os.Getenv("SALESAGENT_LISTEN_ADDR"); envAddr != "" {
		c.Dispatcher.ListenAddr = envAddr
	}
	if envEP := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); envEP != "" {
		if c.Observability == nil {
			c.Observability = &ObservabilityConfig{}
		}
		if c.Observability.Tracing == nil {
			c.Observability.Tracing = &TracingConfig{Enabled: true}
		}
		c.Observability.Tracing.Endpoint = envEP
	}
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".salesagent", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// DatabasePath returns the default SQLite database path under the data directory.
func (c *Config) DatabasePath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "salesagent.db")
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite or postgres)", c.Storage.Driver)
		}
	}
	if c.StorageDriverName() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set SALESAGENT_DB_DSN env var)")
		}
	}
	if c.Observability != nil && c.Observability.Tracing != nil && c.Observability.Tracing.Enabled {
		if c.Observability.Tracing.Endpoint == "" {
			return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
		}
		switch c.Observability.Tracing.Protocol {
		case "", "grpc", "http":
			// valid
		default:
			return fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", c.Observability.Tracing.Protocol)
		}
	}
	return nil
}
