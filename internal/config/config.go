// Package config handles loading and validating Crucible configuration.
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

// Config is the root configuration for Crucible.
type Config struct {
	Workspace   string `json:"workspace,omitempty" yaml:"workspace,omitempty"`       // Workspace root. Default: ~/.crucible/workspace. Override: CRUCIBLE_WORKSPACE env var.
	ProjectRoot string `json:"project_root,omitempty" yaml:"project_root,omitempty"` // Directory the generator tools operate on. Default: current directory. Override: CRUCIBLE_PROJECT_ROOT env var.

	Agent         AgentConfig          `json:"agent" yaml:"agent"`
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Guardrails    GuardrailsConfig     `json:"guardrails" yaml:"guardrails"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite default (derived from workspace)
	Gateway       *GatewayConfig       `json:"gateway,omitempty" yaml:"gateway,omitempty"`             // nil = HTTP gateway disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = scheduled runs disabled
}

// AgentConfig bounds the orchestration loop.
type AgentConfig struct {
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"` // Role turns per run. Default: 10.
}

// Iterations returns the iteration ceiling with a default of 10.
func (a AgentConfig) Iterations() int {
	if a.MaxIterations > 0 {
		return a.MaxIterations
	}
	return 10
}

// SandboxConfig bounds sandboxed code execution.
type SandboxConfig struct {
	TimeoutSeconds      int     `json:"timeout_seconds" yaml:"timeout_seconds"`             // Code execution. Default: 30.
	ShellTimeoutSeconds int     `json:"shell_timeout_seconds" yaml:"shell_timeout_seconds"` // Generic shell commands. Default: 120.
	MaxMemoryMB         int     `json:"max_memory_mb" yaml:"max_memory_mb"`                 // Default: 512.
	CPUCores            float64 `json:"cpu_cores" yaml:"cpu_cores"`                         // Default: 1.0.
	PIDsLimit           int     `json:"pids_limit" yaml:"pids_limit"`                       // Default: 64.
}

// Timeout returns the code execution timeout with a default of 30s.
func (s SandboxConfig) Timeout() time.Duration {
	if s.TimeoutSeconds > 0 {
		return time.Duration(s.TimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// ShellTimeout returns the shell command timeout with a default of 120s.
func (s SandboxConfig) ShellTimeout() time.Duration {
	if s.ShellTimeoutSeconds > 0 {
		return time.Duration(s.ShellTimeoutSeconds) * time.Second
	}
	return 120 * time.Second
}

// MemoryMB returns the memory ceiling with a default of 512.
func (s SandboxConfig) MemoryMB() int {
	if s.MaxMemoryMB > 0 {
		return s.MaxMemoryMB
	}
	return 512
}

// Cores returns the CPU share with a default of 1.0.
func (s SandboxConfig) Cores() float64 {
	if s.CPUCores > 0 {
		return s.CPUCores
	}
	return 1.0
}

// PIDs returns the process count limit with a default of 64.
func (s SandboxConfig) PIDs() int {
	if s.PIDsLimit > 0 {
		return s.PIDsLimit
	}
	return 64
}

// GuardrailsConfig toggles input validation and output sanitization.
// All checks default to enabled; each can be switched off individually.
type GuardrailsConfig struct {
	DisableInputValidation    bool `json:"disable_input_validation" yaml:"disable_input_validation"`
	DisableOutputSanitization bool `json:"disable_output_sanitization" yaml:"disable_output_sanitization"`
	DisablePIIDetection       bool `json:"disable_pii_detection" yaml:"disable_pii_detection"`
}

// StorageConfig configures the persistence backend.
// When nil, defaults to SQLite with the database path derived from the workspace.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default), "postgres", or "memory".
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
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path. Default: derived from workspace.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"` // Override: CRUCIBLE_DB_DSN env var.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 25
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 5
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// GatewayConfig configures the HTTP API gateway.
type GatewayConfig struct {
	Enabled             bool            `json:"enabled" yaml:"enabled"`
	ListenAddr          string          `json:"listen_addr" yaml:"listen_addr"` // Default: ":8080".
	EnableDocs          bool            `json:"enable_docs" yaml:"enable_docs"`
	MaxRequestSizeBytes int64           `json:"max_request_size_bytes" yaml:"max_request_size_bytes"` // Default: 1 MB.
	APIKeys             []string        `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`          // Empty = no authentication.
	RateLimit           RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// Addr returns the listen address with a default of ":8080".
func (g *GatewayConfig) Addr() string {
	if g != nil && g.ListenAddr != "" {
		return g.ListenAddr
	}
	return ":8080"
}

// MaxRequestSize returns the request size cap with a default of 1 MB.
func (g *GatewayConfig) MaxRequestSize() int64 {
	if g != nil && g.MaxRequestSizeBytes > 0 {
		return g.MaxRequestSizeBytes
	}
	return 1 << 20
}

// RateLimitConfig configures per-client rate limiting for the gateway.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" yaml:"burst_size"`
}

// ObservabilityConfig configures metrics, tracing, health checks, and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
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
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "crucible"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// HealthConfig configures dependency health checks for readiness probes.
type HealthConfig struct {
	IncludeDB      bool `json:"include_db" yaml:"include_db"`
	IncludeSandbox bool `json:"include_sandbox" yaml:"include_sandbox"`
}

// AnomalyConfig configures threshold-based anomaly detection.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// SchedulerConfig configures cron-scheduled orchestration runs.
// When nil, no scheduled runs are executed.
type SchedulerConfig struct {
	Enabled bool                 `json:"enabled" yaml:"enabled"`
	Jobs    []ScheduledRunConfig `json:"jobs" yaml:"jobs"`
}

// ScheduledRunConfig defines one recurring orchestration run.
type ScheduledRunConfig struct {
	Name     string `json:"name" yaml:"name"`
	Schedule string `json:"schedule" yaml:"schedule"` // Cron expression, e.g. "0 2 * * *".
	Prompt   string `json:"prompt" yaml:"prompt"`     // Task sent to the loop on each trigger.
}

// ProvidersConfig selects and configures the LLM backends.
type ProvidersConfig struct {
	Default   string          `json:"default" yaml:"default"` // "openai", "anthropic", "ollama". Empty = "openai".
	Anthropic AnthropicConfig `json:"anthropic" yaml:"anthropic"`
	OpenAI    OpenAIConfig    `json:"openai" yaml:"openai"`
	Ollama    OllamaConfig    `json:"ollama" yaml:"ollama"`
}

type AnthropicConfig struct {
	APIKey string `json:"api_key" yaml:"api_key"` // Override: ANTHROPIC_API_KEY env var.
	Model  string `json:"model" yaml:"model"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"` // Override: OPENAI_API_KEY env var.
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

// OllamaConfig configures a local model served through the
// OpenAI-compatible endpoint.
type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to http://localhost:11434.
}

// DefaultConfigPath returns the default config file path (~/.crucible/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/crucible.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".crucible", "config.yaml")
}

// Load reads a YAML or JSON config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Provider API keys can be set in the file or overridden by
// environment variables. Environment variables take precedence.
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
	switch strings.ToLower(filepath.Ext(resolved)) {
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

// Default returns a config with every default applied and environment
// overrides taken, for running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) applyEnvOverrides() {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		c.Providers.Anthropic.APIKey = envKey
	}
	if envKey := os.Getenv("OPENAI_API_KEY"); envKey != "" {
		c.Providers.OpenAI.APIKey = envKey
	}
	if envWS := os.Getenv("CRUCIBLE_WORKSPACE"); envWS != "" {
		c.Workspace = envWS
	}
	if envRoot := os.Getenv("CRUCIBLE_PROJECT_ROOT"); envRoot != "" {
		c.ProjectRoot = envRoot
	}
	if envDSN := os.Getenv("CRUCIBLE_DB_DSN"); envDSN != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = envDSN
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

// ResolvedProjectRoot returns the project root, defaulting to the
// current directory.
func (c *Config) ResolvedProjectRoot() string {
	if c.ProjectRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "."
		}
		return wd
	}
	resolved, err := resolvePath(c.ProjectRoot)
	if err != nil {
		return c.ProjectRoot
	}
	return resolved
}

// StorageDriverName returns the effective storage driver name.
func (c *Config) StorageDriverName() string {
	if c.Storage != nil {
		return c.Storage.StorageDriver()
	}
	return "sqlite"
}

func (c *Config) validate() error {
	if c.Providers.Default == "" {
		c.Providers.Default = "openai"
	}
	if err := c.validateProvider(); err != nil {
		return err
	}
	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent.max_iterations must not be negative")
	}
	if c.Sandbox.MaxMemoryMB < 0 {
		return fmt.Errorf("sandbox.max_memory_mb must not be negative")
	}
	if c.Sandbox.TimeoutSeconds < 0 {
		return fmt.Errorf("sandbox.timeout_seconds must not be negative")
	}
	if c.Storage != nil && c.Storage.Driver != "" {
		switch c.Storage.Driver {
		case "sqlite", "postgres", "memory":
			// valid
		default:
			return fmt.Errorf("storage.driver %q is not supported (use sqlite, postgres, or memory)", c.Storage.Driver)
		}
	}
	if c.Storage.StorageDriver() == "postgres" {
		if c.Storage == nil || c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
			return fmt.Errorf("storage.postgres.dsn is required for the postgres driver (set CRUCIBLE_DB_DSN env var)")
		}
	}
	if c.Scheduler != nil && c.Scheduler.Enabled {
		for i, job := range c.Scheduler.Jobs {
			if job.Schedule == "" {
				return fmt.Errorf("scheduler.jobs[%d].schedule is required", i)
			}
			if job.Prompt == "" {
				return fmt.Errorf("scheduler.jobs[%d].prompt is required", i)
			}
		}
	}
	return nil
}

// validateProvider checks that the selected LLM provider has the required fields.
func (c *Config) validateProvider() error {
	switch c.Providers.Default {
	case "openai":
		if c.Providers.OpenAI.Model == "" {
			return fmt.Errorf("providers.openai.model is required")
		}
		if c.Providers.OpenAI.APIKey == "" {
			return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
		}
	case "anthropic":
		if c.Providers.Anthropic.Model == "" {
			return fmt.Errorf("providers.anthropic.model is required")
		}
		if c.Providers.Anthropic.APIKey == "" {
			return fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
		}
	case "ollama":
		if c.Providers.Ollama.Model == "" {
			return fmt.Errorf("providers.ollama.model is required")
		}
	default:
		return fmt.Errorf("providers.default %q is not supported (use openai, anthropic, or ollama)", c.Providers.Default)
	}
	return nil
}
