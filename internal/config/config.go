// Package config loads and validates the ambient configuration shared by
// the HTTP facade and CLI glue around the Docker operations substrate:
// listen address, TLS, the optional Postgres trajectory sink, metrics and
// tracing toggles, and the per-component budgets and timeouts, each
// overridable through DOCKER_AGENT_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Shaper    ShaperConfig    `yaml:"shaper"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Database  DatabaseConfig  `yaml:"database"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Security  SecurityConfig  `yaml:"security"`
	TLS       TLSConfig       `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// WorkspaceConfig configures the Command Gateway's workspace root — the
// process-wide immutable directory every cwd argument resolves against.
type WorkspaceConfig struct {
	Root string `yaml:"root"`
}

// ShaperConfig carries the four Output Shaper truncation budgets.
type ShaperConfig struct {
	MaxStringChars   int `yaml:"max_string_chars"`
	MaxListItems     int `yaml:"max_list_items"`
	MaxDictItems     int `yaml:"max_dict_items"`
	MaxResponseChars int `yaml:"max_response_chars"`
}

// GatewayConfig configures the Command Gateway's dispatch behavior.
type GatewayConfig struct {
	DockerBinary     string        `yaml:"docker_binary"`
	DefaultTimeout   time.Duration `yaml:"default_timeout"`
	SeccompProfile   string        `yaml:"seccomp_profile"` // path to write the hardened profile to; empty disables
	MaxRepeatedCalls int           `yaml:"max_repeated_calls"`
}

// ExecutorConfig configures the Programmatic Executor's sandbox limits.
type ExecutorConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxOutputChars int           `yaml:"max_output_chars"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file, then overlays the
// DOCKER_AGENT_* environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    150 * time.Second, // > executor.timeout + overhead
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
		},
		Workspace: WorkspaceConfig{
			Root: "/tmp/multi-agent-docker-workspace",
		},
		Shaper: ShaperConfig{
			MaxStringChars:   1200,
			MaxListItems:     120,
			MaxDictItems:     200,
			MaxResponseChars: 4000,
		},
		Gateway: GatewayConfig{
			DockerBinary:     "docker",
			DefaultTimeout:   30 * time.Second,
			MaxRepeatedCalls: 5,
		},
		Executor: ExecutorConfig{
			Timeout:        120 * time.Second,
			MaxOutputChars: 8000,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
	cfg.applyEnv()
	return cfg
}

// applyEnv overlays the DOCKER_AGENT_* environment variables over
// whatever the YAML file (or built-in defaults) already set. Unset or
// malformed variables leave the existing value.
func (c *Config) applyEnv() {
	if v := os.Getenv("DOCKER_AGENT_WORKSPACE_ROOT"); v != "" {
		c.Workspace.Root = v
	}
	if v, ok := envInt("DOCKER_AGENT_MAX_STRING_CHARS"); ok {
		c.Shaper.MaxStringChars = v
	}
	if v, ok := envInt("DOCKER_AGENT_MAX_LIST_ITEMS"); ok {
		c.Shaper.MaxListItems = v
	}
	if v, ok := envInt("DOCKER_AGENT_MAX_DICT_ITEMS"); ok {
		c.Shaper.MaxDictItems = v
	}
	if v, ok := envInt("DOCKER_AGENT_MAX_RESPONSE_CHARS"); ok {
		c.Shaper.MaxResponseChars = v
	}
	if v, ok := envSeconds("DOCKER_AGENT_CLI_TIMEOUT_SECONDS"); ok {
		c.Gateway.DefaultTimeout = v
	}
	if v, ok := envSeconds("DOCKER_AGENT_EXEC_TIMEOUT_SECONDS"); ok {
		c.Executor.Timeout = v
	}
	if v, ok := envInt("DOCKER_AGENT_EXEC_OUTPUT_CHARS"); ok {
		c.Executor.MaxOutputChars = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("var", name).Str("value", v).Msg("ignoring malformed integer env override")
		return 0, false
	}
	return n, true
}

func envSeconds(name string) (time.Duration, bool) {
	n, ok := envInt(name)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root must not be empty")
	}
	if !filepath.IsAbs(c.Workspace.Root) {
		return fmt.Errorf("workspace.root must be an absolute path, got %q", c.Workspace.Root)
	}
	if c.Shaper.MaxStringChars < 1 || c.Shaper.MaxListItems < 1 || c.Shaper.MaxDictItems < 1 || c.Shaper.MaxResponseChars < 1 {
		return fmt.Errorf("shaper budgets must all be positive")
	}
	if c.Gateway.DefaultTimeout <= 0 {
		return fmt.Errorf("gateway.default_timeout must be positive")
	}
	if c.Gateway.MaxRepeatedCalls < 1 {
		return fmt.Errorf("gateway.max_repeated_calls must be >= 1")
	}
	if c.Executor.Timeout <= 0 {
		return fmt.Errorf("executor.timeout must be positive")
	}
	if c.Executor.MaxOutputChars < 1 {
		return fmt.Errorf("executor.max_output_chars must be positive")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable — connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
