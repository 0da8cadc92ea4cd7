// Package config provides configuration management for cloudgate.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/cloudgate/internal/gateway"
)

// Config holds all cloudgate configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Playbooks PlaybookConfig  `yaml:"playbooks"`
	Contexts  ContextsConfig  `yaml:"contexts"`
	Redis     RedisConfig     `yaml:"redis"`
	Audit     AuditConfig     `yaml:"audit"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SecurityConfig holds policy engine settings.
type SecurityConfig struct {
	// Mode is strict (default) or permissive.
	Mode string `yaml:"mode"`

	// WarnThreshold is the lowest risk tier that still warns when a
	// command is allowed. Default medium.
	WarnThreshold string `yaml:"warn_threshold"`

	// RequireDistinctApprover forbids the initiator approving their own
	// playbook execution.
	RequireDistinctApprover bool `yaml:"require_distinct_approver"`
}

// ExecutorConfig holds child process limits.
type ExecutorConfig struct {
	MaxWallClock   time.Duration `yaml:"max_wall_clock"`
	MaxOutputBytes int           `yaml:"max_output_bytes"`
	MaxChildren    int           `yaml:"max_children"`
}

// PlaybookConfig holds playbook engine settings.
type PlaybookConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`

	// Dir optionally points at a directory of custom YAML playbooks
	// loaded into the library at startup.
	Dir string `yaml:"dir"`
}

// ContextsConfig lists the configured cloud contexts per provider. The first
// entry of each list is that provider's default context.
type ContextsConfig struct {
	AWS   []gateway.ContextInfo `yaml:"aws"`
	Azure []gateway.ContextInfo `yaml:"azure"`
	GCP   []gateway.ContextInfo `yaml:"gcp"`
}

// RedisConfig holds the optional redis connection settings used by the
// execution history sink and the API rate limiter.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	PoolSize    int           `yaml:"pool_size"`
	HistoryTTL  time.Duration `yaml:"history_ttl"`
}

// AuditConfig holds audit trail settings.
type AuditConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// TelemetryConfig holds logging, metrics, and tracing settings.
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name"`
	LogLevel       string  `yaml:"log_level"`
	LogFormat      string  `yaml:"log_format"` // json, console
	MetricsEnabled bool    `yaml:"metrics_enabled"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	SamplingRate   float64 `yaml:"sampling_rate"`
}

// Load reads configuration from a YAML file and applies environment
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Security: SecurityConfig{
			Mode:          "strict",
			WarnThreshold: "medium",
		},
		Executor: ExecutorConfig{
			MaxWallClock:   30 * time.Second,
			MaxOutputBytes: 1 << 20,
			MaxChildren:    64,
		},
		Playbooks: PlaybookConfig{
			MaxConcurrent: 16,
		},
		Redis: RedisConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			PasswordEnv: "REDIS_PASSWORD",
			PoolSize:    10,
			HistoryTTL:  30 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			MaxEntries: 10000,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "cloudgate",
			LogLevel:       "info",
			LogFormat:      "json",
			MetricsEnabled: true,
			SamplingRate:   0.1,
		},
	}
}

// ApplyEnv overlays the environment variables the core recognizes:
// SECURITY_MODE, MAX_WALL_CLOCK_SECS, MAX_OUTPUT_BYTES.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("SECURITY_MODE"); v != "" {
		c.Security.Mode = v
	}
	if v := os.Getenv("MAX_WALL_CLOCK_SECS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.Executor.MaxWallClock = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("MAX_OUTPUT_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Executor.MaxOutputBytes = n
		}
	}
}

// RedisPassword resolves the redis password from the configured env var.
func (c *Config) RedisPassword() string {
	if c.Redis.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.Redis.PasswordEnv)
}
