// Package config handles loading and validating kalimcp configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Defaults mirror the limits the server ships with when no config file is given.
const (
	DefaultMaxTimeout     = 300 * time.Second
	DefaultTimeout        = 60 * time.Second
	DefaultMaxOutputSize  = 1 << 20 // 1 MB
	DefaultSandboxRoot    = "/tmp/kalimcp"
	DefaultListenAddr     = ":5000"
	DefaultRefreshSpec    = "* * * * *" // availability rescan every minute
	DefaultMaxRequestSize = 1 << 20
)

// Config is the root configuration for kalimcp.
type Config struct {
	Exec          ExecConfig           `json:"exec" yaml:"exec"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Audit         AuditConfig          `json:"audit" yaml:"audit"`
	Gateways      GatewaysConfig       `json:"gateways" yaml:"gateways"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// ExecConfig bounds every tool execution. One immutable snapshot per process.
type ExecConfig struct {
	MaxTimeoutS     int    `json:"max_timeout_s" yaml:"max_timeout_s"`         // Hard cap. Default: 300.
	DefaultTimeoutS int    `json:"default_timeout_s" yaml:"default_timeout_s"` // Used when the request omits one. Default: 60.
	MaxOutputSize   int    `json:"max_output_size" yaml:"max_output_size"`     // Combined stdout+stderr cap in bytes. Default: 1 MB.
	SandboxRoot     string `json:"sandbox_root" yaml:"sandbox_root"`           // Working directories must resolve inside this tree.
}

// MaxTimeout returns the configured hard timeout cap.
func (e ExecConfig) MaxTimeout() time.Duration {
	if e.MaxTimeoutS <= 0 {
		return DefaultMaxTimeout
	}
	return time.Duration(e.MaxTimeoutS) * time.Second
}

// DefaultTimeout returns the per-request default timeout.
func (e ExecConfig) DefaultTimeout() time.Duration {
	if e.DefaultTimeoutS <= 0 {
		return DefaultTimeout
	}
	return time.Duration(e.DefaultTimeoutS) * time.Second
}

// OutputLimit returns the combined output byte cap.
func (e ExecConfig) OutputLimit() int {
	if e.MaxOutputSize <= 0 {
		return DefaultMaxOutputSize
	}
	return e.MaxOutputSize
}

// Root returns the sandbox root path.
func (e ExecConfig) Root() string {
	if e.SandboxRoot == "" {
		return DefaultSandboxRoot
	}
	return e.SandboxRoot
}

// ToolsConfig extends the builtin allow-list with operator-defined tools.
type ToolsConfig struct {
	Extra           []ExtraTool `json:"extra,omitempty" yaml:"extra,omitempty"`
	RefreshSchedule string      `json:"refresh_schedule,omitempty" yaml:"refresh_schedule,omitempty"` // Cron spec for availability rescans. Default: every minute.
}

// ExtraTool is an operator-supplied allow-list entry. The name goes through
// the same validation rules as request tool names before it is merged.
type ExtraTool struct {
	Name     string `json:"name" yaml:"name"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
	Path     string `json:"path,omitempty" yaml:"path,omitempty"`           // Absolute binary path. Empty = resolve from PATH.
	TimeoutS int    `json:"timeout_s,omitempty" yaml:"timeout_s,omitempty"` // Per-tool default timeout override.
}

// AuditConfig configures the append-only audit trail.
type AuditConfig struct {
	LogFile string            `json:"log_file,omitempty" yaml:"log_file,omitempty"` // JSONL file path. Empty = <sandbox_root>/audit.jsonl.
	Store   *AuditStoreConfig `json:"store,omitempty" yaml:"store,omitempty"`       // nil = file only, no database persistence.
}

// AuditStoreConfig selects the optional database backend for audit events.
type AuditStoreConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres".
	Path   string `json:"path,omitempty" yaml:"path,omitempty"`
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// StoreDriver returns the configured driver, defaulting to "sqlite".
func (s *AuditStoreConfig) StoreDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// GatewaysConfig configures the network front ends.
type GatewaysConfig struct {
	HTTP *HTTPGatewayConfig `json:"http,omitempty" yaml:"http,omitempty"` // nil = HTTP API disabled.
	MCP  *MCPGatewayConfig  `json:"mcp,omitempty" yaml:"mcp,omitempty"`   // nil = MCP disabled.
}

// HTTPGatewayConfig configures the HTTP API gateway.
type HTTPGatewayConfig struct {
	Enabled           bool              `json:"enabled" yaml:"enabled"`
	ListenAddr        string            `json:"listen_addr" yaml:"listen_addr"` // Default: ":5000".
	APIKeys           map[string]string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"`
	RequestsPerMinute int               `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited.
	MaxRequestSize    int64             `json:"max_request_size" yaml:"max_request_size"`       // 0 = 1 MB default.
	EnableDocs        bool              `json:"enable_docs" yaml:"enable_docs"`
}

// Addr returns the listen address, defaulting to ":5000".
func (h *HTTPGatewayConfig) Addr() string {
	if h == nil || h.ListenAddr == "" {
		return DefaultListenAddr
	}
	return h.ListenAddr
}

// MCPGatewayConfig configures the MCP front end.
type MCPGatewayConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Transport  string `json:"transport" yaml:"transport"`                         // "stdio" (default) or "streamable_http".
	ListenAddr string `json:"listen_addr,omitempty" yaml:"listen_addr,omitempty"` // For streamable_http. Default: ":8000".
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

// TracingConfig configures OpenTelemetry tracing with an OTLP exporter.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "kalimcp".
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	Protocol    string  `json:"protocol" yaml:"protocol"` // "grpc" (default) or "http".
	Insecure    bool    `json:"insecure" yaml:"insecure"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"` // Default: 1.0.
}

// DefaultConfigPath returns the default config file path (~/.kalimcp/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/kalimcp.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".kalimcp", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. A missing file yields pure defaults. Environment variables
// take precedence over file values.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		resolved, err := resolvePath(path)
		if err != nil {
			return nil, fmt.Errorf("resolving config path %s: %w", path, err)
		}

		data, err := os.ReadFile(resolved)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("reading config %s: %w", resolved, err)
		default:
			switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
			case ".yml", ".yaml":
				if err := yaml.Unmarshal(data, cfg); err != nil {
					return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
				}
			default:
				if err := json.Unmarshal(data, cfg); err != nil {
					return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
				}
			}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers environment variables over file values.
func applyEnvOverrides(cfg *Config) {
	if v := envInt("MAX_TIMEOUT"); v > 0 {
		cfg.Exec.MaxTimeoutS = v
	}
	if v := envInt("DEFAULT_TIMEOUT"); v > 0 {
		cfg.Exec.DefaultTimeoutS = v
	}
	if v := envInt("MAX_OUTPUT_SIZE"); v > 0 {
		cfg.Exec.MaxOutputSize = v
	}
	if v := os.Getenv("SANDBOX_ROOT"); v != "" {
		cfg.Exec.SandboxRoot = v
	}
	if v := os.Getenv("EXTRA_TOOLS"); v != "" {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			cfg.Tools.Extra = append(cfg.Tools.Extra, ExtraTool{Name: name})
		}
	}
	if v := os.Getenv("AUDIT_LOG_FILE"); v != "" {
		cfg.Audit.LogFile = v
	}
	if v := os.Getenv("KALIMCP_API_KEY"); v != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &HTTPGatewayConfig{Enabled: true}
		}
		if cfg.Gateways.HTTP.APIKeys == nil {
			cfg.Gateways.HTTP.APIKeys = map[string]string{}
		}
		cfg.Gateways.HTTP.APIKeys[v] = "default"
	}
}

// Validate rejects configurations that cannot produce a working server.
func (c *Config) Validate() error {
	if c.Exec.MaxTimeoutS < 0 || c.Exec.DefaultTimeoutS < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}
	if c.Exec.DefaultTimeout() > c.Exec.MaxTimeout() {
		return fmt.Errorf("config: default_timeout_s %s exceeds max_timeout_s %s",
			c.Exec.DefaultTimeout(), c.Exec.MaxTimeout())
	}
	if c.Exec.MaxOutputSize < 0 {
		return fmt.Errorf("config: max_output_size must not be negative")
	}
	if !filepath.IsAbs(c.Exec.Root()) {
		return fmt.Errorf("config: sandbox_root %q must be an absolute path", c.Exec.Root())
	}
	if s := c.Audit.Store; s != nil {
		switch s.StoreDriver() {
		case "sqlite", "postgres":
		default:
			return fmt.Errorf("config: unsupported audit store driver %q", s.Driver)
		}
	}
	if m := c.Gateways.MCP; m != nil && m.Transport != "" {
		switch m.Transport {
		case "stdio", "streamable_http":
		default:
			return fmt.Errorf("config: unsupported MCP transport %q", m.Transport)
		}
	}
	return nil
}

// AuditLogPath returns the audit log file path, derived from the sandbox
// root when unset.
func (c *Config) AuditLogPath() string {
	if c.Audit.LogFile != "" {
		return c.Audit.LogFile
	}
	return filepath.Join(c.Exec.Root(), "audit.jsonl")
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// resolvePath expands a leading ~ to the user's home directory.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
