package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"MAX_TIMEOUT", "DEFAULT_TIMEOUT", "MAX_OUTPUT_SIZE", "SANDBOX_ROOT",
		"EXTRA_TOOLS", "AUDIT_LOG_FILE", "KALIMCP_API_KEY",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnvOverrides(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load(missing): %v", err)
	}

	if got := cfg.Exec.MaxTimeout(); got != DefaultMaxTimeout {
		t.Errorf("MaxTimeout = %s, want %s", got, DefaultMaxTimeout)
	}
	if got := cfg.Exec.DefaultTimeout(); got != DefaultTimeout {
		t.Errorf("DefaultTimeout = %s, want %s", got, DefaultTimeout)
	}
	if got := cfg.Exec.OutputLimit(); got != DefaultMaxOutputSize {
		t.Errorf("OutputLimit = %d, want %d", got, DefaultMaxOutputSize)
	}
	if got := cfg.Exec.Root(); got != DefaultSandboxRoot {
		t.Errorf("Root = %q, want %q", got, DefaultSandboxRoot)
	}
	if got := cfg.AuditLogPath(); got != filepath.Join(DefaultSandboxRoot, "audit.jsonl") {
		t.Errorf("AuditLogPath = %q", got)
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnvOverrides(t)

	path := writeFile(t, "config.yaml", `
exec:
  max_timeout_s: 120
  default_timeout_s: 30
  max_output_size: 4096
  sandbox_root: /srv/kalimcp
tools:
  extra:
    - name: mytool
      category: custom
      timeout_s: 45
  refresh_schedule: "*/5 * * * *"
audit:
  log_file: /var/log/kalimcp/audit.jsonl
  store:
    driver: sqlite
    path: /var/lib/kalimcp/audit.db
gateways:
  http:
    enabled: true
    listen_addr: ":8080"
    requests_per_minute: 30
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.Exec.MaxTimeout(); got != 120*time.Second {
		t.Errorf("MaxTimeout = %s, want 120s", got)
	}
	if got := cfg.Exec.DefaultTimeout(); got != 30*time.Second {
		t.Errorf("DefaultTimeout = %s, want 30s", got)
	}
	if got := cfg.Exec.Root(); got != "/srv/kalimcp" {
		t.Errorf("Root = %q", got)
	}
	if len(cfg.Tools.Extra) != 1 || cfg.Tools.Extra[0].Name != "mytool" || cfg.Tools.Extra[0].TimeoutS != 45 {
		t.Errorf("Extra = %+v", cfg.Tools.Extra)
	}
	if cfg.Tools.RefreshSchedule != "*/5 * * * *" {
		t.Errorf("RefreshSchedule = %q", cfg.Tools.RefreshSchedule)
	}
	if cfg.Audit.Store == nil || cfg.Audit.Store.StoreDriver() != "sqlite" {
		t.Errorf("Store = %+v", cfg.Audit.Store)
	}
	if cfg.Gateways.HTTP == nil || !cfg.Gateways.HTTP.Enabled || cfg.Gateways.HTTP.Addr() != ":8080" {
		t.Errorf("HTTP = %+v", cfg.Gateways.HTTP)
	}
	if got := cfg.AuditLogPath(); got != "/var/log/kalimcp/audit.jsonl" {
		t.Errorf("AuditLogPath = %q", got)
	}
}

func TestLoadJSON(t *testing.T) {
	clearEnvOverrides(t)

	path := writeFile(t, "config.json", `{
  "exec": {"max_timeout_s": 90, "sandbox_root": "/srv/kali"},
  "gateways": {"mcp": {"enabled": true, "transport": "streamable_http", "listen_addr": ":8000"}}
}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Exec.MaxTimeout(); got != 90*time.Second {
		t.Errorf("MaxTimeout = %s, want 90s", got)
	}
	if cfg.Gateways.MCP == nil || cfg.Gateways.MCP.Transport != "streamable_http" {
		t.Errorf("MCP = %+v", cfg.Gateways.MCP)
	}
}

func TestEnvOverridesTakePrecedence(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv("MAX_TIMEOUT", "600")
	t.Setenv("SANDBOX_ROOT", "/env/sandbox")
	t.Setenv("EXTRA_TOOLS", "toolA, toolB,")
	t.Setenv("KALIMCP_API_KEY", "secret-key")

	path := writeFile(t, "config.yaml", `
exec:
  max_timeout_s: 120
  sandbox_root: /file/sandbox
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := cfg.Exec.MaxTimeout(); got != 600*time.Second {
		t.Errorf("MaxTimeout = %s, env should win", got)
	}
	if got := cfg.Exec.Root(); got != "/env/sandbox" {
		t.Errorf("Root = %q, env should win", got)
	}
	if len(cfg.Tools.Extra) != 2 || cfg.Tools.Extra[0].Name != "toolA" || cfg.Tools.Extra[1].Name != "toolB" {
		t.Errorf("Extra = %+v", cfg.Tools.Extra)
	}
	if cfg.Gateways.HTTP == nil || cfg.Gateways.HTTP.APIKeys["secret-key"] != "default" {
		t.Error("KALIMCP_API_KEY not applied")
	}
}

func TestValidate(t *testing.T) {
	clearEnvOverrides(t)

	bad := []string{
		"exec:\n  max_timeout_s: -1\n",
		"exec:\n  default_timeout_s: 500\n  max_timeout_s: 100\n",
		"exec:\n  max_output_size: -5\n",
		"exec:\n  sandbox_root: relative/path\n",
		"audit:\n  store:\n    driver: oracle\n",
		"gateways:\n  mcp:\n    transport: websocket\n",
	}
	for _, content := range bad {
		path := writeFile(t, "config.yaml", content)
		if _, err := Load(path); err == nil {
			t.Errorf("Load accepted invalid config:\n%s", content)
		}
	}
}

func TestLoadMalformed(t *testing.T) {
	clearEnvOverrides(t)

	if _, err := Load(writeFile(t, "config.yaml", ":\tnot yaml")); err == nil {
		t.Error("Load accepted malformed YAML")
	}
	if _, err := Load(writeFile(t, "config.json", "{not json")); err == nil {
		t.Error("Load accepted malformed JSON")
	}
}
