package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != DefaultGRPCAddr || cfg.DispatchTimeout != DefaultDispatchTimeout {
		t.Errorf("expected defaults, got %+v", cfg)
	}
	if len(cfg.Backends) != 1 || cfg.Backends[0].Kind != model.BackendStatic || cfg.Backends[0].ToolPrefix != "fs." {
		t.Errorf("expected mock fs backend, got %+v", cfg.Backends)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
http_addr: 0.0.0.0:9000
dispatch_timeout: 3s
store_dsn: sqlite:///tmp/sentinel.db
backends:
  - name: github
    kind: remote
    base_url: https://mcp.example.com/mcp
    tool_prefix: gh.
    auth_header: Authorization
    auth_token: Bearer x
sinks:
  - kind: file
    path: /tmp/audit.jsonl
  - kind: webhook
    url: https://hooks.example.com
    format: slack
    events: [tool.blocked]
redact_keys: [ssn]
classifier:
  markers:
    github: [gh_, github]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:9000" {
		t.Errorf("http_addr = %q", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != DefaultGRPCAddr {
		t.Errorf("unset field lost its default: %q", cfg.GRPCAddr)
	}
	if cfg.DispatchTimeout != 3*time.Second {
		t.Errorf("dispatch_timeout = %s", cfg.DispatchTimeout)
	}
	if len(cfg.Backends) != 1 || cfg.Backends[0].AuthToken != "Bearer x" {
		t.Errorf("unexpected backends %+v", cfg.Backends)
	}
	if len(cfg.Sinks) != 2 || cfg.Sinks[1].Format != "slack" || cfg.Sinks[1].Events[0] != "tool.blocked" {
		t.Errorf("unexpected sinks %+v", cfg.Sinks)
	}
	if cfg.Classifier.CatalogServer != DefaultCatalogServer || len(cfg.Classifier.Markers["github"]) != 2 {
		t.Errorf("unexpected classifier %+v", cfg.Classifier)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "backends: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_POLICY", "/etc/sentinel/policy.yaml")
	t.Setenv("SENTINEL_STORE_DSN", "postgres://localhost/sentinel")
	t.Setenv("SENTINEL_ALLOW_UNKNOWN_TOOLS", "true")
	t.Setenv("SENTINEL_BACKEND", "mcp_http")
	t.Setenv("MCP_BASE_URL", "http://mcp-sandbox:7001")
	t.Setenv("MCP_STDIO_SERVER_TOOL_MARKERS", `{"openbnb-airbnb":["airbnb_"]}`)
	t.Setenv("MCP_STDIO_SERVER_PREFIX_OVERRIDES", `{"github-official":"gh"}`)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PolicyPath != "/etc/sentinel/policy.yaml" || cfg.StoreDSN != "postgres://localhost/sentinel" {
		t.Errorf("paths not overridden: %+v", cfg)
	}
	if !cfg.AllowUnknownTools {
		t.Error("allow_unknown_tools not overridden")
	}
	b := cfg.Backends[0]
	if b.Kind != model.BackendRemote || b.BaseURL != "http://mcp-sandbox:7001" || b.ToolPrefix != "fs." {
		t.Errorf("backend not switched: %+v", b)
	}
	if cfg.Classifier.Markers["openbnb-airbnb"][0] != "airbnb_" || cfg.Classifier.PrefixOverrides["github-official"] != "gh" {
		t.Errorf("classifier env not applied: %+v", cfg.Classifier)
	}
}

func TestEnvStdioBackend(t *testing.T) {
	t.Setenv("SENTINEL_BACKEND", "mcp_stdio")
	t.Setenv("MCP_STDIO_CMD", "docker mcp gateway run")
	t.Setenv("MCP_STDIO_SERVER_NAME", "local")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	reg, ok := cfg.CatalogBackend()
	if !ok || reg.Command != "docker mcp gateway run" {
		t.Errorf("expected stream catalogue backend, got %+v %v", reg, ok)
	}
}

func TestEnvErrors(t *testing.T) {
	tests := []struct{ key, value string }{
		{"SENTINEL_ALLOW_UNKNOWN_TOOLS", "maybe"},
		{"SENTINEL_DISPATCH_TIMEOUT", "soon"},
		{"SENTINEL_BACKEND", "carrier-pigeon"},
		{"MCP_STDIO_SERVER_TOOL_MARKERS", "{not json"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
				t.Errorf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero timeout", func(c *Config) { c.DispatchTimeout = 0 }},
		{"empty backend name", func(c *Config) { c.Backends[0].Name = " " }},
		{"duplicate backend", func(c *Config) { c.Backends = append(c.Backends, c.Backends[0]) }},
		{"remote without url", func(c *Config) { c.Backends[0].Kind = model.BackendRemote }},
		{"stream without command", func(c *Config) { c.Backends[0].Kind = model.BackendStream }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Errorf("unexpected log output %q", out)
	}
}
