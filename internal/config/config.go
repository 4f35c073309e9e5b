// Package config loads the sentinel runtime configuration from a YAML file,
// an optional .env file and SENTINEL_* environment overrides.
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

	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/sink"
)

// Defaults for fields the config file leaves out.
const (
	DefaultGRPCAddr        = "127.0.0.1:50051"
	DefaultHTTPAddr        = "127.0.0.1:8000"
	DefaultDispatchTimeout = 10 * time.Second
	DefaultCatalogServer   = "gateway"
	DefaultLogLevel        = "info"
)

// Config is the full runtime configuration.
type Config struct {
	GRPCAddr          string                      `yaml:"grpc_addr"`
	HTTPAddr          string                      `yaml:"http_addr"`
	PolicyPath        string                      `yaml:"policy"`
	GraphPath         string                      `yaml:"graph"`
	StoreDSN          string                      `yaml:"store_dsn"`
	PrefixRules       string                      `yaml:"prefix_rules"`
	AllowUnknownTools bool                        `yaml:"allow_unknown_tools"`
	DispatchTimeout   time.Duration               `yaml:"dispatch_timeout"`
	LogLevel          string                      `yaml:"log_level"`
	Backends          []model.BackendRegistration `yaml:"backends"`
	Sinks             []sink.Config               `yaml:"sinks"`
	RedactKeys        []string                    `yaml:"redact_keys"`
	Classifier        ClassifierConfig            `yaml:"classifier"`
}

// ClassifierConfig controls how a shared stdio catalogue is split between
// logical servers.
type ClassifierConfig struct {
	Markers         map[string][]string `yaml:"markers"`
	PrefixOverrides map[string]string   `yaml:"prefix_overrides"`
	CatalogServer   string              `yaml:"catalog_server"`
}

// Default returns the built-in configuration: the mock filesystem backend
// owning fs., an in-memory store and no sinks.
func Default() *Config {
	return &Config{
		GRPCAddr:        DefaultGRPCAddr,
		HTTPAddr:        DefaultHTTPAddr,
		DispatchTimeout: DefaultDispatchTimeout,
		LogLevel:        DefaultLogLevel,
		Backends: []model.BackendRegistration{
			{Name: "local", Kind: model.BackendStatic, ToolPrefix: "fs."},
		},
		Classifier: ClassifierConfig{CatalogServer: DefaultCatalogServer},
	}
}

// DefaultPath returns ~/.sentinel/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".sentinel", "config.yaml")
}

// Load reads .env from the working directory if present, then the YAML
// file at path (empty means DefaultPath), then environment overrides.
// A missing config file yields defaults. Invalid content is an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.GRPCAddr, "SENTINEL_GRPC_ADDR")
	setString(&c.HTTPAddr, "SENTINEL_HTTP_ADDR")
	setString(&c.PolicyPath, "SENTINEL_POLICY")
	setString(&c.GraphPath, "SENTINEL_GRAPH")
	setString(&c.StoreDSN, "SENTINEL_STORE_DSN")
	setString(&c.PrefixRules, "SENTINEL_PREFIX_RULES")
	setString(&c.LogLevel, "SENTINEL_LOG_LEVEL")
	setString(&c.Classifier.CatalogServer, "MCP_STDIO_SERVER_NAME")

	if v, ok := lookup("SENTINEL_ALLOW_UNKNOWN_TOOLS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SENTINEL_ALLOW_UNKNOWN_TOOLS: %w", err)
		}
		c.AllowUnknownTools = b
	}
	if v, ok := lookup("SENTINEL_DISPATCH_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("SENTINEL_DISPATCH_TIMEOUT: %w", err)
		}
		c.DispatchTimeout = d
	}
	if v, ok := lookup("MCP_STDIO_SERVER_TOOL_MARKERS"); ok {
		var markers map[string][]string
		if err := json.Unmarshal([]byte(v), &markers); err != nil {
			return fmt.Errorf("MCP_STDIO_SERVER_TOOL_MARKERS: %w", err)
		}
		c.Classifier.Markers = markers
	}
	if v, ok := lookup("MCP_STDIO_SERVER_PREFIX_OVERRIDES"); ok {
		var overrides map[string]string
		if err := json.Unmarshal([]byte(v), &overrides); err != nil {
			return fmt.Errorf("MCP_STDIO_SERVER_PREFIX_OVERRIDES: %w", err)
		}
		c.Classifier.PrefixOverrides = overrides
	}
	return c.applyBackendEnv()
}

// applyBackendEnv lets SENTINEL_BACKEND switch the transport of the
// backend owning fs. without editing the config file.
func (c *Config) applyBackendEnv() error {
	kindEnv, hasKind := lookup("SENTINEL_BACKEND")
	baseURL, hasURL := lookup("MCP_BASE_URL")
	command, hasCmd := lookup("MCP_STDIO_CMD")
	if !hasKind && !hasURL && !hasCmd {
		return nil
	}

	primary := c.primaryBackend()
	if hasKind {
		kind, err := ParseBackendKind(kindEnv)
		if err != nil {
			return err
		}
		primary.Kind = kind
	}
	if hasURL {
		primary.BaseURL = baseURL
	}
	if hasCmd {
		primary.Command = command
	}
	return nil
}

// primaryBackend returns the registration owning fs., adding one if the
// config has none.
func (c *Config) primaryBackend() *model.BackendRegistration {
	for i := range c.Backends {
		if c.Backends[i].ToolPrefix == "fs." {
			return &c.Backends[i]
		}
	}
	c.Backends = append(c.Backends, model.BackendRegistration{Name: "local", Kind: model.BackendStatic, ToolPrefix: "fs."})
	return &c.Backends[len(c.Backends)-1]
}

// ParseBackendKind accepts the registration kinds and the names the
// environment has historically used for them.
func ParseBackendKind(s string) (model.BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static", "mock", "local":
		return model.BackendStatic, nil
	case "remote", "mcp_http", "http":
		return model.BackendRemote, nil
	case "sse", "mcp_sse":
		return model.BackendSSE, nil
	case "stream", "mcp_stdio", "stdio":
		return model.BackendStream, nil
	default:
		return "", fmt.Errorf("unknown backend kind %q", s)
	}
}

// Validate checks fields that would otherwise fail late.
func (c *Config) Validate() error {
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch_timeout must be positive, got %s", c.DispatchTimeout)
	}
	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if strings.TrimSpace(b.Name) == "" {
			return fmt.Errorf("backends[%d]: name required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("backends[%d]: duplicate name %q", i, b.Name)
		}
		seen[b.Name] = true
		switch b.Kind {
		case model.BackendRemote, model.BackendSSE:
			if b.BaseURL == "" {
				return fmt.Errorf("backend %s: base_url required for kind %s", b.Name, b.Kind)
			}
		case model.BackendStream:
			if strings.TrimSpace(b.Command) == "" {
				return fmt.Errorf("backend %s: command required for kind stream", b.Name)
			}
		}
	}
	for i, s := range c.Sinks {
		if s.Kind == "" {
			return fmt.Errorf("sinks[%d]: kind required", i)
		}
	}
	return nil
}

// CatalogBackend returns the stream registration serving the shared tool
// catalogue, if one is configured.
func (c *Config) CatalogBackend() (model.BackendRegistration, bool) {
	for _, b := range c.Backends {
		if b.Kind == model.BackendStream && b.Name == c.Classifier.CatalogServer {
			return b, true
		}
	}
	return model.BackendRegistration{}, false
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}
