package backend

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ClientName identifies this process to MCP servers.
const ClientName = "sentinel"

// TransportFunc builds a fresh transport for each connection attempt.
type TransportFunc func() (mcp.Transport, error)

// MCP reaches tools on an MCP server. The session is opened lazily on first
// use. A failed connect is retried once; a failed tool call is not, since the
// server may already have run it. The broken session is dropped so the next
// call reconnects.
type MCP struct {
	name      string
	transport TransportFunc
	version   string

	mu      sync.Mutex
	session *mcp.ClientSession
}

// NewMCP creates a backend that connects through transport.
func NewMCP(name, version string, transport TransportFunc) *MCP {
	if version == "" {
		version = "dev"
	}
	return &MCP{name: name, transport: transport, version: version}
}

// NewRemote creates a backend for an MCP server over Streamable HTTP, or
// over SSE when sse is set. A non-empty authHeader is sent on every request.
func NewRemote(name, baseURL, authHeader, authToken string, sse bool) (*MCP, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("remote backend %s: base url required", name)
	}
	var headers map[string]string
	if authHeader != "" {
		headers = map[string]string{authHeader: authToken}
	}
	return NewMCP(name, "", func() (mcp.Transport, error) {
		var client *http.Client
		if len(headers) > 0 {
			client = &http.Client{Transport: &headerRoundTripper{base: http.DefaultTransport, headers: headers}}
		}
		if sse {
			return &mcp.SSEClientTransport{Endpoint: baseURL, HTTPClient: client}, nil
		}
		return &mcp.StreamableClientTransport{Endpoint: baseURL, HTTPClient: client}, nil
	}), nil
}

// NewStream creates a backend that spawns command and speaks MCP over its
// stdio. The command line is split on whitespace.
func NewStream(name, command string) (*MCP, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("stream backend %s: command required", name)
	}
	return NewMCP(name, "", func() (mcp.Transport, error) {
		return &mcp.CommandTransport{Command: exec.Command(fields[0], fields[1:]...)}, nil
	}), nil
}

func (m *MCP) Name() string { return m.name }

// Invoke calls tool on the server and normalizes its first text content.
func (m *MCP) Invoke(ctx context.Context, tool string, args map[string]any) (Result, error) {
	session, err := m.connect(ctx)
	if err != nil && ctx.Err() == nil {
		session, err = m.connect(ctx)
	}
	if err != nil {
		return Result{}, classifyErr(ctx, m.name, err)
	}
	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: args})
	if err != nil {
		m.drop(session)
		return Result{}, classifyErr(ctx, m.name, err)
	}
	if res.IsError {
		return Result{}, &ToolError{Tool: tool, Message: extractText(res)}
	}
	return normalizeResult(res), nil
}

// ListTools pages through the server's tool list.
func (m *MCP) ListTools(ctx context.Context) ([]Tool, error) {
	session, err := m.connect(ctx)
	if err != nil {
		return nil, classifyErr(ctx, m.name, err)
	}
	var (
		out    []Tool
		cursor string
	)
	for {
		res, err := session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			m.drop(session)
			return nil, classifyErr(ctx, m.name, fmt.Errorf("list tools: %w", err))
		}
		for _, t := range res.Tools {
			if t == nil || t.Name == "" {
				continue
			}
			tool := Tool{Name: t.Name, Title: t.Title, Description: t.Description, InputSchema: t.InputSchema}
			if tool.Title == "" && t.Annotations != nil {
				tool.Title = t.Annotations.Title
			}
			out = append(out, tool)
		}
		if res.NextCursor == "" {
			return out, nil
		}
		cursor = res.NextCursor
	}
}

// Close ends the session, if any.
func (m *MCP) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	err := m.session.Close()
	m.session = nil
	return err
}

func (m *MCP) connect(ctx context.Context) (*mcp.ClientSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return m.session, nil
	}
	transport, err := m.transport()
	if err != nil {
		return nil, err
	}
	// Connect is one-shot per client.
	client := mcp.NewClient(&mcp.Implementation{Name: ClientName, Version: m.version}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	m.session = session
	return session, nil
}

// drop closes session and forgets it, unless another call already replaced it.
func (m *MCP) drop(session *mcp.ClientSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == session {
		m.session = nil
	}
	_ = session.Close()
}

func normalizeResult(res *mcp.CallToolResult) Result {
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			return Result{Value: NormalizeText(tc.Text)}
		}
	}
	if res.StructuredContent != nil {
		return Result{Value: res.StructuredContent}
	}
	return Result{}
}

func extractText(res *mcp.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 {
		return "tool reported an error"
	}
	return strings.Join(parts, "\n")
}

// headerRoundTripper injects fixed headers into every HTTP request.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		r.Header.Set(k, v)
	}
	return t.base.RoundTrip(r)
}
