// Package mcp exposes the governance engine as MCP tools over stdio, so an
// agent host can route its tool calls through sentinel.
package mcp

import (
	"context"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/sentinel/internal/governance"
)

// Server wraps the MCP SDK server around a governance engine.
type Server struct {
	mcpServer *mcpsdk.Server
	engine    *governance.Engine
	logger    *slog.Logger
}

// New creates an MCP server with the sentinel tools registered.
func New(engine *governance.Engine, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	s := &Server{engine: engine, logger: logger}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "sentinel",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// MCPServer returns the underlying SDK server, for in-memory transports.
func (s *Server) MCPServer() *mcpsdk.Server { return s.mcpServer }

// registerTools adds all sentinel tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sentinel_propose",
		Description: "Propose a tool call for governance. ALLOW executes it and returns the result, BLOCK returns an error with the reason and citations, APPROVAL_REQUIRED returns a tool_call_id to approve or deny.",
	}, s.handlePropose)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sentinel_approve",
		Description: "Approve a pending tool call. The call is executed and its result returned.",
	}, s.handleApprove)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sentinel_deny",
		Description: "Deny a pending tool call. Nothing is executed.",
	}, s.handleDeny)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "sentinel_pending",
		Description: "List tool calls waiting for approval, oldest first.",
	}, s.handlePending)
}
