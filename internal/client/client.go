// Package client talks to a running sentinel server over gRPC.
package client

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/sentinel/internal/governance"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/server"
)

// DefaultTimeout bounds each RPC when the caller's context has no deadline.
// Proposals and approvals may dispatch to a backend, so it sits above the
// server's default dispatch timeout.
const DefaultTimeout = 30 * time.Second

// Client connects to a sentinel gRPC server.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

// New creates a gRPC client connected to the given address.
func New(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sentinel server: %w", err)
	}
	return &Client{conn: conn, timeout: DefaultTimeout}, nil
}

// Propose submits a tool call. A persisted call that did not execute comes
// back with a non-empty Outcome and a nil error.
func (c *Client) Propose(ctx context.Context, tool string, args map[string]any) (server.ProposeResponse, error) {
	var resp server.ProposeResponse
	err := c.invoke(ctx, server.MethodPropose, server.ProposeRequest{Tool: tool, Args: args}, &resp)
	return resp, err
}

// Approve approves a pending call; the server dispatches it.
func (c *Client) Approve(ctx context.Context, id, note, approver string) (server.ResolveResponse, error) {
	var resp server.ResolveResponse
	err := c.invoke(ctx, server.MethodApprove, server.ResolveRequest{ID: id, Note: note, Approver: approver}, &resp)
	return resp, err
}

// Deny rejects a pending call.
func (c *Client) Deny(ctx context.Context, id, note, approver string) (*governance.Resolution, error) {
	var resp server.ResolveResponse
	if err := c.invoke(ctx, server.MethodDeny, server.ResolveRequest{ID: id, Note: note, Approver: approver}, &resp); err != nil {
		return nil, err
	}
	return resp.Resolution, nil
}

// Pending lists pending calls, oldest first.
func (c *Client) Pending(ctx context.Context, limit int) ([]model.Record, error) {
	var resp server.ListResponse
	if err := c.invoke(ctx, server.MethodPending, server.ListRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.ToolCalls, nil
}

// Decisions lists recent calls of any status, newest first.
func (c *Client) Decisions(ctx context.Context, limit int) ([]model.Record, error) {
	var resp server.ListResponse
	if err := c.invoke(ctx, server.MethodDecisions, server.ListRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.ToolCalls, nil
}

// Get returns one call and its decision.
func (c *Client) Get(ctx context.Context, id string) (model.Record, error) {
	var resp server.GetResponse
	err := c.invoke(ctx, server.MethodGet, server.GetRequest{ID: id}, &resp)
	return resp.ToolCall, err
}

// RegisterServer registers or updates a remote MCP server.
func (c *Client) RegisterServer(ctx context.Context, req server.RegisterServerRequest) (model.BackendRegistration, error) {
	var resp server.RegisterServerResponse
	err := c.invoke(ctx, server.MethodRegisterServer, req, &resp)
	return resp.Server, err
}

// Sync refreshes the tool list of a registered server.
func (c *Client) Sync(ctx context.Context, name string) (governance.SyncResult, error) {
	var resp governance.SyncResult
	err := c.invoke(ctx, server.MethodSync, server.ServerRequest{Server: name}, &resp)
	return resp, err
}

// Servers lists registered backends.
func (c *Client) Servers(ctx context.Context) ([]model.BackendRegistration, error) {
	var resp server.ServersResponse
	if err := c.invoke(ctx, server.MethodServers, server.ServerRequest{}, &resp); err != nil {
		return nil, err
	}
	return resp.Servers, nil
}

// Tools lists the synced tools of a server.
func (c *Client) Tools(ctx context.Context, name string) ([]model.ToolContract, error) {
	var resp server.ToolsResponse
	if err := c.invoke(ctx, server.MethodTools, server.ServerRequest{Server: name}, &resp); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	in, err := server.EncodeStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, server.FullMethod(method), in, out); err != nil {
		return err
	}
	return server.DecodeStruct(out, resp)
}
