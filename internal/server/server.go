// Package server exposes the governance engine over gRPC and hot-reloads
// policy and citation files.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/governance"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "sentinel.v1.Governance"

// Method names of the Governance service.
const (
	MethodPropose        = "ProposeToolCall"
	MethodApprove        = "ApproveToolCall"
	MethodDeny           = "DenyToolCall"
	MethodPending        = "PendingApprovals"
	MethodDecisions      = "ListDecisions"
	MethodGet            = "GetToolCall"
	MethodRegisterServer = "RegisterMcpServer"
	MethodSync           = "SyncMcpTools"
	MethodServers        = "McpServers"
	MethodTools          = "McpTools"
)

// FullMethod returns the invoke path of a Governance method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Server implements the Governance gRPC service.
type Server struct {
	stack      *Stack
	engine     *governance.Engine
	logger     *slog.Logger
	grpcServer *grpc.Server
}

// New builds the governance stack from cfg and a gRPC server over it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	stack, err := Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return NewWithStack(stack), nil
}

// NewWithStack serves an already built stack.
func NewWithStack(stack *Stack) *Server {
	s := &Server{
		stack:      stack,
		engine:     stack.Engine,
		logger:     stack.Logger,
		grpcServer: grpc.NewServer(),
	}
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Stack returns the components behind the server.
func (s *Server) Stack() *Stack { return s.stack }

// Serve starts the gRPC server on the configured address. Blocks until stopped.
func (s *Server) Serve() error {
	addr := s.stack.Config.GRPCAddr
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.grpcServer.Serve(lis)
}

// ServeOn starts the gRPC server on the given listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// Close releases the stack: sinks are drained, backends and the store closed.
func (s *Server) Close(ctx context.Context) error {
	return s.stack.Close(ctx)
}

// ReloadPolicy swaps in the policy file. Called by the hot-reloader.
func (s *Server) ReloadPolicy() error { return s.stack.ReloadPolicy() }

// ReloadGraph swaps in the citation graph. Called by the hot-reloader.
func (s *Server) ReloadGraph() error { return s.stack.ReloadGraph() }

func (s *Server) propose(ctx context.Context, req ProposeRequest) (any, error) {
	if req.Tool == "" {
		return nil, status.Error(codes.InvalidArgument, "tool required")
	}
	p, err := s.engine.ProposeToolCall(ctx, req.Tool, req.Args)
	if p == nil {
		return nil, grpcError(err)
	}
	resp := ProposeResponse{Proposal: p}
	if err != nil {
		resp.Outcome = err.Error()
	}
	return resp, nil
}

func (s *Server) approve(ctx context.Context, req ResolveRequest) (any, error) {
	res, err := s.engine.ApproveToolCall(ctx, req.ID, req.Note, req.Approver)
	if res == nil {
		return nil, grpcError(err)
	}
	resp := ResolveResponse{Resolution: res}
	if err != nil {
		resp.Outcome = err.Error()
	}
	return resp, nil
}

func (s *Server) deny(ctx context.Context, req ResolveRequest) (any, error) {
	res, err := s.engine.DenyToolCall(ctx, req.ID, req.Note, req.Approver)
	if err != nil {
		return nil, grpcError(err)
	}
	return ResolveResponse{Resolution: res}, nil
}

func (s *Server) pending(ctx context.Context, req ListRequest) (any, error) {
	recs, err := s.engine.PendingApprovals(ctx, req.Limit)
	if err != nil {
		return nil, grpcError(err)
	}
	return ListResponse{ToolCalls: recs}, nil
}

func (s *Server) decisions(ctx context.Context, req ListRequest) (any, error) {
	recs, err := s.engine.Decisions(ctx, req.Limit)
	if err != nil {
		return nil, grpcError(err)
	}
	return ListResponse{ToolCalls: recs}, nil
}

func (s *Server) get(ctx context.Context, req GetRequest) (any, error) {
	rec, err := s.engine.Get(ctx, req.ID)
	if err != nil {
		return nil, grpcError(err)
	}
	return GetResponse{ToolCall: rec}, nil
}

func (s *Server) registerServer(ctx context.Context, req RegisterServerRequest) (any, error) {
	reg, err := s.engine.RegisterMcpServer(ctx, req.Name, req.BaseURL, req.ToolPrefix, req.AuthHeader, req.AuthToken)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	s.logger.Info("mcp server registered", "server", reg.Name, "prefix", reg.ToolPrefix)
	return RegisterServerResponse{Server: reg}, nil
}

func (s *Server) sync(ctx context.Context, req ServerRequest) (any, error) {
	res, err := s.engine.SyncMcpTools(ctx, req.Server)
	if err != nil {
		return nil, grpcError(err)
	}
	return res, nil
}

func (s *Server) servers(context.Context, ServerRequest) (any, error) {
	return ServersResponse{Servers: s.engine.McpServers()}, nil
}

func (s *Server) tools(_ context.Context, req ServerRequest) (any, error) {
	tools, err := s.engine.McpTools(req.Server)
	if err != nil {
		return nil, grpcError(err)
	}
	return ToolsResponse{Tools: tools}, nil
}

// grpcError maps engine errors to status codes.
func grpcError(err error) error {
	switch {
	case err == nil:
		return status.Error(codes.Internal, "no result")
	case errors.Is(err, governance.ErrNotFound), errors.Is(err, governance.ErrUnknownServer):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, governance.ErrStateConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, governance.ErrInvalidArguments):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, governance.ErrTimeout):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, governance.ErrBackendUnavailable), errors.Is(err, governance.ErrUnresolvedBackend):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// unary adapts a typed method to a gRPC handler exchanging Structs.
func unary[Req any](method string, fn func(*Server, context.Context, Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, in any) (any, error) {
				var req Req
				if err := DecodeStruct(in.(*structpb.Struct), &req); err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				out, err := fn(srv.(*Server), ctx, req)
				if err != nil {
					return nil, err
				}
				return EncodeStruct(out)
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, call)
		},
	}
}

// governanceService is the handler type checked by RegisterService.
type governanceService interface {
	ReloadPolicy() error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*governanceService)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodPropose, (*Server).propose),
		unary(MethodApprove, (*Server).approve),
		unary(MethodDeny, (*Server).deny),
		unary(MethodPending, (*Server).pending),
		unary(MethodDecisions, (*Server).decisions),
		unary(MethodGet, (*Server).get),
		unary(MethodRegisterServer, (*Server).registerServer),
		unary(MethodSync, (*Server).sync),
		unary(MethodServers, (*Server).servers),
		unary(MethodTools, (*Server).tools),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sentinel/v1/governance.proto",
}
