package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Func implements one in-process tool.
type Func func(ctx context.Context, args map[string]any) (any, error)

// FallbackFunc handles tool names without a registered Func.
type FallbackFunc func(ctx context.Context, tool string, args map[string]any) (any, error)

type staticTool struct {
	tool Tool
	fn   Func
}

// Static is an in-process backend backed by a map of tool functions.
type Static struct {
	name string

	mu       sync.RWMutex
	tools    map[string]staticTool
	fallback FallbackFunc
}

// NewStatic creates an empty static backend.
func NewStatic(name string) *Static {
	return &Static{name: name, tools: make(map[string]staticTool)}
}

// Handle registers fn under name, replacing any previous handler.
func (s *Static) Handle(name, description string, schema any, fn Func) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[name] = staticTool{
		tool: Tool{Name: name, Description: description, InputSchema: schema},
		fn:   fn,
	}
	return s
}

// Fallback sets the handler for names without a registered function.
func (s *Static) Fallback(fn FallbackFunc) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = fn
	return s
}

func (s *Static) Name() string { return s.name }
func (s *Static) Close() error { return nil }

func (s *Static) Invoke(ctx context.Context, tool string, args map[string]any) (Result, error) {
	s.mu.RLock()
	t, ok := s.tools[tool]
	fn := t.fn
	if !ok && s.fallback != nil {
		fallback := s.fallback
		fn = func(ctx context.Context, args map[string]any) (any, error) {
			return fallback(ctx, tool, args)
		}
	}
	s.mu.RUnlock()

	if fn == nil {
		return Result{}, fmt.Errorf("%w: %s on %s", ErrUnknownTool, tool, s.name)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, classifyErr(ctx, s.name, err)
	}
	v, err := fn(ctx, args)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, classifyErr(ctx, s.name, err)
		}
		return Result{}, &ToolError{Tool: tool, Message: err.Error()}
	}
	return Result{Value: v}, nil
}

// ListTools returns registered tools sorted by name.
func (s *Static) ListTools(context.Context) ([]Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tool, 0, len(s.tools))
	for _, t := range s.tools {
		out = append(out, t.tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var pathSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"path": map[string]any{"type": "string"},
	},
	"required": []any{"path"},
}

var writeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"path":    map[string]any{"type": "string"},
		"content": map[string]any{"type": "string"},
	},
	"required": []any{"path"},
}

// MockFS returns a static backend with canned filesystem tools. It touches
// no real files and is used for local runs and evaluation.
func MockFS(name string) *Static {
	s := NewStatic(name)
	s.Handle("list_dir", "List a directory", pathSchema, func(context.Context, map[string]any) (any, error) {
		return []any{"example.txt"}, nil
	})
	s.Handle("read_file", "Read a file", pathSchema, func(_ context.Context, args map[string]any) (any, error) {
		path, _ := args["path"].(string)
		if path == "" {
			path, _ = args["file"].(string)
		}
		switch {
		case strings.HasSuffix(path, "hello.txt"):
			return "Hello from mock backend.", nil
		case strings.HasSuffix(path, "example.txt"):
			return "Example content.", nil
		default:
			return "", nil
		}
	})
	s.Handle("write_file", "Write a file", writeSchema, func(context.Context, map[string]any) (any, error) {
		return "OK", nil
	})
	s.Fallback(func(_ context.Context, tool string, _ map[string]any) (any, error) {
		return "[MOCK] " + tool, nil
	})
	return s
}
