// Package backend defines execution backends: the targets that actually run
// a tool once governance has allowed it.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnresolvedBackend means no registered namespace owns the tool.
	ErrUnresolvedBackend = errors.New("unresolved backend")
	// ErrBackendUnavailable means the backend could not be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrTimeout means dispatch exceeded its deadline.
	ErrTimeout = errors.New("backend timeout")
	// ErrUnknownTool means the backend does not expose the tool.
	ErrUnknownTool = errors.New("unknown tool")
)

// ToolError is returned when the backend ran the tool and the tool itself
// reported failure.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// Tool describes a tool exposed by a backend, under its unprefixed name.
type Tool struct {
	Name        string
	Title       string
	Description string
	InputSchema any
}

// Result is the normalized output of a tool invocation.
type Result struct {
	Value any `json:"result"`
}

// String renders the result for persistence: strings verbatim, anything
// else as JSON.
func (r Result) String() string {
	switch v := r.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

// Backend runs tools by unprefixed name.
type Backend interface {
	Name() string
	Invoke(ctx context.Context, tool string, args map[string]any) (Result, error)
	ListTools(ctx context.Context) ([]Tool, error)
	Close() error
}

// NormalizeText turns tool output text into a result value. Text that looks
// like a JSON object or array is decoded; anything else stays a string.
func NormalizeText(text string) any {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v any
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return text
}

// classifyErr maps a transport failure to ErrTimeout when ctx expired, and
// to ErrBackendUnavailable otherwise.
func classifyErr(ctx context.Context, server string, err error) error {
	var te *ToolError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, server, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %w", ErrBackendUnavailable, server, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, server, err)
}
