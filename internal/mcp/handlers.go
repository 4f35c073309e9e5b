package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/sentinel/internal/governance"
	"github.com/ppiankov/sentinel/internal/model"
)

// --- Input/Output types ---

// ProposeInput defines parameters for the sentinel_propose tool.
type ProposeInput struct {
	Tool string         `json:"tool" jsonschema:"namespaced tool name, e.g. fs.read_file"`
	Args map[string]any `json:"args,omitempty" jsonschema:"tool arguments"`
}

// ProposeOutput carries the decision and, for executed calls, the result.
type ProposeOutput struct {
	ToolCallID      string   `json:"tool_call_id"`
	Decision        string   `json:"decision"`
	Status          string   `json:"status"`
	Reason          string   `json:"reason"`
	RiskScore       float64  `json:"risk_score"`
	RuleID          string   `json:"rule_id,omitempty"`
	PolicyCitations []string `json:"policy_citations"`
	ControlRefs     []string `json:"control_refs"`
	IncidentRefs    []string `json:"incident_refs"`
	Result          string   `json:"result,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// ResolveInput defines parameters for sentinel_approve and sentinel_deny.
type ResolveInput struct {
	ToolCallID string `json:"tool_call_id" jsonschema:"id returned by sentinel_propose"`
	Note       string `json:"note,omitempty" jsonschema:"free-text note recorded with the resolution"`
	Approver   string `json:"approver,omitempty" jsonschema:"approver identity, defaults to manual"`
}

// ResolveOutput reports the call's status after resolution.
type ResolveOutput struct {
	ToolCallID   string `json:"tool_call_id"`
	Status       string `json:"status"`
	ApprovedBy   string `json:"approved_by,omitempty"`
	ApprovedAt   string `json:"approved_at,omitempty"`
	ApprovalNote string `json:"approval_note,omitempty"`
	Result       string `json:"result,omitempty"`
	Error        string `json:"error,omitempty"`
}

// PendingInput optionally caps the list.
type PendingInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of calls to return (default 20)"`
}

// PendingOutput lists pending calls.
type PendingOutput struct {
	ToolCalls []PendingItem `json:"tool_calls"`
}

// PendingItem describes a single call awaiting approval. Args are redacted.
type PendingItem struct {
	ToolCallID      string         `json:"tool_call_id"`
	Tool            string         `json:"tool"`
	Args            map[string]any `json:"args"`
	Reason          string         `json:"reason"`
	RiskScore       float64        `json:"risk_score"`
	PolicyCitations []string       `json:"policy_citations"`
	CreatedAt       string         `json:"created_at"`
}

// --- Handlers ---

func (s *Server) handlePropose(ctx context.Context, req *mcpsdk.CallToolRequest, input ProposeInput) (*mcpsdk.CallToolResult, ProposeOutput, error) {
	if input.Tool == "" {
		return nil, ProposeOutput{}, fmt.Errorf("tool is required")
	}
	p, err := s.engine.ProposeToolCall(ctx, input.Tool, input.Args)
	if p == nil {
		return nil, ProposeOutput{}, err
	}

	out := ProposeOutput{
		ToolCallID:      p.ID,
		Decision:        string(p.Decision),
		Status:          string(p.Status),
		Reason:          p.Reason,
		RiskScore:       p.RiskScore,
		RuleID:          p.RuleID,
		PolicyCitations: p.PolicyCitations,
		ControlRefs:     p.ControlRefs,
		IncidentRefs:    p.IncidentRefs,
		Result:          deref(p.Result),
		Error:           deref(p.Error),
	}
	if err != nil && out.Error == "" {
		out.Error = err.Error()
	}

	// Blocked and failed calls are tool errors to the agent; pending is not.
	if p.Status == model.StatusBlocked || p.Status == model.StatusExecutionFailed {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleApprove(ctx context.Context, req *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	if input.ToolCallID == "" {
		return nil, ResolveOutput{}, fmt.Errorf("tool_call_id is required")
	}
	res, err := s.engine.ApproveToolCall(ctx, input.ToolCallID, input.Note, input.Approver)
	if res == nil {
		return nil, ResolveOutput{}, err
	}
	out := resolveOutput(res)
	if err != nil && out.Error == "" {
		out.Error = err.Error()
	}
	if res.Status == model.StatusExecutionFailed {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

func (s *Server) handleDeny(ctx context.Context, req *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	if input.ToolCallID == "" {
		return nil, ResolveOutput{}, fmt.Errorf("tool_call_id is required")
	}
	res, err := s.engine.DenyToolCall(ctx, input.ToolCallID, input.Note, input.Approver)
	if err != nil {
		return nil, ResolveOutput{}, err
	}
	return nil, resolveOutput(res), nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	recs, err := s.engine.PendingApprovals(ctx, input.Limit)
	if err != nil {
		return nil, PendingOutput{}, err
	}
	items := make([]PendingItem, len(recs))
	for i, rec := range recs {
		items[i] = PendingItem{
			ToolCallID:      rec.ToolCall.ID,
			Tool:            rec.ToolCall.ToolName,
			Args:            rec.ToolCall.RedactedArgs,
			Reason:          rec.Decision.Reason,
			RiskScore:       rec.Decision.RiskScore,
			PolicyCitations: rec.Decision.PolicyCitations,
			CreatedAt:       rec.ToolCall.CreatedAt.Format(time.RFC3339),
		}
	}
	return nil, PendingOutput{ToolCalls: items}, nil
}

func resolveOutput(res *governance.Resolution) ResolveOutput {
	out := ResolveOutput{
		ToolCallID:   res.ID,
		Status:       string(res.Status),
		ApprovedBy:   deref(res.ApprovedBy),
		ApprovalNote: deref(res.ApprovalNote),
		Result:       deref(res.Result),
		Error:        deref(res.Error),
	}
	if res.ApprovedAt != nil {
		out.ApprovedAt = res.ApprovedAt.Format(time.RFC3339)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
