package model

import "time"

// DecisionKind is the governance verdict for a single tool call.
type DecisionKind string

const (
	Allow            DecisionKind = "ALLOW"
	Block            DecisionKind = "BLOCK"
	ApprovalRequired DecisionKind = "APPROVAL_REQUIRED"
)

// ParseDecisionKind maps a string to a DecisionKind. Fail-closed: unknown → Block.
// Lowercase forms ("allow", "require_approval") are accepted for config convenience.
func ParseDecisionKind(s string) DecisionKind {
	switch s {
	case "ALLOW", "allow":
		return Allow
	case "APPROVAL_REQUIRED", "approval_required", "REQUIRE_APPROVAL", "require_approval":
		return ApprovalRequired
	default:
		return Block
	}
}

// Status is the lifecycle state of a ToolCall.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusApproved        Status = "APPROVED"
	StatusDenied          Status = "DENIED"
	StatusExecuted        Status = "EXECUTED"
	StatusExecutionFailed Status = "EXECUTION_FAILED"
	StatusBlocked         Status = "BLOCKED"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusDenied, StatusExecuted, StatusExecutionFailed, StatusBlocked:
		return true
	default:
		return false
	}
}

// ToolCall is one governed request to invoke a named tool.
//
// Args holds the raw arguments and is needed to dispatch after approval.
// It is never serialized; everything that leaves the process carries
// RedactedArgs instead.
type ToolCall struct {
	ID           string         `json:"id"`
	ToolName     string         `json:"tool_name"`
	Args         map[string]any `json:"-"`
	RedactedArgs map[string]any `json:"args_redacted"`
	CreatedAt    time.Time      `json:"created_at"`
	Status       Status         `json:"status"`
	ApprovedAt   *time.Time     `json:"approved_at,omitempty"`
	ApprovedBy   *string        `json:"approved_by,omitempty"`
	ApprovalNote *string        `json:"approval_note,omitempty"`
	Result       *string        `json:"result,omitempty"`
	Error        *string        `json:"error,omitempty"`
	Orchestrator string         `json:"orchestrator,omitempty"`
	AgentID      string         `json:"agent_id,omitempty"`
}

// Decision is the verdict attached to exactly one ToolCall.
type Decision struct {
	Kind            DecisionKind `json:"decision"`
	Reason          string       `json:"reason"`
	RiskScore       float64      `json:"risk_score"`
	RuleID          string       `json:"rule_id,omitempty"`
	PolicyCitations []string     `json:"policy_citations"`
	ControlRefs     []string     `json:"control_refs"`
	IncidentRefs    []string     `json:"incident_refs"`
}

// Record pairs a ToolCall with its Decision. It is the unit the audit store
// persists and lists.
type Record struct {
	ToolCall ToolCall `json:"tool_call"`
	Decision Decision `json:"decision"`
}

// Clone returns a deep enough copy for callers to read without sharing
// pointers into a store's internal state.
func (r Record) Clone() Record {
	out := r
	out.ToolCall.Args = CloneArgs(r.ToolCall.Args)
	out.ToolCall.RedactedArgs = CloneArgs(r.ToolCall.RedactedArgs)
	out.ToolCall.ApprovedAt = cloneTime(r.ToolCall.ApprovedAt)
	out.ToolCall.ApprovedBy = cloneString(r.ToolCall.ApprovedBy)
	out.ToolCall.ApprovalNote = cloneString(r.ToolCall.ApprovalNote)
	out.ToolCall.Result = cloneString(r.ToolCall.Result)
	out.ToolCall.Error = cloneString(r.ToolCall.Error)
	out.Decision.PolicyCitations = append([]string{}, r.Decision.PolicyCitations...)
	out.Decision.ControlRefs = append([]string{}, r.Decision.ControlRefs...)
	out.Decision.IncidentRefs = append([]string{}, r.Decision.IncidentRefs...)
	return out
}

// BackendKind selects the transport used to reach an execution backend.
type BackendKind string

const (
	BackendStatic BackendKind = "static"
	BackendRemote BackendKind = "remote"
	BackendStream BackendKind = "stream"
	BackendSSE    BackendKind = "sse"
)

// BackendRegistration describes an execution backend owning a tool namespace.
type BackendRegistration struct {
	Name       string      `json:"name" yaml:"name"`
	Kind       BackendKind `json:"kind" yaml:"kind"`
	BaseURL    string      `json:"base_url,omitempty" yaml:"base_url"`
	Command    string      `json:"command,omitempty" yaml:"command"`
	ToolPrefix string      `json:"tool_prefix" yaml:"tool_prefix"`
	AuthHeader string      `json:"auth_header,omitempty" yaml:"auth_header"`
	AuthToken  string      `json:"-" yaml:"auth_token"`
	CreatedAt  time.Time   `json:"created_at" yaml:"-"`
}

// ToolContract is a tool discovered on a backend during sync.
type ToolContract struct {
	Name        string `json:"name"`
	RawName     string `json:"raw_name"`
	Server      string `json:"server"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

// CloneArgs copies a JSON-shaped argument tree.
func CloneArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return CloneArgs(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
