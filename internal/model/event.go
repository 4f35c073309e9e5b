package model

import "time"

// Audit event types emitted after each successful write to the audit store.
const (
	EventProposed = "tool.proposed"
	EventExecuted = "tool.executed"
	EventFailed   = "tool.failed"
	EventBlocked  = "tool.blocked"
	EventPending  = "tool.pending_approval"
	EventApproved = "tool.approved"
	EventDenied   = "tool.denied"
	EventSynced   = "tool.sync"
)

// Event is the payload delivered to audit sinks. It only ever carries
// redacted arguments.
type Event struct {
	Type            string         `json:"type"`
	Timestamp       time.Time      `json:"ts"`
	ToolCallID      string         `json:"tool_call_id,omitempty"`
	Tool            string         `json:"tool,omitempty"`
	Status          Status         `json:"status,omitempty"`
	Decision        DecisionKind   `json:"decision,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	RiskScore       float64        `json:"risk_score"`
	PolicyCitations []string       `json:"policy_citations,omitempty"`
	ControlRefs     []string       `json:"control_refs,omitempty"`
	IncidentRefs    []string       `json:"incident_refs,omitempty"`
	Args            map[string]any `json:"args,omitempty"`
	Actor           string         `json:"actor,omitempty"`
	Server          string         `json:"server,omitempty"`
	Count           int            `json:"count,omitempty"`
}

// EventForRecord builds the sink event describing the current state of rec.
func EventForRecord(eventType string, rec Record) Event {
	ev := Event{
		Type:            eventType,
		Timestamp:       time.Now().UTC(),
		ToolCallID:      rec.ToolCall.ID,
		Tool:            rec.ToolCall.ToolName,
		Status:          rec.ToolCall.Status,
		Decision:        rec.Decision.Kind,
		Reason:          rec.Decision.Reason,
		RiskScore:       rec.Decision.RiskScore,
		PolicyCitations: rec.Decision.PolicyCitations,
		ControlRefs:     rec.Decision.ControlRefs,
		IncidentRefs:    rec.Decision.IncidentRefs,
		Args:            rec.ToolCall.RedactedArgs,
	}
	if rec.ToolCall.ApprovedBy != nil {
		ev.Actor = *rec.ToolCall.ApprovedBy
	}
	return ev
}

// EventTypeFor maps a status to the event emitted when a record reaches it.
func EventTypeFor(s Status) string {
	switch s {
	case StatusPending:
		return EventPending
	case StatusApproved:
		return EventApproved
	case StatusDenied:
		return EventDenied
	case StatusExecuted:
		return EventExecuted
	case StatusExecutionFailed:
		return EventFailed
	case StatusBlocked:
		return EventBlocked
	default:
		return EventProposed
	}
}
