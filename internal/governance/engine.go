// Package governance composes policy evaluation, citation, persistence,
// approval and routing into the operations agents and approvers call.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/sentinel/internal/approval"
	"github.com/ppiankov/sentinel/internal/audit"
	"github.com/ppiankov/sentinel/internal/backend"
	"github.com/ppiankov/sentinel/internal/citation"
	"github.com/ppiankov/sentinel/internal/metrics"
	"github.com/ppiankov/sentinel/internal/model"
	"github.com/ppiankov/sentinel/internal/policy"
	"github.com/ppiankov/sentinel/internal/redact"
	"github.com/ppiankov/sentinel/internal/router"
)

// DefaultPendingLimit caps PendingApprovals when no limit is given.
const DefaultPendingLimit = 20

// Rule ids attached to decisions the engine overrides after evaluation.
const (
	RuleUnresolved  = "router.unresolved_backend"
	RuleInvalidArgs = "router.invalid_arguments"
)

// Argument keys carrying orchestrator metadata. Keys starting with "__"
// are stripped before evaluation and never reach a backend.
const (
	metaPrefix       = "__"
	metaOrchestrator = "__orchestrator"
	metaAgentRole    = "__agent_role"
	defaultMetaValue = "manual"
)

// Config wires the engine's collaborators. Policy, Router and Recorder are
// required.
type Config struct {
	Policy   *policy.Engine
	Graph    citation.Graph
	Router   *router.Router
	Recorder *audit.Recorder
	Redactor *redact.Redactor
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	// Now and NewID are overridable for tests.
	Now   func() time.Time
	NewID func() string
}

// Engine is the governance facade. It is safe for concurrent use.
type Engine struct {
	policy   *policy.Engine
	graph    citation.Graph
	router   *router.Router
	recorder *audit.Recorder
	redactor *redact.Redactor
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Policy == nil {
		return nil, fmt.Errorf("governance: policy engine required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("governance: router required")
	}
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("governance: recorder required")
	}
	e := &Engine{
		policy:   cfg.Policy,
		graph:    cfg.Graph,
		router:   cfg.Router,
		recorder: cfg.Recorder,
		redactor: cfg.Redactor,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
		newID:    cfg.NewID,
	}
	if e.redactor == nil {
		e.redactor = redact.New()
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e, nil
}

// Proposal is the answer to ProposeToolCall.
type Proposal struct {
	ID              string             `json:"tool_call_id"`
	Tool            string             `json:"tool"`
	Decision        model.DecisionKind `json:"decision"`
	Reason          string             `json:"reason"`
	RiskScore       float64            `json:"risk_score"`
	RuleID          string             `json:"rule_id,omitempty"`
	PolicyCitations []string           `json:"policy_citations"`
	ControlRefs     []string           `json:"control_refs"`
	IncidentRefs    []string           `json:"incident_refs"`
	Status          model.Status       `json:"status"`
	Result          *string            `json:"result,omitempty"`
	Error           *string            `json:"error,omitempty"`
}

func proposalFor(rec model.Record) *Proposal {
	return &Proposal{
		ID:              rec.ToolCall.ID,
		Tool:            rec.ToolCall.ToolName,
		Decision:        rec.Decision.Kind,
		Reason:          rec.Decision.Reason,
		RiskScore:       rec.Decision.RiskScore,
		RuleID:          rec.Decision.RuleID,
		PolicyCitations: rec.Decision.PolicyCitations,
		ControlRefs:     rec.Decision.ControlRefs,
		IncidentRefs:    rec.Decision.IncidentRefs,
		Status:          rec.ToolCall.Status,
		Result:          rec.ToolCall.Result,
		Error:           rec.ToolCall.Error,
	}
}

// Resolution is the answer to ApproveToolCall and DenyToolCall.
type Resolution struct {
	ID           string       `json:"tool_call_id"`
	Status       model.Status `json:"status"`
	ApprovedAt   *time.Time   `json:"approved_at,omitempty"`
	ApprovedBy   *string      `json:"approved_by,omitempty"`
	ApprovalNote *string      `json:"approval_note,omitempty"`
	Result       *string      `json:"result,omitempty"`
	Error        *string      `json:"error,omitempty"`
}

func resolutionFor(rec model.Record) *Resolution {
	return &Resolution{
		ID:           rec.ToolCall.ID,
		Status:       rec.ToolCall.Status,
		ApprovedAt:   rec.ToolCall.ApprovedAt,
		ApprovedBy:   rec.ToolCall.ApprovedBy,
		ApprovalNote: rec.ToolCall.ApprovalNote,
		Result:       rec.ToolCall.Result,
		Error:        rec.ToolCall.Error,
	}
}

// ProposeToolCall evaluates a tool call, persists exactly one decision for
// it and, for ALLOW, dispatches it.
//
// The returned Proposal always carries a non-empty id once the decision is
// persisted. A non-nil error alongside a Proposal reports why the call did
// not execute: ErrUnresolvedBackend or ErrInvalidArguments (persisted as
// BLOCK), or a dispatch failure (persisted as EXECUTION_FAILED). A nil
// Proposal means the decision could not be persisted.
func (e *Engine) ProposeToolCall(ctx context.Context, tool string, args map[string]any) (*Proposal, error) {
	start := e.now()
	toolArgs, orchestrator, agent := splitMeta(args)

	decision := e.policy.Evaluate(tool, toolArgs)
	cites := citation.Cite(e.graph, tool)
	decision.PolicyCitations = cites.Policies
	decision.ControlRefs = cites.Controls
	decision.IncidentRefs = cites.Incidents

	// Routing and argument checks only matter for calls that may execute.
	var outcome error
	if decision.Kind != model.Block {
		if _, err := e.router.Resolve(tool); err != nil {
			decision = overrideBlock(decision, fmt.Sprintf("no backend registered for the namespace of %s", tool), RuleUnresolved)
			outcome = err
		} else if err := e.router.Validate(tool, toolArgs); err != nil {
			decision = overrideBlock(decision, err.Error(), RuleInvalidArgs)
			outcome = err
		}
	}

	call := model.ToolCall{
		ID:           e.newID(),
		ToolName:     tool,
		Args:         toolArgs,
		RedactedArgs: e.redactor.Args(toolArgs),
		CreatedAt:    start.UTC(),
		Orchestrator: orchestrator,
		AgentID:      agent,
	}

	dispatched := false
	if decision.Kind == model.Allow {
		res, err := e.router.Dispatch(ctx, tool, toolArgs)
		dispatched = true
		if err != nil {
			msg := redact.String(err.Error())
			call.Error = &msg
			outcome = err
		} else {
			s := res.String()
			call.Result = &s
		}
	}
	call.Status = approval.InitialStatus(decision.Kind, dispatched, outcome)

	// Persist even if the caller has gone away.
	rec, err := e.recorder.Record(context.WithoutCancel(ctx), call, decision)
	if err != nil {
		e.logger.Error("decision not persisted", "tool", tool, "decision", decision.Kind, "error", err)
		return nil, err
	}
	e.metrics.ObserveDecision(tool, string(decision.Kind), e.now().Sub(start))
	e.logger.Info("tool call decided",
		"tool_call_id", rec.ToolCall.ID,
		"tool", tool,
		"decision", decision.Kind,
		"status", rec.ToolCall.Status,
		"rule_id", decision.RuleID)

	return proposalFor(rec), outcome
}

// ApproveToolCall moves a PENDING call to APPROVED, dispatches it and
// records EXECUTED or EXECUTION_FAILED. A dispatch failure is returned
// alongside the persisted Resolution. ErrStateConflict means the call was
// not PENDING; its status is unchanged.
func (e *Engine) ApproveToolCall(ctx context.Context, id, note, approver string) (*Resolution, error) {
	persistCtx := context.WithoutCancel(ctx)
	rec, err := e.recorder.ApplyApproval(persistCtx, approval.Approve(id, note, approver, e.now()))
	if err != nil {
		e.observeResolution(err, "approved")
		return nil, err
	}
	e.observeResolution(nil, "approved")

	res, dispatchErr := e.router.Dispatch(ctx, rec.ToolCall.ToolName, rec.ToolCall.Args)
	var t approval.Transition
	if dispatchErr != nil {
		t = approval.Failed(id, errors.New(redact.String(dispatchErr.Error())), e.now())
	} else {
		t = approval.Executed(id, res.String(), e.now())
	}
	rec, err = e.recorder.ApplyApproval(persistCtx, t)
	if err != nil {
		return nil, fmt.Errorf("record execution of %s: %w", id, err)
	}
	e.logger.Info("tool call approved",
		"tool_call_id", id, "approved_by", deref(rec.ToolCall.ApprovedBy), "status", rec.ToolCall.Status)
	return resolutionFor(rec), dispatchErr
}

// DenyToolCall moves a PENDING call to DENIED. Nothing is dispatched.
func (e *Engine) DenyToolCall(ctx context.Context, id, note, approver string) (*Resolution, error) {
	rec, err := e.recorder.ApplyApproval(context.WithoutCancel(ctx), approval.Deny(id, note, approver, e.now()))
	e.observeResolution(err, "denied")
	if err != nil {
		return nil, err
	}
	e.logger.Info("tool call denied", "tool_call_id", id, "denied_by", deref(rec.ToolCall.ApprovedBy))
	return resolutionFor(rec), nil
}

// PendingApprovals lists PENDING calls, oldest first.
func (e *Engine) PendingApprovals(ctx context.Context, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	return e.recorder.List(ctx, audit.Filter{Status: model.StatusPending, Ascending: true, Limit: limit})
}

// Decisions lists recent calls of any status, newest first.
func (e *Engine) Decisions(ctx context.Context, limit int) ([]model.Record, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	return e.recorder.List(ctx, audit.Filter{Limit: limit})
}

// Get returns one call and its decision.
func (e *Engine) Get(ctx context.Context, id string) (model.Record, error) {
	return e.recorder.Get(ctx, id)
}

// SyncResult reports a tool sync.
type SyncResult struct {
	ServerName string `json:"server_name"`
	ToolCount  int    `json:"tool_count"`
}

// RegisterMcpServer registers (or updates, matched by name or prefix) a
// remote MCP server owning toolPrefix.
func (e *Engine) RegisterMcpServer(ctx context.Context, name, baseURL, toolPrefix, authHeader, authToken string) (model.BackendRegistration, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.BackendRegistration{}, fmt.Errorf("server name required")
	}
	u, err := backend.ValidateBaseURL(strings.TrimSpace(baseURL))
	if err != nil {
		return model.BackendRegistration{}, err
	}
	reg := model.BackendRegistration{
		Name:       name,
		Kind:       model.BackendRemote,
		BaseURL:    u,
		ToolPrefix: strings.TrimSpace(toolPrefix),
		AuthHeader: authHeader,
		AuthToken:  authToken,
	}
	return e.RegisterBackend(ctx, reg)
}

// RegisterBackend registers a backend of any kind.
func (e *Engine) RegisterBackend(_ context.Context, reg model.BackendRegistration) (model.BackendRegistration, error) {
	b, err := backend.Build(reg)
	if err != nil {
		return model.BackendRegistration{}, err
	}
	out, err := e.router.Register(reg, b)
	if err != nil {
		b.Close()
		return model.BackendRegistration{}, err
	}
	return out, nil
}

// SyncMcpTools refreshes the tool list of server.
func (e *Engine) SyncMcpTools(ctx context.Context, server string) (SyncResult, error) {
	n, err := e.router.Sync(ctx, server)
	if err != nil {
		return SyncResult{}, err
	}
	e.recorder.Emit(ctx, model.Event{
		Type:      model.EventSynced,
		Timestamp: e.now().UTC(),
		Server:    server,
		Count:     n,
	})
	return SyncResult{ServerName: server, ToolCount: n}, nil
}

// McpServers lists registrations in registration order.
func (e *Engine) McpServers() []model.BackendRegistration {
	return e.router.Servers()
}

// McpTools lists the synced tools of server.
func (e *Engine) McpTools(server string) ([]model.ToolContract, error) {
	return e.router.Tools(server)
}

func (e *Engine) observeResolution(err error, outcome string) {
	switch {
	case err == nil:
		e.metrics.ObserveResolution(outcome)
	case errors.Is(err, ErrStateConflict):
		e.metrics.ObserveResolution("conflict")
	}
}

// splitMeta separates "__"-prefixed metadata from tool arguments.
func splitMeta(args map[string]any) (map[string]any, string, string) {
	toolArgs := make(map[string]any, len(args))
	orchestrator, agent := defaultMetaValue, defaultMetaValue
	for k, v := range args {
		if !strings.HasPrefix(k, metaPrefix) {
			toolArgs[k] = v
			continue
		}
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		switch k {
		case metaOrchestrator:
			orchestrator = s
		case metaAgentRole:
			agent = s
		}
	}
	return toolArgs, orchestrator, agent
}

func overrideBlock(d model.Decision, reason, ruleID string) model.Decision {
	d.Kind = model.Block
	d.Reason = reason
	d.RiskScore = 1
	d.RuleID = ruleID
	return d
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
