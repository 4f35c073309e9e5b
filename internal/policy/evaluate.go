package policy

import (
	"sync/atomic"

	"github.com/ppiankov/sentinel/internal/model"
)

const (
	// ReasonNoMatch is the reason on the default BLOCK when no rule matches.
	ReasonNoMatch = "no matching policy"
	// ReasonUnknownBypass flags an ALLOW produced by allow_unknown_tools.
	ReasonUnknownBypass = "no matching policy; allowed by allow_unknown_tools bypass"
)

// Evaluate selects the rule for toolName (see Match) and returns its verdict.
// Guards on the matched rule are checked in order; the first one that trips
// decides instead. Citations are left empty for the caller to fill in.
// Evaluate performs no I/O and never fails.
func (rs *RuleSet) Evaluate(toolName string, args map[string]any) model.Decision {
	rule, ok := rs.Match(toolName)
	if !ok {
		if rs.AllowUnknown() {
			return newDecision(model.Allow, ReasonUnknownBypass, 0, "default.allow_unknown")
		}
		return newDecision(model.Block, ReasonNoMatch, 1, "default.no_match")
	}

	for _, g := range rule.Guards {
		if g.trips(args) {
			id := g.PolicyID
			if id == "" {
				id = rule.ID() + ".guard." + g.Arg
			}
			return newDecision(g.Decision, g.Reason, g.Risk, id)
		}
	}

	return newDecision(rule.Decision, rule.Reason, rule.Risk, rule.ID())
}

func newDecision(kind model.DecisionKind, reason string, risk float64, ruleID string) model.Decision {
	return model.Decision{
		Kind:            kind,
		Reason:          reason,
		RiskScore:       clampRisk(risk),
		RuleID:          ruleID,
		PolicyCitations: []string{},
		ControlRefs:     []string{},
		IncidentRefs:    []string{},
	}
}

// Engine holds the active RuleSet. Readers load one snapshot per request;
// reloads replace the whole snapshot so no caller sees a half-updated table.
type Engine struct {
	rules atomic.Pointer[RuleSet]
}

// NewEngine creates an Engine serving rs. A nil rs blocks every tool.
func NewEngine(rs *RuleSet) *Engine {
	e := &Engine{}
	if rs == nil {
		rs = NewRuleSet(nil, false)
	}
	e.rules.Store(rs)
	return e
}

// Snapshot returns the RuleSet currently in force.
func (e *Engine) Snapshot() *RuleSet {
	return e.rules.Load()
}

// Swap atomically installs rs and returns the previous snapshot.
func (e *Engine) Swap(rs *RuleSet) *RuleSet {
	if rs == nil {
		rs = NewRuleSet(nil, false)
	}
	return e.rules.Swap(rs)
}

// Evaluate evaluates against the current snapshot.
func (e *Engine) Evaluate(toolName string, args map[string]any) model.Decision {
	return e.Snapshot().Evaluate(toolName, args)
}
