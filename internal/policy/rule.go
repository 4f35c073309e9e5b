package policy

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/ppiankov/sentinel/internal/model"
)

// Rule maps a tool-name prefix to a verdict.
type Rule struct {
	Prefix   string
	Decision model.DecisionKind
	Risk     float64
	Reason   string
	PolicyID string
	Guards   []Guard
}

// ID returns the identifier recorded on decisions produced by this rule.
func (r Rule) ID() string {
	if r.PolicyID != "" {
		return r.PolicyID
	}
	return "prefix:" + r.Prefix
}

// RuleSet is an immutable snapshot of prefix rules. Build one with
// NewRuleSet and replace it wholesale through Engine.Swap; never mutate.
type RuleSet struct {
	rules        []Rule
	byPrefix     map[string]Rule
	lengths      []int // distinct prefix lengths, longest first
	allowUnknown bool
}

// NewRuleSet builds a snapshot from rules in registration order.
// When two rules share a prefix, the one registered last replaces the earlier.
func NewRuleSet(rules []Rule, allowUnknown bool) *RuleSet {
	rs := &RuleSet{
		byPrefix:     make(map[string]Rule, len(rules)),
		allowUnknown: allowUnknown,
	}
	seen := make(map[int]bool)
	for _, r := range rules {
		r.Prefix = normalizeName(r.Prefix)
		r.Risk = clampRisk(r.Risk)
		r.Guards = append([]Guard(nil), r.Guards...)
		rs.rules = append(rs.rules, r)
		rs.byPrefix[r.Prefix] = r
		if !seen[len(r.Prefix)] {
			seen[len(r.Prefix)] = true
			rs.lengths = append(rs.lengths, len(r.Prefix))
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(rs.lengths)))
	return rs
}

// Rules returns the rules in registration order, including ones shadowed
// by a later rule with the same prefix.
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return nil
	}
	return append([]Rule(nil), rs.rules...)
}

// AllowUnknown reports whether tools with no matching rule are let through.
func (rs *RuleSet) AllowUnknown() bool {
	return rs != nil && rs.allowUnknown
}

// WithAllowUnknown returns a copy of rs with the unknown-tool bypass set.
func (rs *RuleSet) WithAllowUnknown(allow bool) *RuleSet {
	return NewRuleSet(rs.Rules(), allow)
}

// Match returns the rule selecting toolName.
//
// Selection: the rule whose prefix is the longest string prefix of toolName
// wins. Ties on that exact prefix resolve to the rule registered last
// (last-write-wins), which NewRuleSet already folded into byPrefix.
func (rs *RuleSet) Match(toolName string) (Rule, bool) {
	if rs == nil {
		return Rule{}, false
	}
	name := normalizeName(toolName)
	for _, n := range rs.lengths {
		if n > len(name) {
			continue
		}
		if r, ok := rs.byPrefix[name[:n]]; ok {
			return r, true
		}
	}
	return Rule{}, false
}

func normalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func clampRisk(r float64) float64 {
	switch {
	case r < 0:
		return 0
	case r > 1:
		return 1
	default:
		return r
	}
}
