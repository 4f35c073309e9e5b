package policy

import (
	"sync"
	"testing"

	"github.com/ppiankov/sentinel/internal/model"
)

func TestLongestPrefixWins(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{Prefix: "fs.", Decision: model.Allow, Reason: "fs"},
		{Prefix: "fs.write", Decision: model.ApprovalRequired, Reason: "write"},
		{Prefix: "fs.write_file", Decision: model.Block, Reason: "write_file"},
	}, false)

	tests := []struct {
		tool   string
		want   model.DecisionKind
		reason string
	}{
		{"fs.list_dir", model.Allow, "fs"},
		{"fs.write_bytes", model.ApprovalRequired, "write"},
		{"fs.write_file", model.Block, "write_file"},
		{"fs.write_file_v2", model.Block, "write_file"},
	}
	for _, tt := range tests {
		d := rs.Evaluate(tt.tool, nil)
		if d.Kind != tt.want || d.Reason != tt.reason {
			t.Errorf("%s: got %s/%q, want %s/%q", tt.tool, d.Kind, d.Reason, tt.want, tt.reason)
		}
	}
}

func TestSamePrefixLastRegisteredWins(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{Prefix: "db.", Decision: model.Allow, Reason: "first"},
		{Prefix: "db.", Decision: model.Block, Reason: "second"},
	}, false)

	d := rs.Evaluate("db.query", nil)
	if d.Kind != model.Block || d.Reason != "second" {
		t.Errorf("expected last registered rule, got %s/%q", d.Kind, d.Reason)
	}
	if len(rs.Rules()) != 2 {
		t.Errorf("expected both rules retained in registration order, got %d", len(rs.Rules()))
	}
}

func TestNoMatchBlocks(t *testing.T) {
	rs := NewRuleSet([]Rule{{Prefix: "fs.", Decision: model.Allow}}, false)
	d := rs.Evaluate("shell.exec", nil)
	if d.Kind != model.Block {
		t.Fatalf("expected BLOCK, got %s", d.Kind)
	}
	if d.Reason != ReasonNoMatch {
		t.Errorf("expected reason %q, got %q", ReasonNoMatch, d.Reason)
	}
	if d.RiskScore != 1 {
		t.Errorf("expected risk 1, got %v", d.RiskScore)
	}
}

func TestAllowUnknownBypassIsFlagged(t *testing.T) {
	rs := NewRuleSet(nil, true)
	d := rs.Evaluate("anything.at_all", nil)
	if d.Kind != model.Allow {
		t.Fatalf("expected ALLOW, got %s", d.Kind)
	}
	if d.Reason != ReasonUnknownBypass {
		t.Errorf("expected bypass reason, got %q", d.Reason)
	}
}

func TestEmptyPrefixIsCatchAll(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{Prefix: "", Decision: model.ApprovalRequired, Reason: "catch-all"},
		{Prefix: "fs.", Decision: model.Allow, Reason: "fs"},
	}, false)
	if d := rs.Evaluate("net.fetch", nil); d.Kind != model.ApprovalRequired {
		t.Errorf("expected catch-all APPROVAL_REQUIRED, got %s", d.Kind)
	}
	if d := rs.Evaluate("fs.list_dir", nil); d.Kind != model.Allow {
		t.Errorf("expected fs rule, got %s", d.Kind)
	}
}

func TestRiskClamped(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{Prefix: "a.", Decision: model.Allow, Risk: -3},
		{Prefix: "b.", Decision: model.Block, Risk: 7},
	}, false)
	if d := rs.Evaluate("a.x", nil); d.RiskScore != 0 {
		t.Errorf("expected risk clamped to 0, got %v", d.RiskScore)
	}
	if d := rs.Evaluate("b.x", nil); d.RiskScore != 1 {
		t.Errorf("expected risk clamped to 1, got %v", d.RiskScore)
	}
}

func TestUnicodeNamesNormalized(t *testing.T) {
	// "é" precomposed vs "e" + combining acute.
	rs := NewRuleSet([]Rule{{Prefix: "caf\u00e9.", Decision: model.Allow}}, false)
	if d := rs.Evaluate("cafe\u0301.order", nil); d.Kind != model.Allow {
		t.Errorf("expected NFC-equivalent names to match, got %s", d.Kind)
	}
}

func TestDefaultRulesFilesystem(t *testing.T) {
	rs := Default()
	tests := []struct {
		name string
		tool string
		args map[string]any
		want model.DecisionKind
		risk float64
	}{
		{"list", "fs.list_dir", map[string]any{"path": "/sandbox"}, model.Allow, 0},
		{"read plain", "fs.read_file", map[string]any{"path": "/sandbox/notes.txt"}, model.Allow, 0},
		{"read env", "fs.read_file", map[string]any{"path": "/app/.env"}, model.Block, 1},
		{"read pem", "fs.read_file", map[string]any{"path": "/etc/tls/server.pem"}, model.Block, 1},
		{"write sandbox", "fs.write_file", map[string]any{"path": "/sandbox/out.txt"}, model.ApprovalRequired, 0.7},
		{"write relative", "fs.write_file", map[string]any{"path": "out.txt"}, model.ApprovalRequired, 0.7},
		{"write outside", "fs.write_file", map[string]any{"path": "/etc/passwd"}, model.Block, 1},
		{"write escape", "fs.write_file", map[string]any{"path": "/sandbox/../etc/passwd"}, model.Block, 1},
		{"write sibling", "fs.write_file", map[string]any{"path": "/sandboxed/x"}, model.Block, 1},
		{"write missing path", "fs.write_file", map[string]any{}, model.Block, 1},
		{"write non-string", "fs.write_file", map[string]any{"path": 42}, model.Block, 1},
		{"unknown", "shell.exec", nil, model.Block, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := rs.Evaluate(tt.tool, tt.args)
			if d.Kind != tt.want {
				t.Errorf("got %s (%s), want %s", d.Kind, d.Reason, tt.want)
			}
			if d.RiskScore != tt.risk {
				t.Errorf("got risk %v, want %v", d.RiskScore, tt.risk)
			}
		})
	}
}

func TestSandboxGuardOnRead(t *testing.T) {
	rs := NewRuleSet([]Rule{{
		Prefix:   "fs.read_file",
		Decision: model.Allow,
		PolicyID: "P-FS-READ-001",
		Guards: []Guard{{
			Arg: "path", Within: "/sandbox", Decision: model.Block, Risk: 1,
			Reason: "path must be under /sandbox", PolicyID: "P-SANDBOX-001",
		}},
	}}, false)

	d := rs.Evaluate("fs.read_file", map[string]any{"path": "/etc/passwd"})
	if d.Kind != model.Block {
		t.Fatalf("expected BLOCK, got %s", d.Kind)
	}
	if d.RuleID != "P-SANDBOX-001" {
		t.Errorf("expected guard policy id, got %q", d.RuleID)
	}
}

func TestDecisionSlicesNonNil(t *testing.T) {
	d := Default().Evaluate("fs.list_dir", nil)
	if d.PolicyCitations == nil || d.ControlRefs == nil || d.IncidentRefs == nil {
		t.Error("expected non-nil citation slices")
	}
}

func TestEngineSwapIsAtomic(t *testing.T) {
	allow := NewRuleSet([]Rule{{Prefix: "x.", Decision: model.Allow, Reason: "allow"}}, false)
	block := NewRuleSet([]Rule{{Prefix: "x.", Decision: model.Block, Reason: "block"}}, false)
	e := NewEngine(allow)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				d := e.Evaluate("x.y", nil)
				// Kind and reason always come from the same snapshot.
				if (d.Kind == model.Allow) != (d.Reason == "allow") {
					t.Errorf("torn decision: %s/%q", d.Kind, d.Reason)
					return
				}
			}
		}()
	}
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			e.Swap(block)
		} else {
			e.Swap(allow)
		}
	}
	wg.Wait()
}

func TestNilEngineRulesBlock(t *testing.T) {
	e := NewEngine(nil)
	if d := e.Evaluate("fs.list_dir", nil); d.Kind != model.Block {
		t.Errorf("expected BLOCK with no rules, got %s", d.Kind)
	}
}
