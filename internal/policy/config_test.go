package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/sentinel/internal/model"
)

func TestLoadFileMissingFile(t *testing.T) {
	rs, hash, err := LoadFileWithHash("/nonexistent/path/policy.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if len(rs.Rules()) != len(DefaultRules()) {
		t.Errorf("expected default rules, got %d", len(rs.Rules()))
	}
	if hash != hashBytes(nil) {
		t.Errorf("expected empty-input hash, got %s", hash)
	}
}

func TestLoadFileFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	content := `
allow_unknown_tools: true
rules:
  "fs.":
    decision: allow
    risk: 0
  "fs.write_file":
    decision: APPROVAL_REQUIRED
    risk: 0.7
    reason: writes need a human
    policy_id: P-WRITE
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	rs, hash, err := LoadFileWithHash(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(hash, "sha256:") {
		t.Errorf("expected sha256 hash, got %s", hash)
	}
	if !rs.AllowUnknown() {
		t.Error("expected allow_unknown_tools to be read")
	}

	d := rs.Evaluate("fs.write_file", nil)
	if d.Kind != model.ApprovalRequired || d.RiskScore != 0.7 || d.Reason != "writes need a human" {
		t.Errorf("unexpected decision %+v", d)
	}
	if d.RuleID != "P-WRITE" {
		t.Errorf("expected rule id P-WRITE, got %q", d.RuleID)
	}
	if d := rs.Evaluate("fs.list_dir", nil); d.Kind != model.Allow || d.RiskScore != 0 {
		t.Errorf("expected explicit risk 0 to be kept, got %+v", d)
	}
}

func TestParseDuplicatePrefixLastWins(t *testing.T) {
	rs, err := Parse([]byte(`
rules:
  "net.":
    decision: ALLOW
    reason: first
  "net.":
    decision: BLOCK
    reason: second
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := rs.Evaluate("net.fetch", nil)
	if d.Kind != model.Block || d.Reason != "second" {
		t.Errorf("expected later duplicate to win, got %s/%q", d.Kind, d.Reason)
	}
}

func TestParseRuleDefaults(t *testing.T) {
	rs, err := Parse([]byte(`{"rules": {"a.": {}, "b.": {"decision": "sometimes"}, "c.": {"decision": "ALLOW"}}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a := rs.Evaluate("a.x", nil)
	if a.Kind != model.Block || a.RiskScore != DefaultRuleRisk || a.Reason != DefaultRuleReason {
		t.Errorf("expected defaults BLOCK/0.5/%q, got %+v", DefaultRuleReason, a)
	}
	if b := rs.Evaluate("b.x", nil); b.Kind != model.Block {
		t.Errorf("expected invalid decision to fail closed, got %s", b.Kind)
	}
	if c := rs.Evaluate("c.x", nil); c.RuleID != "prefix:c." {
		t.Errorf("expected generated rule id, got %q", c.RuleID)
	}
}

func TestParseGuards(t *testing.T) {
	rs, err := Parse([]byte(`
rules:
  fs.read_file:
    decision: ALLOW
    guards:
      - arg: path
        within: /sandbox
        decision: BLOCK
        policy_id: P-SANDBOX-001
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := rs.Evaluate("fs.read_file", map[string]any{"path": "/etc/passwd"})
	if d.Kind != model.Block || d.RiskScore != 1 {
		t.Errorf("expected guard BLOCK risk 1, got %+v", d)
	}
	if d.RuleID != "P-SANDBOX-001" {
		t.Errorf("expected guard policy id, got %q", d.RuleID)
	}
	if d := rs.Evaluate("fs.read_file", map[string]any{"path": "/sandbox/a.txt"}); d.Kind != model.Allow {
		t.Errorf("expected ALLOW inside sandbox, got %s", d.Kind)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, doc := range []string{
		"rules: [1, 2]",
		"- just\n- a list",
		"rules:\n  a.: {guards: 7}",
		"{{{",
	} {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("expected error for %q", doc)
		}
	}
}

func TestParseRulesJSON(t *testing.T) {
	rules, err := ParseRulesJSON([]byte(`{"mcp.": {"decision": "ALLOW", "risk": 0.2}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rules) != 1 || rules[0].Prefix != "mcp." || rules[0].Decision != model.Allow {
		t.Errorf("unexpected rules %+v", rules)
	}
}

func TestDefaultConfigYAMLMatchesDefaults(t *testing.T) {
	rs, err := Parse([]byte(DefaultConfigYAML()))
	if err != nil {
		t.Fatalf("default YAML does not parse: %v", err)
	}
	def := Default()
	probes := []struct {
		tool string
		args map[string]any
	}{
		{"fs.list_dir", map[string]any{"path": "/sandbox"}},
		{"fs.read_file", map[string]any{"path": "/sandbox/.env"}},
		{"fs.read_file", map[string]any{"path": "/sandbox/a.txt"}},
		{"fs.write_file", map[string]any{"path": "/tmp/x"}},
		{"fs.write_file", map[string]any{"path": "/sandbox/x"}},
		{"other.tool", nil},
	}
	for _, p := range probes {
		got, want := rs.Evaluate(p.tool, p.args), def.Evaluate(p.tool, p.args)
		if got.Kind != want.Kind || got.RiskScore != want.RiskScore || got.Reason != want.Reason {
			t.Errorf("%s %v: yaml %+v, builtin %+v", p.tool, p.args, got, want)
		}
	}
}
