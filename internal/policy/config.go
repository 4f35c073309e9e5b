package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sentinel/internal/model"
)

// Defaults applied to rule fields the config leaves out.
const (
	DefaultRuleRisk   = 0.5
	DefaultRuleReason = "Policy prefix match"
)

type guardConfig struct {
	Arg            string   `yaml:"arg"`
	Within         string   `yaml:"within"`
	DenySubstrings []string `yaml:"deny_substrings"`
	Decision       string   `yaml:"decision"`
	Risk           *float64 `yaml:"risk"`
	Reason         string   `yaml:"reason"`
	PolicyID       string   `yaml:"policy_id"`
}

type ruleConfig struct {
	Decision string        `yaml:"decision"`
	Risk     *float64      `yaml:"risk"`
	Reason   string        `yaml:"reason"`
	PolicyID string        `yaml:"policy_id"`
	Guards   []guardConfig `yaml:"guards"`
}

// DefaultRules returns the built-in policy for the filesystem tools:
// listing is allowed, reads are allowed except secret files, writes
// need approval and are blocked outside /sandbox.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "fs.list_dir", Decision: model.Allow, Risk: 0, Reason: "Directory listing allowed", PolicyID: "P-FS-LIST-001"},
		{Prefix: "fs.read_file", Decision: model.Allow, Risk: 0, Reason: "File read allowed", PolicyID: "P-FS-READ-001",
			Guards: []Guard{{
				Arg:            "path",
				DenySubstrings: []string{".env", ".key", ".pem"},
				Decision:       model.Block,
				Risk:           1,
				Reason:         "Access to secret file denied",
				PolicyID:       "P-SECRETS-001",
			}}},
		{Prefix: "fs.write_file", Decision: model.ApprovalRequired, Risk: 0.7, Reason: "Write requires approval", PolicyID: "P-SANDBOX-001",
			Guards: []Guard{{
				Arg:      "path",
				Within:   "/sandbox",
				Decision: model.Block,
				Risk:     1,
				Reason:   "path must be under /sandbox",
				PolicyID: "P-SANDBOX-001",
			}}},
	}
}

// Default returns a RuleSet over DefaultRules.
func Default() *RuleSet {
	return NewRuleSet(DefaultRules(), false)
}

// LoadFile loads a policy from a YAML (or JSON) file.
// Empty path falls back to ~/.sentinel/policy.yaml.
// Missing file returns the default policy. Invalid content returns an error.
func LoadFile(path string) (*RuleSet, error) {
	rs, _, err := LoadFileWithHash(path)
	return rs, err
}

// LoadFileWithHash loads a policy and returns its SHA-256 hash.
// The hash is computed over the raw bytes on disk.
// When no file exists (defaults used), the hash is the SHA-256 of empty input.
func LoadFileWithHash(path string) (*RuleSet, string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Default(), hashBytes(nil), nil
		}
		path = filepath.Join(home, ".sentinel", "policy.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read policy: %w", err)
	}

	rs, err := Parse(data)
	if err != nil {
		return nil, "", err
	}
	return rs, hashBytes(data), nil
}

// Parse decodes a policy document. The top level holds allow_unknown_tools
// and rules, a mapping from prefix to rule. Keys are read in document order,
// so a prefix repeated later in the file overrides the earlier entry.
func Parse(data []byte) (*RuleSet, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse policy: %w", err)
	}
	if len(doc.Content) == 0 {
		return NewRuleSet(nil, false), nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("failed to parse policy: top level must be a mapping")
	}

	var (
		rules        []Rule
		allowUnknown bool
	)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		switch key.Value {
		case "allow_unknown_tools":
			if err := val.Decode(&allowUnknown); err != nil {
				return nil, fmt.Errorf("failed to parse policy: allow_unknown_tools: %w", err)
			}
		case "rules":
			parsed, err := ParseRuleMap(val)
			if err != nil {
				return nil, err
			}
			rules = parsed
		}
	}
	return NewRuleSet(rules, allowUnknown), nil
}

// ParseRuleMap decodes a prefix → rule mapping node in document order.
func ParseRuleMap(node *yaml.Node) ([]Rule, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("failed to parse policy: rules must be a mapping of prefix to rule")
	}
	rules := make([]Rule, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		prefix := node.Content[i].Value
		var rc ruleConfig
		if err := node.Content[i+1].Decode(&rc); err != nil {
			return nil, fmt.Errorf("failed to parse policy rule %q: %w", prefix, err)
		}
		rules = append(rules, rc.toRule(prefix))
	}
	return rules, nil
}

// ParseRulesJSON decodes a bare prefix → rule JSON object, as accepted in
// the SENTINEL_PREFIX_RULES environment variable.
func ParseRulesJSON(data []byte) ([]Rule, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse prefix rules: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	return ParseRuleMap(node.Content[0])
}

func (rc ruleConfig) toRule(prefix string) Rule {
	r := Rule{
		Prefix:   prefix,
		Decision: model.ParseDecisionKind(strings.ToUpper(rc.Decision)),
		Risk:     DefaultRuleRisk,
		Reason:   rc.Reason,
		PolicyID: rc.PolicyID,
	}
	if rc.Decision == "" {
		r.Decision = model.Block
	}
	if rc.Risk != nil {
		r.Risk = *rc.Risk
	}
	if r.Reason == "" {
		r.Reason = DefaultRuleReason
	}
	for _, gc := range rc.Guards {
		g := Guard{
			Arg:            gc.Arg,
			Within:         gc.Within,
			DenySubstrings: gc.DenySubstrings,
			Decision:       model.ParseDecisionKind(strings.ToUpper(gc.Decision)),
			Risk:           1,
			Reason:         gc.Reason,
			PolicyID:       gc.PolicyID,
		}
		if gc.Risk != nil {
			g.Risk = *gc.Risk
		}
		if g.Reason == "" {
			g.Reason = "argument " + gc.Arg + " rejected by policy guard"
		}
		r.Guards = append(r.Guards, g)
	}
	return r
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultConfigYAML returns a commented YAML policy for init-policy.
func DefaultConfigYAML() string {
	return `# sentinel policy
# Generated by: sentinel init-policy
#
# Each key under rules is a tool-name prefix. The longest prefix matching
# the tool name decides. A prefix repeated later in this file replaces
# the earlier entry. Tools matching no prefix are blocked unless
# allow_unknown_tools is true.
#
# Fields:
#   decision:  ALLOW | BLOCK | APPROVAL_REQUIRED (anything else is BLOCK)
#   risk:      0.0 - 1.0 (default 0.5)
#   reason:    recorded on the decision (default "Policy prefix match")
#   policy_id: identifier recorded on the decision
#   guards:    argument checks; the first one that trips decides instead
#     arg:             argument name
#     within:          path root the argument must stay under
#     deny_substrings: substrings the argument must not contain

allow_unknown_tools: false

rules:
  fs.list_dir:
    decision: ALLOW
    risk: 0
    reason: Directory listing allowed
    policy_id: P-FS-LIST-001

  fs.read_file:
    decision: ALLOW
    risk: 0
    reason: File read allowed
    policy_id: P-FS-READ-001
    guards:
      - arg: path
        deny_substrings: [".env", ".key", ".pem"]
        decision: BLOCK
        risk: 1.0
        reason: Access to secret file denied
        policy_id: P-SECRETS-001

  fs.write_file:
    decision: APPROVAL_REQUIRED
    risk: 0.7
    reason: Write requires approval
    policy_id: P-SANDBOX-001
    guards:
      - arg: path
        within: /sandbox
        decision: BLOCK
        risk: 1.0
        reason: path must be under /sandbox
        policy_id: P-SANDBOX-001
`
}
