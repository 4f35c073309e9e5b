// Package citation resolves the policy, control and incident identifiers
// that ground a decision. Lookups are identifier-only and deterministic.
package citation

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Graph is a read-only view over the relationship graph.
//
// Edges: Policy APPLIES_TO Tool, Policy MITIGATED_BY Control,
// Incident INVOLVED_TOOL Tool, Incident RELATED_TO_POLICY Policy.
// Every method returns identifiers in edge insertion order.
type Graph interface {
	PoliciesApplyingTo(tool string) []string
	ControlsMitigating(policy string) []string
	IncidentsInvolving(tool string) []string
	PoliciesRelatedTo(incident string) []string
}

// MemoryGraph is an in-process Graph. It is immutable once built.
type MemoryGraph struct {
	appliesTo       map[string][]string // tool -> policies
	mitigatedBy     map[string][]string // policy -> controls
	involvedTool    map[string][]string // tool -> incidents
	relatedToPolicy map[string][]string // incident -> policies
}

// Builder accumulates edges for a MemoryGraph.
type Builder struct {
	g *MemoryGraph
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{g: &MemoryGraph{
		appliesTo:       make(map[string][]string),
		mitigatedBy:     make(map[string][]string),
		involvedTool:    make(map[string][]string),
		relatedToPolicy: make(map[string][]string),
	}}
}

// AppliesTo adds Policy APPLIES_TO Tool.
func (b *Builder) AppliesTo(policy, tool string) *Builder {
	b.g.appliesTo[tool] = appendUnique(b.g.appliesTo[tool], policy)
	return b
}

// MitigatedBy adds Policy MITIGATED_BY Control.
func (b *Builder) MitigatedBy(policy, control string) *Builder {
	b.g.mitigatedBy[policy] = appendUnique(b.g.mitigatedBy[policy], control)
	return b
}

// InvolvedTool adds Incident INVOLVED_TOOL Tool.
func (b *Builder) InvolvedTool(incident, tool string) *Builder {
	b.g.involvedTool[tool] = appendUnique(b.g.involvedTool[tool], incident)
	return b
}

// RelatedToPolicy adds Incident RELATED_TO_POLICY Policy.
func (b *Builder) RelatedToPolicy(incident, policy string) *Builder {
	b.g.relatedToPolicy[incident] = appendUnique(b.g.relatedToPolicy[incident], policy)
	return b
}

// Build returns the graph. The Builder must not be used afterwards.
func (b *Builder) Build() *MemoryGraph {
	g := b.g
	b.g = nil
	return g
}

func (g *MemoryGraph) PoliciesApplyingTo(tool string) []string { return g.lookup(g.appliesTo, tool) }
func (g *MemoryGraph) ControlsMitigating(policy string) []string {
	return g.lookup(g.mitigatedBy, policy)
}
func (g *MemoryGraph) IncidentsInvolving(tool string) []string { return g.lookup(g.involvedTool, tool) }
func (g *MemoryGraph) PoliciesRelatedTo(incident string) []string {
	return g.lookup(g.relatedToPolicy, incident)
}

func (g *MemoryGraph) lookup(m map[string][]string, key string) []string {
	if g == nil {
		return nil
	}
	return append([]string(nil), m[key]...)
}

// seedFile is the on-disk shape of a graph seed.
type seedFile struct {
	Policies []struct {
		ID          string   `yaml:"id"`
		AppliesTo   []string `yaml:"applies_to"`
		MitigatedBy []string `yaml:"mitigated_by"`
	} `yaml:"policies"`
	Incidents []struct {
		ID              string   `yaml:"id"`
		InvolvedTools   []string `yaml:"involved_tools"`
		RelatedPolicies []string `yaml:"related_policies"`
	} `yaml:"incidents"`
}

// LoadGraph reads a YAML graph seed. Missing file returns DefaultGraph.
func LoadGraph(path string) (*MemoryGraph, error) {
	if path == "" {
		return DefaultGraph(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultGraph(), nil
		}
		return nil, fmt.Errorf("failed to read citation graph: %w", err)
	}
	return ParseGraph(data)
}

// ParseGraph decodes a YAML graph seed.
func ParseGraph(data []byte) (*MemoryGraph, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse citation graph: %w", err)
	}
	b := NewBuilder()
	for _, p := range seed.Policies {
		if p.ID == "" {
			return nil, fmt.Errorf("failed to parse citation graph: policy without id")
		}
		for _, t := range p.AppliesTo {
			b.AppliesTo(p.ID, t)
		}
		for _, c := range p.MitigatedBy {
			b.MitigatedBy(p.ID, c)
		}
	}
	for _, i := range seed.Incidents {
		if i.ID == "" {
			return nil, fmt.Errorf("failed to parse citation graph: incident without id")
		}
		for _, t := range i.InvolvedTools {
			b.InvolvedTool(i.ID, t)
		}
		for _, p := range i.RelatedPolicies {
			b.RelatedToPolicy(i.ID, p)
		}
	}
	return b.Build(), nil
}

// DefaultGraph returns the built-in graph covering the filesystem tools.
func DefaultGraph() *MemoryGraph {
	return NewBuilder().
		AppliesTo("P-SANDBOX-001", "fs.read_file").
		AppliesTo("P-SANDBOX-001", "fs.write_file").
		AppliesTo("P-SANDBOX-001", "fs.list_dir").
		AppliesTo("P-SECRETS-001", "fs.read_file").
		AppliesTo("P-APPROVAL-001", "fs.write_file").
		MitigatedBy("P-SANDBOX-001", "C-PATH-CONFINEMENT").
		MitigatedBy("P-SECRETS-001", "C-SECRET-DENYLIST").
		MitigatedBy("P-SECRETS-001", "C-ARG-REDACTION").
		MitigatedBy("P-APPROVAL-001", "C-HUMAN-APPROVAL").
		InvolvedTool("INC-2024-001", "fs.read_file").
		RelatedToPolicy("INC-2024-001", "P-SECRETS-001").
		InvolvedTool("INC-2024-002", "fs.write_file").
		RelatedToPolicy("INC-2024-002", "P-SANDBOX-001").
		Build()
}

// Holder serves the current graph and lets a reload replace it whole.
type Holder struct {
	g atomic.Pointer[MemoryGraph]
}

// NewHolder returns a Holder serving g.
func NewHolder(g *MemoryGraph) *Holder {
	h := &Holder{}
	h.g.Store(g)
	return h
}

// Swap installs g and returns the previous graph.
func (h *Holder) Swap(g *MemoryGraph) *MemoryGraph { return h.g.Swap(g) }

func (h *Holder) PoliciesApplyingTo(tool string) []string {
	return h.g.Load().PoliciesApplyingTo(tool)
}
func (h *Holder) ControlsMitigating(policy string) []string {
	return h.g.Load().ControlsMitigating(policy)
}
func (h *Holder) IncidentsInvolving(tool string) []string {
	return h.g.Load().IncidentsInvolving(tool)
}
func (h *Holder) PoliciesRelatedTo(incident string) []string {
	return h.g.Load().PoliciesRelatedTo(incident)
}

// Snapshot returns the graph currently served.
func (h *Holder) Snapshot() *MemoryGraph { return h.g.Load() }

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
