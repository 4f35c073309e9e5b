package citation

// Citations are the identifiers attached to a decision.
type Citations struct {
	Policies  []string `json:"policy_citations"`
	Controls  []string `json:"control_refs"`
	Incidents []string `json:"incident_refs"`
}

// Snapshotter is a Graph whose contents can be replaced while in use.
type Snapshotter interface {
	Snapshot() *MemoryGraph
}

// Cite walks the graph for tool: policies applying to the tool, then the
// policies related to incidents involving it, then every control mitigating
// any of those policies. Each set is de-duplicated in first-seen order.
// A nil graph or unknown tool yields empty, non-nil sets. A graph that can
// be reloaded is pinned to one snapshot for the whole walk.
func Cite(g Graph, tool string) Citations {
	out := Citations{Policies: []string{}, Controls: []string{}, Incidents: []string{}}
	if s, ok := g.(Snapshotter); ok {
		snap := s.Snapshot()
		if snap == nil {
			return out
		}
		g = snap
	}
	if g == nil {
		return out
	}

	seenPolicy := make(map[string]bool)
	addPolicy := func(id string) {
		if id != "" && !seenPolicy[id] {
			seenPolicy[id] = true
			out.Policies = append(out.Policies, id)
		}
	}

	for _, p := range g.PoliciesApplyingTo(tool) {
		addPolicy(p)
	}

	seenIncident := make(map[string]bool)
	for _, i := range g.IncidentsInvolving(tool) {
		if i == "" || seenIncident[i] {
			continue
		}
		seenIncident[i] = true
		out.Incidents = append(out.Incidents, i)
		for _, p := range g.PoliciesRelatedTo(i) {
			addPolicy(p)
		}
	}

	seenControl := make(map[string]bool)
	for _, p := range out.Policies {
		for _, c := range g.ControlsMitigating(p) {
			if c != "" && !seenControl[c] {
				seenControl[c] = true
				out.Controls = append(out.Controls, c)
			}
		}
	}
	return out
}
