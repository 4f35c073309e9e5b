package router

import (
	"regexp"
	"sort"
	"strings"

	"github.com/ppiankov/sentinel/internal/backend"
	"github.com/ppiankov/sentinel/internal/model"
)

// Classifier picks which tools of a shared catalogue belong to a logical
// server. One stdio gateway often fronts many servers, and its tool list
// carries no ownership information, so the split is a heuristic.
type Classifier struct {
	// Markers maps a server name (or "*") to explicit markers. A marker
	// matches a tool whose name equals it, starts with it, or whose name,
	// description or title contains it case-insensitively.
	Markers map[string][]string
	// CatalogServer is the name that owns the whole catalogue unfiltered.
	CatalogServer string
}

var (
	nonSlugRe   = regexp.MustCompile(`[^a-z0-9]+`)
	splitRe     = regexp.MustCompile(`[_\-.]+`)
	nonPrefixRe = regexp.MustCompile(`[^a-z0-9_]+`)
)

// Filter returns the tools of catalogue that belong to server. Without
// explicit markers it derives markers from the server name; if those match
// nothing, the full catalogue is returned so new servers stay usable.
func (c Classifier) Filter(server string, catalogue []backend.Tool) []backend.Tool {
	markers := c.Markers[server]
	if len(markers) == 0 {
		markers = c.Markers["*"]
	}
	explicit := len(markers) > 0

	if !explicit {
		if server == c.CatalogServer {
			return catalogue
		}
		for _, token := range NameMarkers(server) {
			markers = append(markers, token+"_", token+".", token)
		}
	}
	if len(markers) == 0 {
		return catalogue
	}

	var out []backend.Tool
	for _, t := range catalogue {
		if t.Name == "" {
			continue
		}
		searchable := strings.ToLower(t.Name + " " + t.Description + " " + t.Title)
		for _, m := range markers {
			if t.Name == m || strings.HasPrefix(t.Name, m) || strings.Contains(searchable, strings.ToLower(m)) {
				out = append(out, t)
				break
			}
		}
	}
	if len(out) == 0 && !explicit {
		return catalogue
	}
	return out
}

// NameMarkers derives candidate tokens from a server name: the whole slug,
// then its parts longest first. Tokens shorter than three characters are
// dropped.
func NameMarkers(server string) []string {
	slug := strings.Trim(nonSlugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(server)), "_"), "_")
	if slug == "" {
		return nil
	}
	var parts []string
	for _, p := range splitRe.Split(slug, -1) {
		if p != "" {
			parts = append(parts, p)
		}
	}
	sort.SliceStable(parts, func(i, j int) bool { return len(parts[i]) > len(parts[j]) })

	candidates := append([]string{slug}, parts...)
	out := candidates[:0]
	for _, c := range candidates {
		if len(c) >= 3 {
			out = append(out, c)
		}
	}
	return out
}

// DefaultPrefix returns the namespace prefix for a server without an
// explicit one: an override if configured, else its slug plus ".".
func DefaultPrefix(server string, overrides map[string]string) string {
	if p := strings.TrimSpace(overrides[server]); p != "" {
		return withDot(p)
	}
	slug := strings.Trim(nonPrefixRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(server)), "_"), "_")
	if slug == "" {
		slug = "gateway"
	}
	return slug + "."
}

// Namespace maps backend tools to contracts under prefix. Names already
// carrying the prefix are kept as is.
func Namespace(server, prefix string, tools []backend.Tool) []model.ToolContract {
	out := make([]model.ToolContract, 0, len(tools))
	for _, t := range tools {
		raw := strings.TrimSpace(t.Name)
		if raw == "" {
			continue
		}
		name := raw
		if !strings.HasPrefix(raw, prefix) {
			name = prefix + raw
		}
		out = append(out, model.ToolContract{
			Name:        name,
			RawName:     raw,
			Server:      server,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}
	return out
}

func withDot(p string) string {
	if strings.HasSuffix(p, ".") {
		return p
	}
	return p + "."
}
