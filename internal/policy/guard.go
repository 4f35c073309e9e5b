package policy

import (
	"path"
	"strings"

	"github.com/ppiankov/sentinel/internal/model"
)

// Guard is an argument check attached to a rule. When it trips, its verdict
// replaces the rule's.
type Guard struct {
	Arg            string
	Within         string   // path root the argument must stay under
	DenySubstrings []string // substrings that must not appear in the argument
	Decision       model.DecisionKind
	Risk           float64
	Reason         string
	PolicyID       string
}

// trips reports whether args violate the guard.
// Within is fail-closed: a missing or non-string argument trips.
func (g Guard) trips(args map[string]any) bool {
	raw, present := args[g.Arg]
	value, isString := raw.(string)

	if g.Within != "" {
		if !present || !isString || value == "" {
			return true
		}
		if !underRoot(value, g.Within) {
			return true
		}
	}

	if isString {
		for _, s := range g.DenySubstrings {
			if s != "" && strings.Contains(value, s) {
				return true
			}
		}
	}
	return false
}

// underRoot resolves p (relative paths are taken under root) and checks it
// does not escape root.
func underRoot(p, root string) bool {
	root = path.Clean("/" + strings.TrimPrefix(root, "/"))
	var resolved string
	if strings.HasPrefix(p, "/") {
		resolved = path.Clean(p)
	} else {
		resolved = path.Join(root, p)
	}
	if root == "/" {
		return true
	}
	return resolved == root || strings.HasPrefix(resolved, root+"/")
}
