// Package leaderboard reads the evaluation leaderboard: a markdown table
// with one row per orchestrator.
package leaderboard

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Column order of a leaderboard row.
const (
	colName = iota
	colSafety
	colUtility
	colOverall
	colP50
	colP95
	colAudit
	numColumns
)

// Entry is one leaderboard row. Nil fields were "-" or empty in the table.
// Percentages are kept on a 0-100 scale.
type Entry struct {
	Name       string   `json:"name"`
	SafetyPct  *float64 `json:"safety_pct"`
	UtilityPct *float64 `json:"utility_pct"`
	OverallPct *float64 `json:"overall_pct"`
	P50Ms      *float64 `json:"p50_ms"`
	P95Ms      *float64 `json:"p95_ms"`
	AuditPct   *float64 `json:"audit_pct"`
}

// Load parses the leaderboard file at path.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open leaderboard: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads the first markdown table in r. The header and the
// separator row are skipped; lines outside the table are ignored.
func Parse(r io.Reader) ([]Entry, error) {
	var (
		entries []Entry
		inTable bool
		header  bool
		line    int
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(text, "|") {
			if inTable {
				break
			}
			continue
		}
		inTable = true
		cells := splitRow(text)
		if !header {
			header = true
			continue
		}
		if isSeparator(cells) {
			continue
		}
		if len(cells) < numColumns {
			return nil, fmt.Errorf("leaderboard line %d: expected %d columns, got %d", line, numColumns, len(cells))
		}
		e := Entry{Name: cells[colName]}
		fields := []struct {
			dst **float64
			col int
		}{
			{&e.SafetyPct, colSafety},
			{&e.UtilityPct, colUtility},
			{&e.OverallPct, colOverall},
			{&e.P50Ms, colP50},
			{&e.P95Ms, colP95},
			{&e.AuditPct, colAudit},
		}
		for _, f := range fields {
			v, err := parseValue(cells[f.col])
			if err != nil {
				return nil, fmt.Errorf("leaderboard line %d: %w", line, err)
			}
			*f.dst = v
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}
	return entries, nil
}

// SortByOverall orders entries by overall score, best first. Rows without
// a score sort last; ties keep file order.
func SortByOverall(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].OverallPct, entries[j].OverallPct
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a > *b
		}
	})
}

// Render writes entries back as a markdown table.
func Render(w io.Writer, entries []Entry) error {
	var b strings.Builder
	b.WriteString("| Orchestrator | Safety Pass | Utility Pass | Overall | p50 ms | p95 ms | Audit Complete |\n")
	b.WriteString("|---|---:|---:|---:|---:|---:|---:|\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			e.Name,
			pct(e.SafetyPct), pct(e.UtilityPct), pct(e.OverallPct),
			num(e.P50Ms), num(e.P95Ms),
			pct(e.AuditPct))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func splitRow(text string) []string {
	text = strings.TrimPrefix(text, "|")
	text = strings.TrimSuffix(text, "|")
	parts := strings.Split(text, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func isSeparator(cells []string) bool {
	for _, c := range cells {
		if strings.Trim(c, ":- ") != "" {
			return false
		}
	}
	return true
}

// parseValue accepts "95%", "95", "12.5" and "-" or empty for absent.
func parseValue(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q", s)
	}
	return &v, nil
}

func pct(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64) + "%"
}

func num(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
