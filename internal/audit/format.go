package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

// FormatTimeline renders replayed entries as a table, one line per event,
// followed by decision and outcome totals.
func FormatTimeline(result *ReplayResult) string {
	if len(result.Entries) == 0 {
		return "No entries found.\n"
	}

	var b strings.Builder
	s := result.Summary
	fmt.Fprintf(&b, "Audit log %s to %s UTC\n\n",
		s.FirstTime.UTC().Format(time.DateTime), s.LastTime.UTC().Format(time.DateTime))

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tEVENT\tSTATUS\tTOOL\tCALL\tBY")
	for _, e := range result.Entries {
		by := e.Actor
		if by == "" {
			by = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq,
			e.Timestamp.UTC().Format(time.TimeOnly),
			strings.TrimPrefix(e.Type, "tool."),
			e.Status,
			truncate(e.Tool, 24),
			truncate(e.ToolCallID, 12),
			by)
	}
	tw.Flush()

	b.WriteString("\n")
	b.WriteString(formatSummary(s))
	return b.String()
}

// FormatJSON renders a ReplayResult as indented JSON.
func FormatJSON(result *ReplayResult) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatSummary(s ReplaySummary) string {
	decisions := fmt.Sprintf("%d allow, %d block, %d approval", s.AllowCount, s.BlockCount, s.ApprovalCount)
	if s.AllowCount+s.BlockCount+s.ApprovalCount == 0 {
		decisions = "no decisions"
	}
	return fmt.Sprintf("%d events: %s; %d executed, %d failed, %d denied\n",
		s.Total, decisions, s.ExecutedCount, s.FailedCount, s.DeniedCount)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
