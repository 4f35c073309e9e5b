package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/audit"
)

// auditFlags are shared by tail and replay.
var auditFlags struct {
	lines  int
	tool   string
	from   string
	to     string
	format string
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd, auditTailCmd, auditReplayCmd)

	for _, c := range []*cobra.Command{auditTailCmd, auditReplayCmd} {
		c.Flags().StringVar(&auditFlags.tool, "tool", "", "Only events for this tool")
		c.Flags().StringVarP(&auditFlags.format, "format", "f", "text", "Output format (text|json)")
	}
	auditTailCmd.Flags().IntVarP(&auditFlags.lines, "lines", "n", 10, "Number of recent events to show")
	auditReplayCmd.Flags().StringVar(&auditFlags.from, "from", "", "Earliest event time (RFC3339)")
	auditReplayCmd.Flags().StringVar(&auditFlags.to, "to", "", "Latest event time (RFC3339)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the JSONL audit log written by a file sink",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify <log>",
	Short: "Check the hash chain of an audit log",
	Long:  "Checks that every entry links to the hash of the one before it and that sequence\nnumbers have no gaps. Prints the chain head on success; exits 1 at the first broken link.",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail <log>",
	Short: "Show the most recent audit events",
	Args:  cobra.ExactArgs(1),
	RunE:  runAuditTail,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay <log> [tool-call-id]",
	Short: "Replay the lifecycle of tool calls",
	Long:  "Prints every event of one tool call (or of all calls), optionally limited to a tool\nand a time range, with decision and outcome totals.",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runAuditReplay,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	result := audit.Verify(args[0])
	if result.Valid {
		fmt.Printf("OK: %d entries across %d tool calls verified\nhead: %s\n", result.Lines, result.ToolCalls, result.Head)
		return nil
	}
	fmt.Fprintf(os.Stderr, "FAILED at line %d: %s\n", result.ErrorLine, result.Error)
	os.Exit(1)
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	return replay(args[0], audit.ReplayFilter{Tool: auditFlags.tool, Last: auditFlags.lines})
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	filter := audit.ReplayFilter{Tool: auditFlags.tool}
	if len(args) == 2 {
		filter.ToolCallID = args[1]
	}
	var err error
	if filter.From, err = parseTimeFlag("from", auditFlags.from); err != nil {
		return err
	}
	if filter.To, err = parseTimeFlag("to", auditFlags.to); err != nil {
		return err
	}
	return replay(args[0], filter)
}

func replay(path string, filter audit.ReplayFilter) error {
	result, err := audit.Replay(path, filter)
	if err != nil {
		return err
	}
	switch auditFlags.format {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Println(out)
	case "text":
		fmt.Print(audit.FormatTimeline(result))
	default:
		return fmt.Errorf("unknown format %q (text|json)", auditFlags.format)
	}
	return nil
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s time %q: %w", name, value, err)
	}
	return t, nil
}
