package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/client"
	"github.com/ppiankov/sentinel/internal/model"
)

var (
	pendingLimit   int
	decisionsLimit int
)

func init() {
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(decisionsCmd)
	pendingCmd.Flags().IntVarP(&pendingLimit, "limit", "n", 20, "Maximum number of calls to list")
	decisionsCmd.Flags().IntVarP(&decisionsLimit, "limit", "n", 20, "Maximum number of calls to list")
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List tool calls awaiting approval",
	Long:  "Shows PENDING tool calls, oldest first, with their tool, risk score and reason.",
	RunE:  runPending,
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "List recent decisions",
	Long:  "Shows the most recent tool calls of any status, newest first.",
	RunE:  runDecisions,
}

func runPending(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		recs, err := c.Pending(ctx, pendingLimit)
		if err != nil {
			return fmt.Errorf("failed to list pending calls: %w", err)
		}
		if len(recs) == 0 {
			fmt.Println("No pending tool calls.")
			return nil
		}
		printRecords(recs)
		return nil
	})
}

func runDecisions(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		recs, err := c.Decisions(ctx, decisionsLimit)
		if err != nil {
			return fmt.Errorf("failed to list decisions: %w", err)
		}
		if len(recs) == 0 {
			fmt.Println("No decisions recorded.")
			return nil
		}
		printRecords(recs)
		return nil
	})
}

func printRecords(recs []model.Record) {
	fmt.Printf("%-36s %-18s %-17s %-5s %-24s %s\n", "ID", "STATUS", "DECISION", "RISK", "TOOL", "CREATED")
	for _, r := range recs {
		fmt.Printf("%-36s %-18s %-17s %-5.2f %-24s %s\n",
			r.ToolCall.ID,
			r.ToolCall.Status,
			r.Decision.Kind,
			r.Decision.RiskScore,
			truncate(r.ToolCall.ToolName, 24),
			r.ToolCall.CreatedAt.Format("15:04:05"),
		)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
