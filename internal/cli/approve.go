package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/client"
)

var (
	approveNote     string
	approveApprover string
)

func init() {
	rootCmd.AddCommand(approveCmd)
	approveCmd.Flags().StringVar(&approveNote, "note", "", "Note recorded with the approval")
	approveCmd.Flags().StringVar(&approveApprover, "approver", "", "Approver identity (default: manual)")
}

var approveCmd = &cobra.Command{
	Use:   "approve <tool-call-id>",
	Short: "Approve a pending tool call",
	Long:  "Approves a PENDING tool call. The call is dispatched to its backend and\nends EXECUTED or EXECUTION_FAILED.",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

func runApprove(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		resp, err := c.Approve(ctx, args[0], approveNote, approveApprover)
		if err != nil {
			return err
		}
		res := resp.Resolution
		if res == nil {
			return fmt.Errorf("server returned no resolution")
		}
		fmt.Printf("Approved %q: %s\n", res.ID, res.Status)
		if res.Result != nil {
			fmt.Println(*res.Result)
		}
		if resp.Outcome != "" {
			return fmt.Errorf("execution failed: %s", resp.Outcome)
		}
		return nil
	})
}
