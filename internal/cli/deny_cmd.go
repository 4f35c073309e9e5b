package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/client"
)

var (
	denyNote     string
	denyApprover string
)

func init() {
	rootCmd.AddCommand(denyCmd)
	denyCmd.Flags().StringVar(&denyNote, "note", "", "Reason recorded with the denial")
	denyCmd.Flags().StringVar(&denyApprover, "approver", "", "Approver identity (default: manual)")
}

var denyCmd = &cobra.Command{
	Use:   "deny <tool-call-id>",
	Short: "Deny a pending tool call",
	Long:  "Denies a PENDING tool call. Nothing is dispatched.",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeny,
}

func runDeny(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		res, err := c.Deny(ctx, args[0], denyNote, denyApprover)
		if err != nil {
			return err
		}
		fmt.Printf("Denied %q\n", res.ID)
		return nil
	})
}
