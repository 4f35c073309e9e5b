package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/client"
)

func init() {
	rootCmd.AddCommand(showCmd)
}

var showCmd = &cobra.Command{
	Use:   "show <tool-call-id>",
	Short: "Show a tool call and its decision",
	Long:  "Prints the stored tool call, with redacted arguments, and its decision as JSON.",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		rec, err := c.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	})
}
