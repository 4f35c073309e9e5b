package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/client"
	"github.com/ppiankov/sentinel/internal/model"
)

var proposeArgs string

func init() {
	rootCmd.AddCommand(proposeCmd)
	proposeCmd.Flags().StringVarP(&proposeArgs, "args", "a", "{}", "Tool arguments as a JSON object")
}

var proposeCmd = &cobra.Command{
	Use:   "propose <tool>",
	Short: "Propose a tool call for governance",
	Long:  "Sends a tool call to the governance server. Allowed calls execute immediately;\nblocked calls report the rule and citations; others wait for approval.",
	Args:  cobra.ExactArgs(1),
	RunE:  runPropose,
}

func runPropose(cmd *cobra.Command, args []string) error {
	toolArgs, err := parseArgsJSON(proposeArgs)
	if err != nil {
		return err
	}

	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		resp, err := c.Propose(ctx, args[0], toolArgs)
		if err != nil {
			return err
		}
		if err := printJSON(resp); err != nil {
			return err
		}

		p := resp.Proposal
		switch {
		case p == nil:
			return fmt.Errorf("server returned no proposal")
		case p.Status == model.StatusPending:
			fmt.Fprintf(os.Stderr, "\nAwaiting approval: sentinel approve %s\n", p.ID)
		case p.Status == model.StatusBlocked, p.Status == model.StatusExecutionFailed:
			// Non-zero exit so scripts can gate on the verdict.
			os.Exit(2)
		}
		return nil
	})
}

func parseArgsJSON(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("invalid --args JSON: %w", err)
	}
	return m, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
