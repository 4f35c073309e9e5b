package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/leaderboard"
)

var leaderboardJSON bool

func init() {
	rootCmd.AddCommand(leaderboardCmd)
	leaderboardCmd.Flags().BoolVar(&leaderboardJSON, "json", false, "Print entries as JSON")
}

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard [path]",
	Short: "Show the orchestrator evaluation leaderboard",
	Long:  "Parses the leaderboard markdown table (default LEADERBOARD.md) and prints it\nordered by overall pass rate.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLeaderboard,
}

func runLeaderboard(cmd *cobra.Command, args []string) error {
	path := "LEADERBOARD.md"
	if len(args) == 1 {
		path = args[0]
	}

	entries, err := leaderboard.Load(path)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(os.Stderr, "No leaderboard rows in %s\n", path)
		return nil
	}
	leaderboard.SortByOverall(entries)

	if leaderboardJSON {
		return printJSON(entries)
	}
	return leaderboard.Render(os.Stdout, entries)
}
