package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/client"
	"github.com/ppiankov/sentinel/internal/config"
)

var (
	configPath string
	serverAddr string
)

var rootCmd = &cobra.Command{
	Use:           "sentinel",
	Short:         "Governance gate for agent tool calls",
	Long:          "Evaluates every proposed tool call against policy before it reaches a tool server.\nCalls are allowed, blocked with citations, or held for human approval, and every decision is recorded.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config YAML (default ~/.sentinel/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", config.DefaultGRPCAddr, "Address of a running sentinel serve")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// withClient dials the server named by --server and runs fn with it.
func withClient(cmd *cobra.Command, fn func(context.Context, *client.Client) error) error {
	c, err := client.New(serverAddr)
	if err != nil {
		return err
	}
	defer c.Close()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return fn(ctx, c)
}
