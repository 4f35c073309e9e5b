package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/config"
	sentinelmcp "github.com/ppiankov/sentinel/internal/mcp"
	"github.com/ppiankov/sentinel/internal/server"
)

var mcpPolicy string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpPolicy, "policy", "", "Path to policy YAML (overrides config)")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs sentinel as an MCP (Model Context Protocol) server over stdio.\nExposes governed tools: sentinel_propose, sentinel_approve, sentinel_deny, sentinel_pending.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if mcpPolicy != "" {
		cfg.PolicyPath = mcpPolicy
	}

	// stdout carries the protocol; logs go to stderr.
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	defer stack.Close(context.Background())

	srv := sentinelmcp.New(stack.Engine, version, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "sentinel MCP server running on stdio")
	if cfg.PolicyPath != "" {
		fmt.Fprintf(os.Stderr, "Policy: %s\n", cfg.PolicyPath)
	}
	fmt.Fprintln(os.Stderr)

	return srv.Run(ctx)
}
