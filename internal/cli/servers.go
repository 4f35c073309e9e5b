package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/client"
	"github.com/ppiankov/sentinel/internal/server"
)

var (
	registerBaseURL    string
	registerPrefix     string
	registerAuthHeader string
	registerAuthToken  string
	syncAfterRegister  bool
)

func init() {
	rootCmd.AddCommand(serversCmd)
	rootCmd.AddCommand(registerServerCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(toolsCmd)

	registerServerCmd.Flags().StringVar(&registerBaseURL, "base-url", "", "MCP endpoint of the tool server (required)")
	registerServerCmd.Flags().StringVar(&registerPrefix, "prefix", "", "Tool name prefix owned by this server, e.g. github. (required)")
	registerServerCmd.Flags().StringVar(&registerAuthHeader, "auth-header", "", "Header carrying the auth token, e.g. Authorization")
	registerServerCmd.Flags().StringVar(&registerAuthToken, "auth-token", "", "Auth token sent with every request")
	registerServerCmd.Flags().BoolVar(&syncAfterRegister, "sync", false, "Sync the server's tool list after registering")
	registerServerCmd.MarkFlagRequired("base-url")
	registerServerCmd.MarkFlagRequired("prefix")
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List registered tool servers",
	RunE:  runServers,
}

var registerServerCmd = &cobra.Command{
	Use:   "register-server <name>",
	Short: "Register a remote MCP tool server",
	Long:  "Registers (or updates) a remote MCP server. Tool calls whose name starts with\n--prefix are routed to it after governance.",
	Args:  cobra.ExactArgs(1),
	RunE:  runRegisterServer,
}

var syncCmd = &cobra.Command{
	Use:   "sync <name>",
	Short: "Refresh the tool list of a registered server",
	Args:  cobra.ExactArgs(1),
	RunE:  runSync,
}

var toolsCmd = &cobra.Command{
	Use:   "tools <name>",
	Short: "List tools recorded by the last sync of a server",
	Args:  cobra.ExactArgs(1),
	RunE:  runTools,
}

func runServers(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		regs, err := c.Servers(ctx)
		if err != nil {
			return err
		}
		if len(regs) == 0 {
			fmt.Println("No tool servers registered.")
			return nil
		}
		fmt.Printf("%-20s %-8s %-16s %s\n", "NAME", "KIND", "PREFIX", "ENDPOINT")
		for _, r := range regs {
			endpoint := r.BaseURL
			if endpoint == "" {
				endpoint = r.Command
			}
			fmt.Printf("%-20s %-8s %-16s %s\n", truncate(r.Name, 20), r.Kind, truncate(r.ToolPrefix, 16), endpoint)
		}
		return nil
	})
}

func runRegisterServer(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		reg, err := c.RegisterServer(ctx, server.RegisterServerRequest{
			Name:       args[0],
			BaseURL:    registerBaseURL,
			ToolPrefix: registerPrefix,
			AuthHeader: registerAuthHeader,
			AuthToken:  registerAuthToken,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Registered %q for prefix %q\n", reg.Name, reg.ToolPrefix)
		if !syncAfterRegister {
			return nil
		}
		res, err := c.Sync(ctx, reg.Name)
		if err != nil {
			return fmt.Errorf("registered, but sync failed: %w", err)
		}
		fmt.Printf("Synced %d tools\n", res.ToolCount)
		return nil
	})
}

func runSync(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		res, err := c.Sync(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Synced %d tools from %q\n", res.ToolCount, res.ServerName)
		return nil
	})
}

func runTools(cmd *cobra.Command, args []string) error {
	return withClient(cmd, func(ctx context.Context, c *client.Client) error {
		tools, err := c.Tools(ctx, args[0])
		if err != nil {
			return err
		}
		if len(tools) == 0 {
			fmt.Println("No tools recorded. Run sentinel sync first.")
			return nil
		}
		for _, t := range tools {
			fmt.Printf("%-32s %s\n", t.Name, truncate(t.Description, 60))
		}
		return nil
	})
}
