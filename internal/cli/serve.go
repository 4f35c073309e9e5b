package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/sentinel/internal/api"
	"github.com/ppiankov/sentinel/internal/config"
	"github.com/ppiankov/sentinel/internal/server"
)

var (
	serveGRPCAddr string
	serveHTTPAddr string
	servePolicy   string
	serveGraph    string
	serveStoreDSN string
	serveNoHTTP   bool
)

const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc-addr", "", "gRPC listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveHTTPAddr, "http-addr", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "Path to policy YAML (overrides config)")
	serveCmd.Flags().StringVar(&serveGraph, "graph", "", "Path to citation graph YAML (overrides config)")
	serveCmd.Flags().StringVar(&serveStoreDSN, "store", "", "Decision store DSN, e.g. sqlite://sentinel.db (overrides config)")
	serveCmd.Flags().BoolVar(&serveNoHTTP, "no-http", false, "Disable the HTTP JSON API")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the governance server",
	Long:  "Runs sentinel as a central governance server over gRPC, with an HTTP JSON API and /metrics.\nPolicy and citation graph files are hot-reloaded on change.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		srv.Close(closeCtx)
	}()

	reloader, err := server.NewReloader(srv, cfg.PolicyPath, cfg.GraphPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	}
	if reloader != nil {
		go reloader.Run(ctx)
	}

	var httpSrv *http.Server
	if !serveNoHTTP && cfg.HTTPAddr != "" {
		stack := srv.Stack()
		httpSrv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.NewRouter(stack.Engine, stack.Metrics, logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server stopped", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down governance server...")
		cancel()
		if httpSrv != nil {
			shutCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			httpSrv.Shutdown(shutCtx)
			done()
		}
		srv.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "sentinel governance server listening on %s (gRPC)\n", cfg.GRPCAddr)
	if httpSrv != nil {
		fmt.Fprintf(os.Stderr, "HTTP API: http://%s/v1\n", cfg.HTTPAddr)
	}
	if cfg.PolicyPath != "" {
		fmt.Fprintf(os.Stderr, "Policy: %s (hot-reload enabled)\n", cfg.PolicyPath)
	}
	if cfg.GraphPath != "" {
		fmt.Fprintf(os.Stderr, "Citation graph: %s\n", cfg.GraphPath)
	}
	fmt.Fprintln(os.Stderr)

	return srv.Serve()
}

func applyServeFlags(cfg *config.Config) {
	if serveGRPCAddr != "" {
		cfg.GRPCAddr = serveGRPCAddr
	}
	if serveHTTPAddr != "" {
		cfg.HTTPAddr = serveHTTPAddr
	}
	if servePolicy != "" {
		cfg.PolicyPath = servePolicy
	}
	if serveGraph != "" {
		cfg.GraphPath = serveGraph
	}
	if serveStoreDSN != "" {
		cfg.StoreDSN = serveStoreDSN
	}
}
