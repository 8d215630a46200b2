package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"runhub/internal/app"
)

var (
	serveConfigPath string
	serveDebug      bool
	serveSilent     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the runhub retrieval server",
	Long: `Starts the runhub server: initializes the configured documentation
sources, builds the corpus index, warms the cache and serves the
retrieval tools over MCP (stdio or streamable-http) and HTTP.

The process runs until interrupted. SIGINT and SIGTERM trigger a
graceful shutdown that drains in-flight requests and cleans up the
source adapters.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, app.Options{
		ConfigPath: serveConfigPath,
		Debug:      serveDebug,
		Silent:     serveSilent,
		Version:    GetVersion(),
	})
	if err != nil {
		return fmt.Errorf("initializing runhub: %w", err)
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveConfigPath, "config", "config.yaml", "Configuration file path")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	serveCmd.Flags().BoolVar(&serveSilent, "silent", false, "Suppress all log output")
}
