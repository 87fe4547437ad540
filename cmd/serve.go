package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mcpstudio/internal/app"
)

// serveCmd starts the studio: the registry, the deployment manager and the
// HTTP API every other command talks to.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the studio API server",
	Long: `Starts the mcpstudio server in the foreground.

The server loads config.yaml (or config.toml) from --config-path, opens the
configured registry backend, resolves deployments left unfinished by a previous
run, registers every server definition found in the definitions directory and
starts the HTTP API. It runs until interrupted (Ctrl+C or SIGTERM).

Configuration directory layout:
  config.yaml   main configuration
  master.key    credential encryption key, generated on first start
  servers/      server definitions, one YAML file per server`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := app.NewConfig(rootFlags.Debug, rootFlags.ConfigPath, rootCmd.Version)
	cfg.LogOutput = cmd.ErrOrStderr()

	application, err := app.NewApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return application.Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
