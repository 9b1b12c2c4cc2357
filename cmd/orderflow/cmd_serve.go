package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/coinexec/orderflow/internal/application"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the order execution engine",
	Long: `Starts the engine: WebSocket order intake, queue consumers, the venue
router, and the HTTP API on the configured port. Runs until interrupted,
then drains in-flight orders before exiting.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("config", "config.yaml", "Path to the service config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := application.LoadConfig(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)

	app, err := application.New(cfg, version)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return app.Run(ctx)
}
