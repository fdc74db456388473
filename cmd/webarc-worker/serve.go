package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarc/internal/app"
	"github.com/JakeFAU/webarc/internal/config"
	"github.com/JakeFAU/webarc/internal/logging"
)

func newServeCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the capture HTTP server",
		Long: `Starts the HTTP server and runs captures until SIGINT or SIGTERM.
On shutdown the server drains open requests and then waits, up to
server.shutdown_timeout_seconds, for running captures to finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), resolveConfigPath(*cfgFile))
		},
	}
}

func runServe(parent context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		if syncErr := logging.Sync(logger); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting webarc worker",
		zap.String("version", version),
		zap.String("config", cfgPath),
		zap.String("addr", cfg.Addr()),
	)
	worker, err := app.New(ctx, cfg, version, logger)
	if err != nil {
		logger.Error("init failed", zap.Error(err))
		return err
	}
	defer func() {
		if cerr := worker.Close(); cerr != nil {
			logger.Warn("close services failed", zap.Error(cerr))
		}
	}()

	if err := worker.Run(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
