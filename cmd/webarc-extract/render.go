package main

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarc/internal/extract/headless"
	"github.com/JakeFAU/webarc/internal/logging"
)

func newRenderCmd(flags *commonFlags, stdout io.Writer) *cobra.Command {
	var (
		settle     time.Duration
		chromePath string
	)
	cmd := &cobra.Command{
		Use:   "render <url>",
		Short: "Render a URL in headless Chrome and print the resulting DOM",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			headers, err := parseHeaders(flags.headers)
			if err != nil {
				return err
			}
			logger, err := flags.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logging.Sync(logger) }()

			renderer, err := headless.New(headless.Config{
				UserAgent:         flags.userAgent,
				NavigationTimeout: flags.timeout,
				Settle:            settle,
				Headers:           headers,
				ExecPath:          chromePath,
			})
			if err != nil {
				return err
			}
			defer renderer.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()

			var doc bytes.Buffer
			res, err := renderer.Render(ctx, args[0], &doc)
			if err != nil {
				logger.Error("render failed", zap.String("url", args[0]), zap.Int("status", res.StatusCode), zap.Error(err))
				return err
			}
			logger.Info("rendered",
				zap.String("url", res.URL),
				zap.Int("status", res.StatusCode),
				zap.Int64("bytes", res.Bytes),
				zap.Duration("duration", res.Duration),
			)
			return emit(stdout, &doc)
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", 500*time.Millisecond, "wait after the body is ready before snapshotting")
	cmd.Flags().StringVar(&chromePath, "chrome-path", "", "Chrome/Chromium binary (default: search PATH)")
	return cmd
}
