package main

import (
	"bytes"
	"context"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	collyextract "github.com/JakeFAU/webarc/internal/extract/colly"
	"github.com/JakeFAU/webarc/internal/logging"
)

func newFetchCmd(flags *commonFlags, stdout io.Writer) *cobra.Command {
	var respectRobots bool
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Fetch a URL over HTTP and print the response body",
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

			ctx, cancel := context.WithTimeout(cmd.Context(), flags.timeout)
			defer cancel()

			fetcher := collyextract.New(collyextract.Config{
				UserAgent:     flags.userAgent,
				RespectRobots: respectRobots,
				Timeout:       flags.timeout,
				Headers:       headers,
			})
			var doc bytes.Buffer
			res, err := fetcher.Fetch(ctx, args[0], &doc)
			if err != nil {
				logger.Error("fetch failed", zap.String("url", args[0]), zap.Int("status", res.StatusCode), zap.Error(err))
				return err
			}
			logger.Info("fetched",
				zap.String("url", res.URL),
				zap.Int("status", res.StatusCode),
				zap.String("content_type", res.ContentType),
				zap.Int64("bytes", res.Bytes),
				zap.Duration("duration", res.Duration),
			)
			return emit(stdout, &doc)
		},
	}
	cmd.Flags().BoolVar(&respectRobots, "respect-robots", false, "honor robots.txt")
	return cmd
}
