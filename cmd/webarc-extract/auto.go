package main

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarc/internal/extract/detector"
	collyextract "github.com/JakeFAU/webarc/internal/extract/colly"
	"github.com/JakeFAU/webarc/internal/extract/headless"
	"github.com/JakeFAU/webarc/internal/logging"
)

// documentRenderer is the part of headless.Renderer that auto needs.
type documentRenderer interface {
	Render(ctx context.Context, url string, w io.Writer) (headless.Result, error)
}

func newAutoCmd(flags *commonFlags, stdout io.Writer) *cobra.Command {
	var (
		threshold  int
		chromePath string
	)
	cmd := &cobra.Command{
		Use:   "auto <url>",
		Short: "Fetch over HTTP and fall back to headless Chrome for script-driven pages",
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
				UserAgent: flags.userAgent,
				Timeout:   flags.timeout,
				Headers:   headers,
			})
			newRenderer := func() (documentRenderer, func(), error) {
				r, err := headless.New(headless.Config{
					UserAgent:         flags.userAgent,
					NavigationTimeout: flags.timeout,
					Headers:           headers,
					ExecPath:          chromePath,
				})
				if err != nil {
					return nil, nil, err
				}
				return r, r.Close, nil
			}
			doc, err := autoCapture(ctx, args[0], fetcher, detector.NewHeuristic(threshold), newRenderer, logger)
			if err != nil {
				return err
			}
			return emit(stdout, doc)
		},
	}
	cmd.Flags().IntVar(&threshold, "small-body", 2048, "bytes under which script-heavy pages are rendered")
	cmd.Flags().StringVar(&chromePath, "chrome-path", "", "Chrome/Chromium binary (default: search PATH)")
	return cmd
}

func autoCapture(
	ctx context.Context,
	url string,
	fetcher *collyextract.Fetcher,
	detect *detector.Heuristic,
	newRenderer func() (documentRenderer, func(), error),
	logger *zap.Logger,
) (*bytes.Buffer, error) {
	var doc bytes.Buffer
	start := time.Now()
	res, err := fetcher.Fetch(ctx, url, &doc)
	if err != nil {
		logger.Error("fetch failed", zap.String("url", url), zap.Int("status", res.StatusCode), zap.Error(err))
		return nil, err
	}
	if !detect.NeedsRender(doc.Bytes()) {
		logger.Info("fetched", zap.String("url", res.URL), zap.Int64("bytes", res.Bytes), zap.Duration("duration", time.Since(start)))
		return &doc, nil
	}

	logger.Info("promoting to headless render", zap.String("url", url), zap.Int64("fetched_bytes", res.Bytes))
	renderer, closeRenderer, err := newRenderer()
	if err != nil {
		return nil, err
	}
	defer closeRenderer()

	var rendered bytes.Buffer
	rres, err := renderer.Render(ctx, url, &rendered)
	if err != nil {
		logger.Error("render failed", zap.String("url", url), zap.Int("status", rres.StatusCode), zap.Error(err))
		return nil, err
	}
	logger.Info("rendered", zap.String("url", rres.URL), zap.Int64("bytes", rres.Bytes), zap.Duration("duration", time.Since(start)))
	return &rendered, nil
}
