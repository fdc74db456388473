package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarc/internal/logging"
)

type commonFlags struct {
	userAgent string
	timeout   time.Duration
	headers   []string
	verbose   bool
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	flags := &commonFlags{}
	cmd := &cobra.Command{
		Use:          "webarc-extract",
		Short:        "Reference extractors for webarc-worker.",
		SilenceUsage: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.userAgent, "user-agent", "webarc-extract/1.0", "User-Agent sent with requests")
	pf.DurationVar(&flags.timeout, "timeout", 30*time.Second, "overall capture timeout")
	pf.StringArrayVar(&flags.headers, "header", nil, `extra request header as "Name: value" (repeatable)`)
	pf.BoolVar(&flags.verbose, "verbose", false, "human-readable debug logging on stderr")

	cmd.AddCommand(newFetchCmd(flags, stdout))
	cmd.AddCommand(newRenderCmd(flags, stdout))
	cmd.AddCommand(newAutoCmd(flags, stdout))
	return cmd
}

func (f *commonFlags) logger() (*zap.Logger, error) {
	logger, err := logging.New(f.verbose)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func parseHeaders(raw []string) (http.Header, error) {
	headers := http.Header{}
	for _, entry := range raw {
		name, value, ok := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q: want \"Name: value\"", entry)
		}
		headers.Add(name, strings.TrimSpace(value))
	}
	return headers, nil
}

// emit copies a fully captured document to stdout in one piece.
func emit(stdout io.Writer, doc *bytes.Buffer) error {
	if _, err := doc.WriteTo(stdout); err != nil {
		return fmt.Errorf("write stdout: %w", err)
	}
	return nil
}
