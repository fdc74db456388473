package capture

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/webarc/internal/extractor"
	"github.com/JakeFAU/webarc/internal/metrics"
)

const defaultStderrLogBytes = 8 << 10

// BlobWriter persists captured bytes and reports where they live.
type BlobWriter interface {
	Persist(ctx context.Context, ticket string, data []byte) (string, error)
	Path(ticket string) (string, error)
}

// ExecutorConfig controls Executor behavior.
type ExecutorConfig struct {
	// Timeout bounds each extractor run. Zero means no deadline.
	Timeout time.Duration
	// StderrLogBytes caps how much extractor stderr is logged.
	StderrLogBytes int
}

// Executor runs capture jobs to completion and records their outcome.
type Executor struct {
	registry  *Registry
	runner    extractor.Runner
	blobs     BlobWriter
	clock     Clock
	observers []Observer
	cfg       ExecutorConfig
	logger    *zap.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(
	registry *Registry,
	runner extractor.Runner,
	blobs BlobWriter,
	clock Clock,
	observers []Observer,
	cfg ExecutorConfig,
	logger *zap.Logger,
) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StderrLogBytes <= 0 {
		cfg.StderrLogBytes = defaultStderrLogBytes
	}
	return &Executor{
		registry:  registry,
		runner:    runner,
		blobs:     blobs,
		clock:     clock,
		observers: observers,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute runs the extractor for job, persists its output, and moves the
// ticket to a terminal state.
func (e *Executor) Execute(ctx context.Context, job Job) {
	started := e.clock.Now()
	ctx = job.withTrace(ctx)
	log := e.jobLogger(job)
	log.Debug("capture started")

	metrics.IncInFlight()
	stdout, stderr, err := e.run(ctx, job)
	metrics.DecInFlight()

	if err != nil {
		log.Warn("extractor failed",
			zap.Error(err),
			zap.String("stderr", DecodeStderr(stderr, e.cfg.StderrLogBytes)),
		)
		e.finish(ctx, log, Outcome{
			Ticket:    job.Ticket,
			URL:       job.URL,
			Extractor: job.Command.Name,
			Status:    StatusFailed,
			Reason:    "extractor: " + err.Error(),
			Started:   started,
		})
		return
	}
	if len(stderr) > 0 {
		log.Debug("extractor diagnostics", zap.String("stderr", DecodeStderr(stderr, e.cfg.StderrLogBytes)))
	}

	hash, err := e.blobs.Persist(ctx, job.Ticket, stdout)
	if err != nil {
		log.Error("persist capture failed", zap.Error(err))
		e.finish(ctx, log, Outcome{
			Ticket:    job.Ticket,
			URL:       job.URL,
			Extractor: job.Command.Name,
			Status:    StatusFailed,
			Reason:    "storage: " + err.Error(),
			Started:   started,
		})
		return
	}

	path, _ := e.blobs.Path(job.Ticket)
	e.finish(ctx, log, Outcome{
		Ticket:    job.Ticket,
		URL:       job.URL,
		Extractor: job.Command.Name,
		Status:    StatusCompleted,
		Hash:      hash,
		Bytes:     len(stdout),
		BlobPath:  path,
		Started:   started,
	})
}

// Abort fails a job that could not be started, for example because the
// dispatcher gave up waiting for a slot.
func (e *Executor) Abort(ctx context.Context, job Job, reason error) {
	ctx = job.withTrace(ctx)
	log := e.jobLogger(job)
	log.Warn("capture aborted before start", zap.Error(reason))
	now := e.clock.Now()
	e.finish(ctx, log, Outcome{
		Ticket:    job.Ticket,
		URL:       job.URL,
		Extractor: job.Command.Name,
		Status:    StatusFailed,
		Reason:    "aborted: " + reason.Error(),
		Started:   now,
	})
}

func (e *Executor) jobLogger(job Job) *zap.Logger {
	fields := []zap.Field{
		zap.String("ticket", job.Ticket),
		zap.String("extractor", job.Command.Name),
		zap.String("url", job.URL),
	}
	if job.Trace.IsValid() {
		fields = append(fields, zap.String("trace_id", job.Trace.TraceID().String()))
	}
	return e.logger.With(fields...)
}

func (e *Executor) run(ctx context.Context, job Job) ([]byte, []byte, error) {
	if e.cfg.Timeout <= 0 {
		return e.runner.Run(ctx, job.Command, job.URL)
	}
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	return e.runner.Run(runCtx, job.Command, job.URL)
}

func (e *Executor) finish(ctx context.Context, log *zap.Logger, outcome Outcome) {
	var ok bool
	switch outcome.Status {
	case StatusCompleted:
		ok = e.registry.Complete(outcome.Ticket, outcome.Hash)
	default:
		ok = e.registry.Fail(outcome.Ticket)
	}
	if !ok {
		log.Error("refused state transition", zap.String("status", string(outcome.Status)))
		return
	}
	outcome.Finished = e.clock.Now()
	metrics.ObserveCapture(outcome.Extractor, string(outcome.Status), outcome.Bytes, outcome.Finished.Sub(outcome.Started))
	if outcome.Status == StatusCompleted {
		log.Info("capture completed", zap.String("hash", outcome.Hash), zap.Int("bytes", outcome.Bytes))
	} else {
		log.Info("capture failed")
	}

	for _, obs := range e.observers {
		if err := obs.Observe(ctx, outcome); err != nil {
			log.Warn("capture observer failed", zap.Error(err))
		}
	}
}

// DecodeStderr renders extractor stderr for logs. Output longer than limit is
// truncated; non-UTF-8 output is replaced by a placeholder.
func DecodeStderr(stderr []byte, limit int) string {
	if len(stderr) == 0 {
		return ""
	}
	if !utf8.Valid(stderr) {
		return fmt.Sprintf("<non-utf8 stderr: %d bytes>", len(stderr))
	}
	if limit <= 0 || len(stderr) <= limit {
		return string(stderr)
	}
	return strings.ToValidUTF8(string(stderr[:limit]), "") + "...(truncated)"
}
