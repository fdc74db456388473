// Package app initializes and holds the worker's long-lived services and runs
// the HTTP server until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webarc/internal/api"
	"github.com/JakeFAU/webarc/internal/auth"
	"github.com/JakeFAU/webarc/internal/capture"
	"github.com/JakeFAU/webarc/internal/clock/system"
	"github.com/JakeFAU/webarc/internal/config"
	"github.com/JakeFAU/webarc/internal/dispatcher"
	"github.com/JakeFAU/webarc/internal/extractor"
	"github.com/JakeFAU/webarc/internal/hash/sha256"
	"github.com/JakeFAU/webarc/internal/id/uuid"
	"github.com/JakeFAU/webarc/internal/metrics"
	"github.com/JakeFAU/webarc/internal/policy/ratelimit"
	"github.com/JakeFAU/webarc/internal/publisher"
	pubsubpublisher "github.com/JakeFAU/webarc/internal/publisher/pubsub"
	"github.com/JakeFAU/webarc/internal/storage/gcs"
	"github.com/JakeFAU/webarc/internal/storage/local"
	"github.com/JakeFAU/webarc/internal/storage/postgres"
)

// App holds the shared services of a running worker.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	registry   *capture.Registry
	dispatcher *dispatcher.Dispatcher
	server     *api.Server
	closers    []func() error
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	observers []capture.Observer
}

// WithObserver registers an extra capture observer in addition to the
// configured ones.
func WithObserver(obs capture.Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// New wires every component from cfg. Optional sinks (GCS mirror, Pub/Sub,
// Postgres audit) are only connected when configured, and New fails fast if
// any of them is unreachable.
func New(ctx context.Context, cfg config.Config, version string, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}

	blobs, err := local.New(local.Config{
		BaseDir:   cfg.Storage.BlobDir,
		ChunkSize: cfg.Storage.ChunkSizeBytes,
	}, sha256.New())
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}

	observers, err := a.buildObservers(ctx)
	if err != nil {
		return nil, errors.Join(err, a.closeAll())
	}
	observers = append(observers, o.observers...)

	commands := make(map[string]extractor.Command, len(cfg.Extractors))
	for name, ex := range cfg.Extractors {
		commands[name] = extractor.Command{Path: ex.Path, Args: ex.Args}
	}
	extractors := extractor.NewRegistry(commands)
	logger.Info("extractors configured", zap.Strings("names", extractors.Names()))

	a.registry = capture.NewRegistry()
	executor := capture.NewExecutor(
		a.registry,
		extractor.NewExecRunner(logger.Named("runner")),
		blobs,
		system.New(),
		observers,
		capture.ExecutorConfig{
			Timeout:        cfg.CaptureTimeout(),
			StderrLogBytes: cfg.Capture.StderrLogBytes,
		},
		logger.Named("capture"),
	)

	var limiter dispatcher.Limiter
	if cfg.Capture.PerHostRPS > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Capture.PerHostRPS,
			DefaultBurst: cfg.Capture.PerHostBurst,
		})
	}
	a.dispatcher = dispatcher.New(executor, limiter, dispatcher.Config{
		MaxConcurrent: cfg.Capture.MaxConcurrent,
	}, logger.Named("dispatcher"))

	service := capture.NewService(extractors, a.registry, blobs, uuid.New(), a.dispatcher, logger.Named("service"))
	a.server = api.NewServer(service, auth.NewGate(cfg.Auth.Tokens), version, logger.Named("api"))

	if len(cfg.Auth.Tokens) == 0 {
		logger.Warn("no auth tokens configured; every capture request will be rejected")
	}
	return a, nil
}

func (a *App) buildObservers(ctx context.Context) ([]capture.Observer, error) {
	var observers []capture.Observer

	if bucket := a.cfg.Mirror.GCSBucket; bucket != "" {
		mirror, err := gcs.Dial(ctx, gcs.Config{Bucket: bucket, Prefix: a.cfg.Mirror.Prefix}, a.logger.Named("mirror"))
		if err != nil {
			return nil, fmt.Errorf("init GCS mirror: %w", err)
		}
		a.closers = append(a.closers, mirror.Close)
		observers = append(observers, mirror)
		a.logger.Info("GCS mirror enabled", zap.String("bucket", bucket))
	}

	if topic := a.cfg.PubSub.TopicName; topic != "" {
		pub, err := pubsubpublisher.Dial(ctx, a.cfg.PubSub.ProjectID, topic)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		observers = append(observers, publisher.NewNotifier(pub, topic, a.logger.Named("notifier")))
		a.logger.Info("pubsub notifications enabled", zap.String("topic", topic))
	}

	if a.cfg.DB.DSN != "" {
		audit, err := postgres.NewAuditStore(ctx, postgres.Config{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init audit store: %w", err)
		}
		a.closers = append(a.closers, func() error {
			audit.Close()
			return nil
		})
		if err := audit.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		observers = append(observers, audit)
		a.logger.Info("capture audit log enabled", zap.String("table", a.cfg.DB.Table))
	}

	return observers, nil
}

// Handler exposes the HTTP handler for tests and embedding.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Registry exposes ticket state.
func (a *App) Registry() *capture.Registry {
	return a.registry
}

// Run listens on the configured address and serves until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve handles requests on ln until ctx is canceled, then drains the server
// and waits for in-flight captures, both bounded by the shutdown timeout.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown initiated")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
			a.logger.Error("http server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if err := a.dispatcher.Wait(shutdownCtx); err != nil {
		counts := a.registry.Counts()
		a.logger.Warn("captures still running at shutdown",
			zap.Int("in_progress", counts[capture.StatusInProgress]),
			zap.Error(err),
		)
	}
	a.logger.Info("shutdown complete")
	return runErr
}

// ErrCapturesRunning is returned by Close while dispatched captures have not
// finished. Observer clients stay open because those captures still report
// through them; Close may be called again once they finish.
var ErrCapturesRunning = errors.New("captures still running")

// Close releases external clients. Call it after Serve returns.
func (a *App) Close() error {
	if n := a.dispatcher.Running(); n > 0 {
		a.logger.Warn("leaving observer clients open", zap.Int("running_captures", n))
		return fmt.Errorf("%w: %d", ErrCapturesRunning, n)
	}
	return a.closeAll()
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
