// Package dispatcher runs capture jobs detached from the requests that create them.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/webarc/internal/capture"
	"github.com/JakeFAU/webarc/internal/metrics"
)

// Executor runs a job to a terminal state.
type Executor interface {
	Execute(ctx context.Context, job capture.Job)
	Abort(ctx context.Context, job capture.Job, reason error)
}

// Limiter delays a job before its extractor starts.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config controls Dispatcher behavior.
type Config struct {
	// MaxConcurrent caps running extractors. Zero means unlimited.
	MaxConcurrent int
}

// Dispatcher starts one goroutine per job. Jobs are never canceled by the
// request that created them.
type Dispatcher struct {
	executor Executor
	limiter  Limiter
	slots    *semaphore.Weighted
	ctx      context.Context
	wg       sync.WaitGroup
	running  atomic.Int64
	logger   *zap.Logger
}

// New creates a Dispatcher. limiter may be nil.
func New(executor Executor, limiter Limiter, cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	var slots *semaphore.Weighted
	if cfg.MaxConcurrent > 0 {
		slots = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	}
	return &Dispatcher{
		executor: executor,
		limiter:  limiter,
		slots:    slots,
		ctx:      context.Background(),
		logger:   logger,
	}
}

// Dispatch schedules job and returns immediately.
func (d *Dispatcher) Dispatch(job capture.Job) {
	d.wg.Add(1)
	d.running.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.running.Add(-1)
		d.run(job)
	}()
}

// Running reports how many dispatched jobs have not yet returned, including
// jobs still waiting for a slot.
func (d *Dispatcher) Running() int {
	return int(d.running.Load())
}

func (d *Dispatcher) run(job capture.Job) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("capture job panicked", zap.String("ticket", job.Ticket), zap.Any("panic", rec))
			d.executor.Abort(d.ctx, job, fmt.Errorf("panic: %v", rec))
		}
	}()

	if d.slots != nil {
		start := time.Now()
		if err := d.slots.Acquire(d.ctx, 1); err != nil {
			d.executor.Abort(d.ctx, job, fmt.Errorf("acquire slot: %w", err))
			return
		}
		defer d.slots.Release(1)
		metrics.ObserveSlotWait(time.Since(start))
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(d.ctx, job.URL); err != nil {
			d.executor.Abort(d.ctx, job, err)
			return
		}
	}
	d.executor.Execute(d.ctx, job)
}

// Wait blocks until every dispatched job has finished or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for captures: %w", ctx.Err())
	}
}
