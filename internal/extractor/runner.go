package extractor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

const waitDelay = 2 * time.Second

// Runner executes an extractor process. It lets us stub processes in tests.
type Runner interface {
	Run(ctx context.Context, cmd Command, url string) (stdout, stderr []byte, err error)
}

// ExecRunner runs extractors as child processes.
type ExecRunner struct {
	logger *zap.Logger
}

// NewExecRunner builds an ExecRunner.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecRunner{logger: logger}
}

// Run starts the extractor and waits for it to exit. A non-nil error means the
// process could not be started, exited non-zero, or was killed by ctx.
func (r *ExecRunner) Run(ctx context.Context, cmd Command, url string) ([]byte, []byte, error) {
	start := time.Now()

	proc := exec.CommandContext(ctx, cmd.Path, cmd.Argv(url)...)
	var out, errb bytes.Buffer
	proc.Stdout = &out
	proc.Stderr = &errb
	// Grandchildren holding stdout open must not pin Wait after a kill.
	proc.WaitDelay = waitDelay

	err := proc.Run()
	dur := time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("extractor %s: %w (%v)", cmd.Name, ctxErr, err)
		} else {
			err = fmt.Errorf("extractor %s: %w", cmd.Name, err)
		}
		return out.Bytes(), errb.Bytes(), err
	}
	r.logger.Debug("extractor exited",
		zap.String("extractor", cmd.Name),
		zap.Int64("duration_ms", dur.Milliseconds()),
		zap.Int("stdout_bytes", out.Len()),
		zap.Int("stderr_bytes", errb.Len()),
	)
	return out.Bytes(), errb.Bytes(), nil
}
