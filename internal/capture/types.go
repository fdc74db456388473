package capture

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/webarc/internal/extractor"
)

// Status is the observable lifecycle state of a ticket.
type Status string

// Status values reported by progress queries.
const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusUnsupportedURL is reserved; no code path produces it.
	StatusUnsupportedURL Status = "unsupported_url"
	// StatusNoSuchCapture is returned for tickets that were never registered.
	StatusNoSuchCapture Status = "no_such_capture"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ConfirmResult is the outcome of comparing a client hash with the stored one.
type ConfirmResult string

// Confirm results.
const (
	ConfirmCorrectHash   ConfirmResult = "correct_hash"
	ConfirmIncorrectHash ConfirmResult = "incorrect_hash"
	ConfirmNoSuchCapture ConfirmResult = "no_such_capture"
)

// Errors returned by Service.
var (
	ErrInvalidExtractor = errors.New("invalid extractor")
	ErrInvalidURL       = errors.New("invalid url")
	ErrNoSuchCapture    = errors.New("no such capture")
	ErrDuplicateTicket  = errors.New("ticket already registered")
)

// Job is one capture request bound to a ticket.
type Job struct {
	Ticket  string
	URL     string
	Command extractor.Command
	// Trace is the requester's span context; zero when the create request
	// carried none.
	Trace trace.SpanContext
}

// withTrace attaches the job's trace context to ctx so observers can
// propagate it.
func (j Job) withTrace(ctx context.Context) context.Context {
	if !j.Trace.IsValid() {
		return ctx
	}
	return trace.ContextWithRemoteSpanContext(ctx, j.Trace)
}

// Outcome describes a job that reached a terminal state.
type Outcome struct {
	Ticket    string
	URL       string
	Extractor string
	Status    Status
	Hash      string
	Bytes     int
	BlobPath  string
	Reason    string
	Started   time.Time
	Finished  time.Time
}

// Observer is notified after a ticket reaches a terminal state. Errors are
// logged and never affect the ticket.
type Observer interface {
	Observe(ctx context.Context, outcome Outcome) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, outcome Outcome) error

// Observe calls f.
func (f ObserverFunc) Observe(ctx context.Context, outcome Outcome) error {
	return f(ctx, outcome)
}

// Dispatcher schedules a job to run detached from the caller. Dispatch must
// not block on the job itself.
type Dispatcher interface {
	Dispatch(job Job)
}

// TicketGenerator mints new tickets.
type TicketGenerator interface {
	NewTicket() (string, error)
}

// Resolver looks up extractors by name.
type Resolver interface {
	Resolve(name string) (extractor.Command, bool)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
