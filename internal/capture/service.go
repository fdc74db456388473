package capture

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarc/internal/hash/sha256"
	"github.com/JakeFAU/webarc/internal/id/uuid"
	"github.com/JakeFAU/webarc/internal/storage/local"
)

// BlobReader opens persisted blobs for streaming.
type BlobReader interface {
	Open(ticket string) (*local.Blob, error)
}

// Service implements the create/progress/confirm/output operations.
// Authorization happens in front of it.
type Service struct {
	extractors Resolver
	registry   *Registry
	blobs      BlobReader
	tickets    TicketGenerator
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewService constructs a Service.
func NewService(
	extractors Resolver,
	registry *Registry,
	blobs BlobReader,
	tickets TicketGenerator,
	dispatcher Dispatcher,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		extractors: extractors,
		registry:   registry,
		blobs:      blobs,
		tickets:    tickets,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Create validates the request, registers a new ticket as in progress, and
// dispatches the capture. Nothing is registered when validation fails. A span
// context on ctx travels with the job; ctx itself is not, since the capture
// outlives the request.
func (s *Service) Create(ctx context.Context, rawURL, extractorName string) (string, error) {
	cmd, ok := s.extractors.Resolve(extractorName)
	if !ok {
		return "", ErrInvalidExtractor
	}
	if err := validateURL(rawURL); err != nil {
		return "", err
	}

	ticket, err := s.tickets.NewTicket()
	if err != nil {
		return "", fmt.Errorf("mint ticket: %w", err)
	}
	if err := s.registry.Register(ticket); err != nil {
		return "", err
	}
	s.dispatcher.Dispatch(Job{
		Ticket:  ticket,
		URL:     rawURL,
		Command: cmd,
		Trace:   trace.SpanContextFromContext(ctx),
	})
	s.logger.Info("capture initiated",
		zap.String("ticket", ticket),
		zap.String("extractor", cmd.Name),
		zap.String("url", rawURL),
	)
	return ticket, nil
}

// Progress reports the ticket's lifecycle state.
func (s *Service) Progress(_ context.Context, ticket string) Status {
	canonical, ok := uuid.Canonical(ticket)
	if !ok {
		return StatusNoSuchCapture
	}
	return s.registry.Status(canonical)
}

// Confirm compares hash with the stored result of a completed ticket.
func (s *Service) Confirm(_ context.Context, ticket, hash string) ConfirmResult {
	canonical, ok := uuid.Canonical(ticket)
	if !ok {
		return ConfirmNoSuchCapture
	}
	stored, ok := s.registry.Hash(canonical)
	if !ok {
		return ConfirmNoSuchCapture
	}
	if sha256.Equal(stored, hash) {
		return ConfirmCorrectHash
	}
	return ConfirmIncorrectHash
}

// Output opens the ticket's blob. Only the presence of the file is checked;
// the ticket's status is not consulted.
func (s *Service) Output(_ context.Context, ticket string) (*local.Blob, error) {
	canonical, ok := uuid.Canonical(ticket)
	if !ok {
		return nil, ErrNoSuchCapture
	}
	blob, err := s.blobs.Open(canonical)
	if err != nil {
		if errors.Is(err, local.ErrNotFound) {
			return nil, ErrNoSuchCapture
		}
		return nil, fmt.Errorf("open output: %w", err)
	}
	return blob, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: absolute URL required", ErrInvalidURL)
	}
	return nil
}
