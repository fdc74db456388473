// Package publisher announces finished captures to downstream consumers.
package publisher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webarc/internal/capture"
)

// Publisher delivers a payload to a topic and returns the broker's message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Event is the message body published for every terminal capture.
type Event struct {
	Ticket     string    `json:"ticket"`
	URL        string    `json:"url"`
	Extractor  string    `json:"extractor"`
	Status     string    `json:"status"`
	Hash       string    `json:"hash,omitempty"`
	Bytes      int       `json:"bytes"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewEvent converts an outcome into its wire form.
func NewEvent(o capture.Outcome) Event {
	return Event{
		Ticket:     o.Ticket,
		URL:        o.URL,
		Extractor:  o.Extractor,
		Status:     string(o.Status),
		Hash:       o.Hash,
		Bytes:      o.Bytes,
		Reason:     o.Reason,
		StartedAt:  o.Started,
		FinishedAt: o.Finished,
	}
}

// Notifier is a capture.Observer that publishes an Event per outcome.
type Notifier struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewNotifier creates a Notifier publishing to topic.
func NewNotifier(publisher Publisher, topic string, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{publisher: publisher, topic: topic, logger: logger}
}

// Observe publishes the outcome.
func (n *Notifier) Observe(ctx context.Context, outcome capture.Outcome) error {
	id, err := n.publisher.Publish(ctx, n.topic, NewEvent(outcome))
	if err != nil {
		return fmt.Errorf("publish capture %s: %w", outcome.Ticket, err)
	}
	n.logger.Debug("capture published",
		zap.String("ticket", outcome.Ticket),
		zap.String("status", string(outcome.Status)),
		zap.String("message_id", id),
	)
	return nil
}
