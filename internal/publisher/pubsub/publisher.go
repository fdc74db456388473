// Package pubsub publishes capture events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/api/option"
)

// Publisher wraps a Pub/Sub topic publisher.
type Publisher struct {
	client     *pubsub.Client
	publisher  *pubsub.Publisher
	propagator propagation.TextMapPropagator
}

// New creates a Publisher for an existing topic publisher. Close only stops
// the publisher; the caller owns any client.
func New(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher, propagator: propagation.TraceContext{}}
}

// Dial connects to projectID and checks that topicID exists and is active.
// Without opts the client uses Application Default Credentials.
func Dial(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	topic, err := client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topicName})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("get topic %s: %w", topicID, err), client.Close())
	}
	// The emulator leaves the state unset.
	if state := topic.GetState(); state != pubsubpb.Topic_ACTIVE && state != pubsubpb.Topic_STATE_UNSPECIFIED {
		return nil, errors.Join(fmt.Errorf("topic %s is not active", topicName), client.Close())
	}
	return &Publisher{
		client:     client,
		publisher:  client.Publisher(topicName),
		propagator: propagation.TraceContext{},
	}, nil
}

// Publish marshals the payload to JSON and publishes it, carrying the W3C
// trace context of ctx, if any, in message attributes. The topic argument is ignored; the
// Publisher is bound to one topic.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: make(map[string]string)}
	p.propagator.Inject(ctx, &carrier{attrs: msg.Attributes})

	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client, if owned.
func (p *Publisher) Close() error {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// carrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type carrier struct {
	attrs map[string]string
}

func (c *carrier) Get(key string) string {
	return c.attrs[key]
}

func (c *carrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *carrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
