package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
)

// EmailJob is the payload consumed by the mail worker subscribed to the
// order-confirmation topic.
type EmailJob struct {
	Template       string    `json:"template"`
	To             string    `json:"to"`
	ToName         string    `json:"toName,omitempty"`
	Subject        string    `json:"subject"`
	HTMLBody       string    `json:"htmlBody"`
	TextBody       string    `json:"textBody"`
	OrderID        string    `json:"orderId"`
	OrderNumber    string    `json:"orderNumber"`
	QueuedAt       time.Time `json:"queuedAt"`
	IdempotencyKey string    `json:"idempotencyKey,omitempty"`
}

// PubSubEmailPublisher publishes email jobs to a Pub/Sub topic.
type PubSubEmailPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubEmailPublisher constructs a Pub/Sub backed email job publisher.
func NewPubSubEmailPublisher(topic *pubsub.Topic) (*PubSubEmailPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub email publisher: topic is required")
	}
	return &PubSubEmailPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishEmail enqueues the job and waits for the server acknowledgement.
func (p *PubSubEmailPublisher) PublishEmail(ctx context.Context, job EmailJob) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub email publisher: not initialised")
	}
	if strings.TrimSpace(job.To) == "" {
		return "", errors.New("pubsub email publisher: recipient is required")
	}

	data, err := p.marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal email job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "template", job.Template)
	setAttr(attrs, "orderId", job.OrderID)
	setAttr(attrs, "orderNumber", job.OrderNumber)
	setAttr(attrs, "idempotencyKey", job.IdempotencyKey)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish email job: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages; call during shutdown.
func (p *PubSubEmailPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
