package notifications

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/topmanuais/api/internal/platform/jobs"
)

const confirmationTemplate = "order_confirmation"

type emailPublisher interface {
	PublishEmail(ctx context.Context, job jobs.EmailJob) (string, error)
}

// PubSubDispatcherDeps wires the Pub/Sub backed dispatcher.
type PubSubDispatcherDeps struct {
	Renderer  *Renderer
	Publisher emailPublisher
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

// PubSubDispatcher renders confirmations and enqueues them for the mail worker.
type PubSubDispatcher struct {
	renderer  *Renderer
	publisher emailPublisher
	now       func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewPubSubDispatcher validates dependencies and builds the dispatcher.
func NewPubSubDispatcher(deps PubSubDispatcherDeps) (*PubSubDispatcher, error) {
	if deps.Renderer == nil {
		return nil, errors.New("notifications: renderer is required")
	}
	if deps.Publisher == nil {
		return nil, errors.New("notifications: publisher is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PubSubDispatcher{
		renderer:  deps.Renderer,
		publisher: deps.Publisher,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// SendOrderConfirmation publishes one email job. The job carries the order ID as
// idempotency key so the worker can drop redeliveries.
func (d *PubSubDispatcher) SendOrderConfirmation(ctx context.Context, msg OrderConfirmation) error {
	email, err := d.renderer.Render(msg)
	if err != nil {
		return err
	}
	id, err := d.publisher.PublishEmail(ctx, jobs.EmailJob{
		Template:       confirmationTemplate,
		To:             msg.CustomerEmail,
		ToName:         msg.CustomerName,
		Subject:        email.Subject,
		HTMLBody:       email.HTML,
		TextBody:       email.Text,
		OrderID:        msg.OrderID,
		OrderNumber:    msg.OrderNumber,
		QueuedAt:       d.now(),
		IdempotencyKey: confirmationTemplate + ":" + msg.OrderID,
	})
	if err != nil {
		return err
	}
	d.logger(ctx, "notification_enqueued", map[string]any{
		"orderId":   msg.OrderID,
		"messageId": id,
	})
	return nil
}

// LogDispatcher writes rendered confirmations to the log instead of sending them.
type LogDispatcher struct {
	renderer *Renderer
	logger   *zap.Logger
}

// NewLogDispatcher builds a dispatcher for local development.
func NewLogDispatcher(renderer *Renderer, logger *zap.Logger) (*LogDispatcher, error) {
	if renderer == nil {
		return nil, errors.New("notifications: renderer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDispatcher{renderer: renderer, logger: logger.Named("notifications")}, nil
}

// SendOrderConfirmation renders the email and logs it.
func (d *LogDispatcher) SendOrderConfirmation(_ context.Context, msg OrderConfirmation) error {
	email, err := d.renderer.Render(msg)
	if err != nil {
		return err
	}
	d.logger.Info("order confirmation",
		zap.String("to", msg.CustomerEmail),
		zap.String("orderNumber", msg.OrderNumber),
		zap.String("subject", email.Subject),
		zap.String("body", email.Text),
	)
	return nil
}
