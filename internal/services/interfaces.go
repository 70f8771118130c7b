package services

import (
	"context"
	"time"

	domain "github.com/topmanuais/api/internal/domain"
	"github.com/topmanuais/api/internal/notifications"
	"github.com/topmanuais/api/internal/payments"
)

// Logger is the structured event hook every service accepts.
type Logger func(ctx context.Context, event string, fields map[string]any)

// CatalogService is the read-only catalog lookup used by carts and handlers.
type CatalogService interface {
	GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error)
	ListItems(ctx context.Context) ([]domain.CatalogItem, error)
}

// CounterService issues human readable sequence numbers.
type CounterService interface {
	NextOrderNumber(ctx context.Context) (string, error)
}

// OrderIssuer builds orders and entitlements and records them once payment is approved.
type OrderIssuer interface {
	CreateOrder(orderNumber string, customer domain.CustomerInfo, method domain.PaymentMethod, lineItems []domain.OrderLineItem) (domain.Order, error)
	IssueEntitlements(order domain.Order) []domain.DownloadEntitlement
	Finalize(ctx context.Context, draft OrderDraft, auth payments.Authorization) (domain.Order, error)
}

// DownloadService serves the download page and consumes entitlements.
type DownloadService interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListEntitlements(ctx context.Context, orderID string) ([]domain.DownloadEntitlement, error)
	Consume(ctx context.Context, entitlementID string) (domain.DownloadTarget, error)
}

// DownloadLinkSigner materialises a stored target reference into a short lived URL.
type DownloadLinkSigner interface {
	SignDownload(ctx context.Context, targetRef string) (string, time.Time, error)
}

// ConfirmationDispatcher delivers the order confirmation message.
type ConfirmationDispatcher interface {
	SendOrderConfirmation(ctx context.Context, msg notifications.OrderConfirmation) error
}

// Instrumentation receives business metrics. A nil Instrumentation is replaced by a no-op.
type Instrumentation interface {
	ObserveCheckout(outcome string)
	ObservePayment(method, result string, elapsed time.Duration)
	ObserveConsume(result string)
	ObserveNotification(result string)
}

type noopInstrumentation struct{}

func (noopInstrumentation) ObserveCheckout(string)                       {}
func (noopInstrumentation) ObservePayment(string, string, time.Duration) {}
func (noopInstrumentation) ObserveConsume(string)                        {}
func (noopInstrumentation) ObserveNotification(string)                   {}

func instrumentationOrNoop(m Instrumentation) Instrumentation {
	if m == nil {
		return noopInstrumentation{}
	}
	return m
}

func loggerOrNoop(l Logger) Logger {
	if l == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return l
}

func utcClock(clock func() time.Time) func() time.Time {
	if clock == nil {
		clock = time.Now
	}
	return func() time.Time {
		return clock().UTC()
	}
}
