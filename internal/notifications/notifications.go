// Package notifications renders and dispatches order confirmation emails.
package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRecipientRequired is returned when a confirmation has no customer email.
var ErrRecipientRequired = errors.New("notifications: recipient email is required")

// LineItem is one purchased item as listed in the confirmation.
type LineItem struct {
	Title       string
	Quantity    int
	UnitPrice   decimal.Decimal
	DownloadRef string
	DownloadURL string
}

// OrderConfirmation is the fully formed message handed to a Dispatcher.
type OrderConfirmation struct {
	OrderID       string
	OrderNumber   string
	CustomerName  string
	CustomerEmail string
	LineItems     []LineItem
	Total         decimal.Decimal
	Currency      string
	PaymentMethod string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	MaxDownloads  int
}

// Dispatcher delivers order confirmations. Delivery is best effort.
type Dispatcher interface {
	SendOrderConfirmation(ctx context.Context, msg OrderConfirmation) error
}
