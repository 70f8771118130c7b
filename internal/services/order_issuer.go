package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/topmanuais/api/internal/domain"
	"github.com/topmanuais/api/internal/payments"
	"github.com/topmanuais/api/internal/repositories"
)

const maxOrderNumberAttempts = 3

// OrderDraft is everything a checkout knows about an order before payment is recorded.
type OrderDraft struct {
	SessionID     string
	Customer      domain.CustomerInfo
	PaymentMethod domain.PaymentMethod
	LineItems     []domain.OrderLineItem
}

// LineItemsFromCart converts cart entries into order lines, one per distinct item.
func LineItemsFromCart(cart domain.Cart) []domain.OrderLineItem {
	lines := make([]domain.OrderLineItem, 0, len(cart.Entries))
	for _, entry := range cart.Entries {
		lines = append(lines, domain.OrderLineItem{
			ItemID:      entry.Item.ID,
			Title:       entry.Item.Title,
			UnitPrice:   entry.Item.UnitPrice,
			Quantity:    entry.Quantity,
			DownloadRef: entry.Item.DownloadRef,
		})
	}
	return lines
}

// OrderIssuerDeps wires persistence and numbering for order issue.
type OrderIssuerDeps struct {
	Orders         repositories.OrderRepository
	Counters       CounterService
	Clock          func() time.Time
	IDGenerator    func() string
	Currency       string
	EntitlementTTL time.Duration
	MaxDownloads   int
	Logger         Logger
}

type orderIssuer struct {
	orders       repositories.OrderRepository
	counters     CounterService
	now          func() time.Time
	newID        func() string
	currency     string
	ttl          time.Duration
	maxDownloads int
	logger       Logger
}

// NewOrderIssuer constructs an OrderIssuer.
func NewOrderIssuer(deps OrderIssuerDeps) (OrderIssuer, error) {
	if deps.Orders == nil {
		return nil, errors.New("order issuer: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order issuer: counter service is required")
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	ttl := deps.EntitlementTTL
	if ttl <= 0 {
		ttl = domain.DefaultEntitlementTTL
	}
	maxDownloads := deps.MaxDownloads
	if maxDownloads <= 0 {
		maxDownloads = domain.DefaultMaxDownloads
	}

	return &orderIssuer{
		orders:       deps.Orders,
		counters:     deps.Counters,
		now:          utcClock(deps.Clock),
		newID:        idGen,
		currency:     currency,
		ttl:          ttl,
		maxDownloads: maxDownloads,
		logger:       loggerOrNoop(deps.Logger),
	}, nil
}

// CreateOrder builds an order without touching storage. The total is always recomputed
// from the line items.
func (i *orderIssuer) CreateOrder(orderNumber string, customer domain.CustomerInfo, method domain.PaymentMethod, lineItems []domain.OrderLineItem) (domain.Order, error) {
	if len(lineItems) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order requires at least one line item", ErrInvalidInput)
	}
	if !method.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrInvalidInput, method)
	}

	lines := make([]domain.OrderLineItem, 0, len(lineItems))
	total := decimal.Zero
	for idx, line := range lineItems {
		if strings.TrimSpace(line.ItemID) == "" {
			return domain.Order{}, fmt.Errorf("%w: line %d has no item id", ErrInvalidInput, idx)
		}
		if line.Quantity < 1 {
			return domain.Order{}, fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidInput, idx)
		}
		if line.UnitPrice.IsNegative() {
			return domain.Order{}, fmt.Errorf("%w: line %d price must not be negative", ErrInvalidInput, idx)
		}
		lines = append(lines, line)
		total = total.Add(line.Subtotal())
	}

	return domain.Order{
		ID:            i.newID(),
		OrderNumber:   strings.TrimSpace(orderNumber),
		Customer:      customer,
		LineItems:     lines,
		Total:         total,
		Currency:      i.currency,
		PaymentMethod: method,
		Status:        domain.OrderStatusCompleted,
		CreatedAt:     i.now(),
	}, nil
}

// IssueEntitlements creates one unused entitlement per line item, regardless of quantity.
func (i *orderIssuer) IssueEntitlements(order domain.Order) []domain.DownloadEntitlement {
	issuedAt := order.CreatedAt
	if issuedAt.IsZero() {
		issuedAt = i.now()
	}
	entitlements := make([]domain.DownloadEntitlement, 0, len(order.LineItems))
	for _, line := range order.LineItems {
		entitlements = append(entitlements, domain.DownloadEntitlement{
			ID:           i.newID(),
			OrderID:      order.ID,
			ItemID:       line.ItemID,
			Title:        line.Title,
			TargetRef:    line.DownloadRef,
			IssuedAt:     issuedAt,
			ExpiresAt:    issuedAt.Add(i.ttl),
			MaxDownloads: i.maxDownloads,
		})
	}
	return entitlements
}

// Finalize records an approved payment as a persisted order with its entitlements.
// Order number collisions are retried with a fresh number.
func (i *orderIssuer) Finalize(ctx context.Context, draft OrderDraft, auth payments.Authorization) (domain.Order, error) {
	if !auth.Approved {
		return domain.Order{}, &PaymentError{DeclineReason: auth.DeclineReason}
	}

	var lastErr error
	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		number, err := i.counters.NextOrderNumber(ctx)
		if err != nil {
			return domain.Order{}, err
		}
		order, err := i.CreateOrder(number, draft.Customer, draft.PaymentMethod, draft.LineItems)
		if err != nil {
			return domain.Order{}, err
		}
		order.SessionID = draft.SessionID
		order.PaymentStatus = domain.PaymentStatusApproved
		order.PaymentReference = auth.Reference
		order.PaidAt = order.CreatedAt
		order.Entitlements = i.IssueEntitlements(order)

		err = i.orders.Create(ctx, order)
		if err == nil {
			i.logger(ctx, "order_created", map[string]any{
				"orderId":      order.ID,
				"orderNumber":  order.OrderNumber,
				"total":        order.Total.StringFixed(2),
				"entitlements": len(order.Entitlements),
			})
			return order, nil
		}

		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			return domain.Order{}, translateRepositoryError(err, nil)
		}
		lastErr = err
		i.logger(ctx, "order_number_conflict", map[string]any{"orderNumber": number, "attempt": attempt})
	}
	return domain.Order{}, fmt.Errorf("order issuer: could not allocate a unique order number: %w", lastErr)
}
