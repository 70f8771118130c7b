package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/topmanuais/api/internal/domain"
)

var (
	// ErrUnsupportedMethod is returned when no processor is registered for the payment method.
	ErrUnsupportedMethod = errors.New("payments: unsupported payment method")
	// ErrInvalidAmount is returned for negative amounts or amounts with sub-cent precision.
	ErrInvalidAmount = errors.New("payments: invalid amount")
)

// Decline reasons shared by processors that do not report a PSP specific code.
const (
	DeclineReasonSimulated      = "simulated_decline"
	DeclineReasonRequiresAction = "requires_action"
	DeclineReasonUnavailable    = "processor_unavailable"
)

// Customer carries the purchaser details some payment rails require (boleto needs a tax id).
type Customer struct {
	Name  string
	Email string
	TaxID string
}

// AuthorizationRequest is a single charge attempt for the server computed total.
type AuthorizationRequest struct {
	Method         domain.PaymentMethod
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Token          string
	Customer       Customer
	Description    string
	Metadata       map[string]string
}

// Authorization is the processor verdict. A declined authorization is not an error.
type Authorization struct {
	Approved      bool
	Reference     string
	DeclineReason string
	Provider      string
}

// Processor authorizes payments. Implementations must honour ctx cancellation and
// treat IdempotencyKey as a deduplication key for retries of the same attempt.
type Processor interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (Authorization, error)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, req AuthorizationRequest) (Authorization, error)

// Authorize calls f.
func (f ProcessorFunc) Authorize(ctx context.Context, req AuthorizationRequest) (Authorization, error) {
	return f(ctx, req)
}

// MinorUnits converts a decimal amount into integer cents.
func MinorUnits(amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount.String())
	}
	shifted := amount.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidAmount, amount.String())
	}
	return shifted.IntPart(), nil
}

func normaliseCurrency(currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return domain.DefaultCurrency
	}
	return currency
}
