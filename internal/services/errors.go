package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConcurrentModification rejects a mutation while a checkout submission is in flight.
	ErrConcurrentModification = errors.New("checkout: submission in progress")
	// ErrCartEmpty is the precondition failure for submitting an empty cart.
	ErrCartEmpty = errors.New("checkout: cart is empty")
	// ErrInvalidTransition is the precondition failure for a step taken from the wrong stage.
	ErrInvalidTransition = errors.New("checkout: invalid stage transition")
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrEntitlementNotFound indicates the entitlement does not exist.
	ErrEntitlementNotFound = errors.New("entitlement: not found")
	// ErrEntitlementExpired indicates the entitlement expired; it can never be consumed again.
	ErrEntitlementExpired = errors.New("entitlement: expired")
	// ErrEntitlementExhausted indicates every allowed download was used.
	ErrEntitlementExhausted = errors.New("entitlement: exhausted")
	// ErrCatalogItemNotFound indicates the catalog item does not exist.
	ErrCatalogItemNotFound = errors.New("catalog: item not found")
	// ErrCatalogItemUnavailable indicates the item exists but is not for sale.
	ErrCatalogItemUnavailable = errors.New("catalog: item unavailable")
	// ErrCartItemNotFound indicates the item is not in the shopper cart.
	ErrCartItemNotFound = errors.New("cart: item not in cart")
	// ErrInvalidInput indicates malformed identifiers or arguments.
	ErrInvalidInput = errors.New("store: invalid input")
	// ErrUnavailable indicates a dependency could not be reached.
	ErrUnavailable = errors.New("store: dependency unavailable")
)

// FieldError names one invalid input field.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationError lists the fields that block a transition. It is user correctable.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// FieldNames returns the offending field names in order.
func (e *ValidationError) FieldNames() []string {
	if e == nil {
		return nil
	}
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return names
}

// PreconditionError reports an operation attempted in a state that does not allow it.
type PreconditionError struct {
	Stage  string
	Reason string
	Err    error
}

func (e *PreconditionError) Error() string {
	if e == nil {
		return ""
	}
	msg := "checkout: precondition failed"
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Stage != "" {
		msg += fmt.Sprintf(" (stage %s)", e.Stage)
	}
	return msg
}

// Unwrap exposes the sentinel cause.
func (e *PreconditionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// PaymentError reports a declined, failed or timed out authorization. The checkout
// returns to review with cart and customer data intact.
type PaymentError struct {
	DeclineReason string
	TimedOut      bool
	Err           error
}

func (e *PaymentError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.TimedOut:
		return "payment: processor timed out"
	case e.Err != nil:
		return "payment: processor failed: " + e.Err.Error()
	case e.DeclineReason != "":
		return "payment: declined: " + e.DeclineReason
	default:
		return "payment: declined"
	}
}

// Unwrap exposes the processor error, if any.
func (e *PaymentError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// DispatchError reports a failed confirmation dispatch. The order stands.
type DispatchError struct {
	OrderID string
	Err     error
}

func (e *DispatchError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("notification: dispatch for order %s failed: %v", e.OrderID, e.Err)
}

// Unwrap exposes the dispatcher error.
func (e *DispatchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
