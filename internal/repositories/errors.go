package repositories

import (
	"errors"
	"fmt"
)

// ErrInvalidCounter rejects an empty counter id or a negative step.
var ErrInvalidCounter = errors.New("counters: invalid input")

func invalidCounter(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidCounter, fmt.Sprintf(format, args...))
}

// ValidateCounterStep normalises the increment requested from a counter.
// A zero step means one.
func ValidateCounterStep(counterID string, step int64) (int64, error) {
	if counterID == "" {
		return 0, invalidCounter("counter id is required")
	}
	if step < 0 {
		return 0, invalidCounter("step must be positive, got %d", step)
	}
	if step == 0 {
		return 1, nil
	}
	return step, nil
}

// EntitlementErrorCode enumerates why an entitlement could not be consumed.
type EntitlementErrorCode string

const (
	// EntitlementErrorNotFound indicates the entitlement does not exist.
	EntitlementErrorNotFound EntitlementErrorCode = "entitlement_not_found"
	// EntitlementErrorExpired indicates now is at or past the entitlement expiry.
	EntitlementErrorExpired EntitlementErrorCode = "entitlement_expired"
	// EntitlementErrorExhausted indicates every allowed download was used.
	EntitlementErrorExhausted EntitlementErrorCode = "entitlement_exhausted"
)

// EntitlementError reports a consume rejection with a machine readable code. The
// entitlement is left untouched whenever this error is returned.
type EntitlementError struct {
	Op            string
	Code          EntitlementErrorCode
	EntitlementID string
}

// Error implements the error interface.
func (e *EntitlementError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Code, e.EntitlementID)
	}
	return fmt.Sprintf("%s (%s)", e.Code, e.EntitlementID)
}

// IsNotFound lets callers treat a missing entitlement like any other missing record.
func (e *EntitlementError) IsNotFound() bool {
	return e != nil && e.Code == EntitlementErrorNotFound
}

// IsConflict reports false; consume rejections are permanent facts, not races.
func (e *EntitlementError) IsConflict() bool { return false }

// IsUnavailable reports false.
func (e *EntitlementError) IsUnavailable() bool { return false }

// NewEntitlementError constructs a typed entitlement error.
func NewEntitlementError(op string, code EntitlementErrorCode, entitlementID string) *EntitlementError {
	return &EntitlementError{Op: op, Code: code, EntitlementID: entitlementID}
}
