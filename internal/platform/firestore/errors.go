package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type failureKind int

const (
	kindOther failureKind = iota
	kindNotFound
	kindConflict
	kindUnavailable
)

var kindByCode = map[codes.Code]failureKind{
	codes.NotFound:           kindNotFound,
	codes.AlreadyExists:      kindConflict,
	codes.FailedPrecondition: kindConflict,
	codes.Aborted:            kindConflict,
	codes.Unavailable:        kindUnavailable,
	codes.ResourceExhausted:  kindUnavailable,
	codes.Internal:           kindUnavailable,
	codes.DeadlineExceeded:   kindUnavailable,
	codes.Unknown:            kindUnavailable,
}

// Error satisfies repositories.RepositoryError for Firestore failures.
type Error struct {
	Op   string
	Code codes.Code
	err  error
}

func (e *Error) Error() string       { return e.Op + ": " + e.err.Error() }
func (e *Error) Unwrap() error       { return e.err }
func (e *Error) IsNotFound() bool    { return kindByCode[e.Code] == kindNotFound }
func (e *Error) IsConflict() bool    { return kindByCode[e.Code] == kindConflict }
func (e *Error) IsUnavailable() bool { return kindByCode[e.Code] == kindUnavailable }

// WrapError tags err with op and its gRPC code. Cancellation is surfaced as the
// plain context error so callers can tell it apart from backend failures.
func WrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := status.Code(err)
	switch code {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}
	return &Error{Op: op, Code: code, err: err}
}
