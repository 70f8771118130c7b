package memory

import "fmt"

// Error implements repositories.RepositoryError for the in-memory backend.
type Error struct {
	op       string
	msg      string
	notFound bool
	conflict bool
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("memory.%s: %s", e.op, e.msg)
}

// IsNotFound reports whether the record is missing.
func (e *Error) IsNotFound() bool { return e != nil && e.notFound }

// IsConflict reports whether the write collided with an existing record.
func (e *Error) IsConflict() bool { return e != nil && e.conflict }

// IsUnavailable is always false for process memory.
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) *Error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflict(op, format string, args ...any) *Error {
	return &Error{op: op, msg: fmt.Sprintf(format, args...), conflict: true}
}
