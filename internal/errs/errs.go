// Package errs defines the fixed set of error kinds the memory engine
// returns across its tool-dispatch boundary, shaped after the component /
// operation / category wrapping used by the teacher's
// internal/errors/standard_errors.go, trimmed to what this engine needs.
package errs

import "fmt"

// Kind is a machine-readable error classification carried in every tool
// error response.
type Kind string

const (
	KindInvalidArgument       Kind = "InvalidArgument"
	KindInvalidTrigger        Kind = "InvalidTrigger"
	KindNotFound              Kind = "NotFound"
	KindForbiddenContent      Kind = "ForbiddenContent"
	KindUploadRejected        Kind = "UploadRejected"
	KindConflict              Kind = "Conflict"
	KindDependencyUnavailable Kind = "DependencyUnavailable"
	KindTimeout               Kind = "Timeout"
	KindInternal              Kind = "Internal"
)

// Error is the concrete error type returned by every public operation in
// this module.
type Error struct {
	Kind      Kind
	Component string
	Operation string
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with no wrapped cause.
func New(kind Kind, component, operation, message string) *Error {
	return &Error{Kind: kind, Component: component, Operation: operation, Message: message}
}

// Wrap creates an Error that carries an underlying cause.
func Wrap(kind Kind, component, operation, message string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Operation: operation, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, defaulting
// to KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// asError is a tiny local errors.As to avoid importing "errors" just for this.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
