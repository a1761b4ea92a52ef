package utils

import (
	"errors"
	"fmt"
)

// FailureKind classifies how an operation failed. The kind drives retry and
// degradation policy: transient and rate-limited calls are retried once,
// not-found triggers a fallback, exhausted and schema-invalid never retry.
type FailureKind string

const (
	KindTransient     FailureKind = "transient"
	KindRateLimited   FailureKind = "rate_limited"
	KindNotFound      FailureKind = "not_found"
	KindExhausted     FailureKind = "exhausted"
	KindSchemaInvalid FailureKind = "schema_invalid"
)

// AppError wraps an operation, a failure kind, a human-facing message, and
// the underlying error.
type AppError struct {
	Op   string
	Kind FailureKind
	Msg  string
	Err  error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op string, kind FailureKind, msg string, err error) error {
	return &AppError{Op: op, Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the failure kind from an error chain. Errors that carry no
// AppError default to transient, the retriable interpretation.
func KindOf(err error) FailureKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindTransient
}

// IsKind reports whether the error chain carries the given failure kind.
func IsKind(err error, kind FailureKind) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}
