// Package errs defines the error taxonomy shared by the dispatcher,
// orchestrator, and adapters. Every error carries a stable kind so callers
// can decide whether to retry, and validation errors carry the offending
// field path so the caller can correct the request.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable error classification.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindUnauthenticated     Kind = "unauthenticated"
	KindForbidden           Kind = "forbidden"
	KindTenantMismatch      Kind = "tenant_mismatch"
	KindInvalidTransition   Kind = "invalid_transition"
	KindAdapterUnavailable  Kind = "adapter_unavailable"
	KindCreativeNotApproved Kind = "creative_not_approved"
	KindConflict            Kind = "conflict"
	KindNotFound            Kind = "not_found"
	KindInternal            Kind = "internal"
)

// Error is a classified error. Field is set only for validation errors.
type Error struct {
	Kind    Kind
	Message string
	Field   string // Offending field path, e.g. "targeting_overlay.key_value_pairs".
	Wrapped error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Wrapped: err}
}

// Validation creates a validation error pointing at a request field.
func Validation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...), Field: field}
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the core may retry the operation internally.
// Only transient downstream failures qualify; validation, authorization,
// and lifecycle errors are surfaced immediately.
func Retryable(err error) bool {
	return KindOf(err) == KindAdapterUnavailable
}
