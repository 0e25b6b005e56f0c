// Package errs defines the closed set of error kinds used across the
// coordinator. Every error that crosses a component boundary (HTTP response,
// gateway tool result, chat reply) is classified into one of these kinds;
// internal errors are wrapped with %w and classified at the edge.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable classification of an error.
type Kind string

const (
	KindValidation         Kind = "validation-error"
	KindRateLimited        Kind = "rate-limited"
	KindAccessDenied       Kind = "access-denied"
	KindNotFound           Kind = "not-found"
	KindServiceUnavailable Kind = "service-unavailable"
	KindUpstreamTimeout    Kind = "upstream-timeout"
	KindUpstreamError      Kind = "upstream-error"
	KindParse              Kind = "parse-error"
	KindIO                 Kind = "io-error"
	KindInternal           Kind = "internal-error"
)

// Error carries a kind, an optional offending field, and an optional cause.
type Error struct {
	Kind  Kind
	Field string
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s on field '%s': %s", e.Kind, e.Field, e.Msg)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an underlying error under the given kind.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, cause: cause}
}

// Validation reports a field-level validation failure.
func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: msg}
}

// RateLimited reports that a caller exceeded an admission limit.
func RateLimited(msg string) *Error {
	return &Error{Kind: KindRateLimited, Msg: msg}
}

// AccessDenied reports a policy refusal.
func AccessDenied(msg string) *Error {
	return &Error{Kind: KindAccessDenied, Msg: msg}
}

// NotFound reports a missing entity.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Msg: msg}
}

// ServiceUnavailable reports an unreachable or disabled downstream.
func ServiceUnavailable(msg string, cause error) *Error {
	return &Error{Kind: KindServiceUnavailable, Msg: msg, cause: cause}
}

// UpstreamTimeout reports a downstream call that exceeded its deadline.
func UpstreamTimeout(msg string, cause error) *Error {
	return &Error{Kind: KindUpstreamTimeout, Msg: msg, cause: cause}
}

// Upstream reports a downstream call that completed with a failure.
func Upstream(msg string, cause error) *Error {
	return &Error{Kind: KindUpstreamError, Msg: msg, cause: cause}
}

// Parse reports malformed input or output that could not be decoded.
func Parse(msg string, cause error) *Error {
	return &Error{Kind: KindParse, Msg: msg, cause: cause}
}

// IO reports a filesystem or network I/O failure.
func IO(msg string, cause error) *Error {
	return &Error{Kind: KindIO, Msg: msg, cause: cause}
}

// Internal reports an unexpected coordinator-side failure.
func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Msg: msg, cause: cause}
}

// KindOf extracts the kind from err, walking the wrap chain. Errors that were
// never classified report KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsValidation checks if an error is a field validation failure.
func IsValidation(err error) bool {
	return Is(err, KindValidation)
}
