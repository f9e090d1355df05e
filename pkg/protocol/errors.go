package protocol

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and client reporting.
type Kind string

const (
	// KindInvalidInput covers malformed frames, bad tool arguments, and
	// oversized attachments. Never retried.
	KindInvalidInput Kind = "invalid_input"

	// KindNotPermitted covers tool policy violations, sensitive paths,
	// and signature failures. Reported and audited.
	KindNotPermitted Kind = "not_permitted"

	// KindUnavailable covers an unreachable upstream provider or a
	// temporarily locked index. Retried per policy.
	KindUnavailable Kind = "unavailable"

	// KindRateLimited covers upstream or local rate limiting. Retried
	// against the next provider in a chain; surfaced otherwise.
	KindRateLimited Kind = "rate_limited"

	// KindBadRequest covers requests the upstream rejected as malformed.
	// Never retried; surfaced to the caller.
	KindBadRequest Kind = "bad_request"

	// KindTimeout covers deadline expiry, soft or hard.
	KindTimeout Kind = "timeout"

	// KindToolError means a tool ran but failed intrinsically (test
	// failure, compile error). It is data for the next role, not a
	// system error.
	KindToolError Kind = "tool_error"

	// KindInternal covers bugs and invariant violations.
	KindInternal Kind = "internal"
)

// Error carries a taxonomy kind alongside the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a taxonomy error.
func NewError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Errorf builds a taxonomy error from a format string.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the taxonomy kind from an error chain.
// Context cancellation and deadline expiry map to timeout; anything
// unclassified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindInternal
}

// Retryable reports whether an error kind warrants trying the next
// provider in a fallback chain.
func Retryable(kind Kind) bool {
	return kind == KindUnavailable || kind == KindRateLimited
}
