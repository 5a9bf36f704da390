package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
)

// Kind classifies pipeline errors so retry and backoff decisions are a
// switch on error kind rather than string matching.
type Kind int

const (
	// KindTransient covers network timeouts and provider 5xx responses;
	// retried with exponential backoff.
	KindTransient Kind = iota
	// KindRateLimited is the provider's 429-equivalent; retried with a
	// strictly longer backoff than generic transient errors.
	KindRateLimited
	// KindNonRetryable covers authentication and malformed-request
	// errors; propagated immediately, they indicate misconfiguration.
	KindNonRetryable
	// KindValidation marks vectors with wrong dimensionality or
	// non-finite values; the offending unit is skipped, not retried.
	KindValidation
	// KindCircuitOpen is a fail-fast rejection while the breaker
	// cooldown is running.
	KindCircuitOpen
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindNonRetryable:
		return "non_retryable"
	case KindValidation:
		return "validation"
	case KindCircuitOpen:
		return "circuit_open"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("embedding %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the classified kind of err. Provider errors are mapped
// by HTTP status; unknown errors default to transient so they get a
// bounded retry rather than aborting sibling work.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests:
			return KindRateLimited
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest, http.StatusNotFound:
			return KindNonRetryable
		default:
			return KindTransient
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}

	return KindTransient
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
