package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies mail provider failures. The retrier maps kinds to
// retry decisions; callers map them to user-visible messages.
type ErrorKind string

const (
	KindAuthExpired      ErrorKind = "auth_expired"
	KindPermissionDenied ErrorKind = "permission_denied"
	KindRateLimited      ErrorKind = "rate_limited"
	KindServerError      ErrorKind = "server_error"
	KindTimeout          ErrorKind = "timeout"
	KindNetwork          ErrorKind = "network"
	KindNotFound         ErrorKind = "not_found"
	KindBadRequest       ErrorKind = "bad_request"
)

// Error is a typed mail provider failure. RetryAfter is only set for
// rate-limited responses that carried a Retry-After header.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s: %s (status %d)", e.Op, e.Kind, e.StatusCode)
}

func (e *Error) Unwrap() error { return e.Err }

// AsProviderError extracts a typed provider error from an error chain.
func AsProviderError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Retryable reports whether the failure class is worth retrying at all.
// auth_expired is retryable only through a token refresh, which the retrier
// handles separately.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindTimeout, KindNetwork, KindAuthExpired:
		return true
	default:
		return false
	}
}
