package provider

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the typed failure shape returned by the provider API, carrying the
// HTTP status and the provider's reason code. The sync engine branches on the
// variant helpers below rather than on status codes directly.
type Error struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("provider: %s (%d %s)", e.Message, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("provider: %s (%d)", e.Message, e.StatusCode)
}

// Provider reason codes that change control flow.
const (
	reasonRateLimited      = "rateLimitExceeded"
	reasonFullSyncRequired = "fullSyncRequired"
)

// IsGone reports whether the provider invalidated a sync cursor or watch
// subscription. The caller recovers by falling back to a fresh initial sync
// (or recreating the subscription), not by retrying.
func IsGone(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.StatusCode == http.StatusGone || pe.Reason == reasonFullSyncRequired
}

// IsRateLimited reports whether the provider asked us to back off.
func IsRateLimited(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.StatusCode == http.StatusTooManyRequests ||
		(pe.StatusCode == http.StatusForbidden && pe.Reason == reasonRateLimited)
}

// IsUnauthorized reports whether the bearer token was rejected.
func IsUnauthorized(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.StatusCode == http.StatusUnauthorized
}

// IsNotFound reports whether the remote resource no longer exists.
func IsNotFound(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		return false
	}
	return pe.StatusCode == http.StatusNotFound
}
