// Package apperr defines the error taxonomy surfaced by the sync core.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized means the JWT is missing/expired or the server rejected
	// the credential outright. The caller must force re-authentication.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the note no longer exists (server 404 or absent from cache).
	ErrNotFound = errors.New("not found")

	// ErrOffline means the network is unreachable and no cached data could
	// satisfy the call. When cached data exists the call succeeds instead.
	ErrOffline = errors.New("offline")

	// ErrServer means repeated 5xx responses after the retry budget was
	// exhausted. The mutation must not be assumed applied.
	ErrServer = errors.New("server error")

	// ErrValidation means malformed input was rejected before transmission.
	ErrValidation = errors.New("validation failed")

	// ErrThrottled is the errors.Is target for *ThrottledError.
	ErrThrottled = errors.New("throttled")

	// ErrConflict means a structural conflict, e.g. a parent change that
	// would introduce a cycle in the note tree.
	ErrConflict = errors.New("conflict")
)

// FromStatus maps an HTTP error status onto the taxonomy.
func FromStatus(status int) error {
	switch {
	case status == 401 || status == 403:
		return ErrUnauthorized
	case status == 404:
		return ErrNotFound
	case status == 409:
		return ErrConflict
	case status == 400 || status == 422:
		return ErrValidation
	case status >= 500:
		return ErrServer
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}

// ThrottledError is a client-side rate guard rejection. It never reaches the
// network and carries the remaining wait before the call may be retried.
type ThrottledError struct {
	Operation  string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled: %s retryable in %s", e.Operation, e.RetryAfter)
}

// Is makes errors.Is(err, ErrThrottled) match.
func (e *ThrottledError) Is(target error) bool {
	return target == ErrThrottled
}
