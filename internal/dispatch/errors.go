package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired signals that the authority rejected the session.
	// Local credentials have already been cleared when it is returned.
	ErrAuthRequired = errors.New("dispatch: authentication required")

	// ErrConflict signals a stale concurrency version or session token.
	ErrConflict = errors.New("dispatch: stale version or session")
)

// ServerError carries a non-2xx response. 4xx are permanent; 5xx are
// retried as transient.
type ServerError struct {
	Status int
	Reason string
}

func (e *ServerError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Reason)
}

// transient reports whether an attempt's failure is worth retrying:
// network errors, timeouts and 5xx responses. Validation (4xx), conflict
// and auth failures are permanent, retrying cannot change the outcome.
func transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrAuthRequired) {
		return false
	}
	var se *ServerError
	if errors.As(err, &se) {
		return se.Status >= 500
	}
	return true
}
