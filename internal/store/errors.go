package store

import (
	"errors"
	"strings"

	"github.com/lib/pq"
)

var (
	// ErrNotFound means no row matched the lookup.
	ErrNotFound = errors.New("store: not found")
	// ErrStaleState means a conditional write lost a race: the row was not in
	// the expected status. Callers reload and re-decide.
	ErrStaleState = errors.New("store: stale state")
	// ErrTokenInvalid covers unknown, already-used and not-yet-notified tokens.
	ErrTokenInvalid = errors.New("store: confirmation token invalid")
	// ErrTokenExpired means the draft's confirmation window has closed.
	ErrTokenExpired = errors.New("store: confirmation token expired")
	// ErrDuplicate means the idempotency key was already used.
	ErrDuplicate = errors.New("store: duplicate idempotency key")
)

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
