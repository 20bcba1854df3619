// Package fault classifies adapter failures into the three outcomes the
// pipeline branches on: success (nil), retryable failure, permanent failure.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind is the class of an adapter failure.
type Kind int

const (
	KindPermanent Kind = iota
	KindRetryable
)

func (k Kind) String() string {
	if k == KindRetryable {
		return "retryable"
	}
	return "permanent"
}

// Error wraps an adapter error with its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable marks err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindRetryable, Err: err}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindPermanent, Err: err}
}

// IsRetryable reports whether err was classified retryable. Unclassified
// network errors and deadline expiries count as retryable too.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == KindRetryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// FromStatus classifies an HTTP status: 429 and 5xx are retryable, every
// other non-2xx status is permanent.
func FromStatus(status int, err error) error {
	if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return Retryable(err)
	}
	return Permanent(err)
}

// FromTransport classifies an error returned by http.Client.Do or a dial.
// Cancellation by the caller is permanent; everything else is transient.
func FromTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return Permanent(err)
	}
	return Retryable(err)
}
