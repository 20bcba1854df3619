package coordinator

import (
	"errors"
	"fmt"
)

var (
	// ErrRunInProgress is returned by Start when another Run holds the lease.
	ErrRunInProgress = errors.New("coordinator: run in progress")
	// ErrAdaptersUnavailable fails a Run whose generator, notifier and
	// publisher are all unreachable at start.
	ErrAdaptersUnavailable = errors.New("coordinator: all adapters unavailable")
	// ErrRunCancelled ends a Run stopped by Cancel.
	ErrRunCancelled = errors.New("coordinator: run cancelled")
)

type GenerationError struct {
	UserID int64
	Topic  string
	Err    error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed for user %d topic %q: %v", e.UserID, e.Topic, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

type NotifyError struct {
	DraftID int64
	Err     error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("notify failed for draft %d: %v", e.DraftID, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// PublishError reports a publish that ended the draft in failed_publish.
// Transient is true when the last attempt failed with a retryable error.
type PublishError struct {
	DraftID   int64
	Transient bool
	Attempts  int
	Err       error
}

func (e *PublishError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("publish failed (%s, %d attempts) for draft %d: %v", kind, e.Attempts, e.DraftID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
