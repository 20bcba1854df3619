package types

import "time"

// Status is the state-machine position of a Draft.
type Status string

const (
	StatusGenerated            Status = "generated"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusConfirmed            Status = "confirmed"
	StatusPublished            Status = "published"
	StatusExpired              Status = "expired"
	StatusFailedGeneration     Status = "failed_generation"
	StatusFailedNotify         Status = "failed_notify"
	StatusFailedPublish        Status = "failed_publish"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusPublished, StatusExpired, StatusFailedGeneration, StatusFailedNotify, StatusFailedPublish:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusGenerated, StatusAwaitingConfirmation, StatusConfirmed:
		return true
	}
	return s.Terminal()
}

// FailureKind selects which failed_* status a draft ends in.
type FailureKind string

const (
	FailureGeneration FailureKind = "generation"
	FailureNotify     FailureKind = "notify"
	FailurePublish    FailureKind = "publish"
)

// Status maps the failure kind to its terminal status.
func (k FailureKind) Status() Status {
	switch k {
	case FailureGeneration:
		return StatusFailedGeneration
	case FailureNotify:
		return StatusFailedNotify
	default:
		return StatusFailedPublish
	}
}

// User is a registered account eligible for generation.
type User struct {
	ID         int64     `json:"id"`
	ScreenName string    `json:"screen_name"`
	Email      string    `json:"email,omitempty"`
	Topics     []string  `json:"topics"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Credential is the per-user publishing credential handle.
type Credential struct {
	UserID   int64  `json:"user_id"`
	Platform string `json:"platform"`
	Token    string `json:"-"`
	Secret   string `json:"-"`
}

// Draft is one generated candidate post and its lifecycle.
type Draft struct {
	ID                int64      `json:"id"`
	UserID            int64      `json:"user_id"`
	RunID             int64      `json:"run_id"`
	Topic             string     `json:"topic"`
	Text              string     `json:"text"`
	Status            Status     `json:"status"`
	ConfirmationToken string     `json:"-"`
	IdempotencyKey    string     `json:"idempotency_key"`
	ExternalPostID    string     `json:"external_post_id,omitempty"`
	FailureReason     string     `json:"failure_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	NotifiedAt        *time.Time `json:"notified_at,omitempty"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	TokenUsedAt       *time.Time `json:"token_used_at,omitempty"`
}

// TriggerSource records what started a Run.
type TriggerSource string

const (
	TriggerScheduled TriggerSource = "scheduled"
	TriggerManual    TriggerSource = "manual"
)

// RunStatus is the lifecycle of a Run record.
type RunStatus string

const (
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// Run is one invocation of the coordinator sweep.
type Run struct {
	ID            int64         `json:"id"`
	TriggerSource TriggerSource `json:"trigger_source"`
	Status        RunStatus     `json:"status"`
	StartedAt     time.Time     `json:"started_at"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	Summary       *RunSummary   `json:"summary,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// OutcomeKind is the per (user, topic) result of a Run.
type OutcomeKind string

const (
	OutcomeGenerated        OutcomeKind = "generated"
	OutcomeSkipped          OutcomeKind = "skipped"
	OutcomeFailedGeneration OutcomeKind = "failed_generation"
	OutcomeFailedNotify     OutcomeKind = "failed_notify"
)

// Outcome is one line of a Run summary.
type Outcome struct {
	UserID  int64       `json:"user_id"`
	Topic   string      `json:"topic,omitempty"`
	Kind    OutcomeKind `json:"kind"`
	Reason  string      `json:"reason,omitempty"`
	DraftID int64       `json:"draft_id,omitempty"`
}

// RunSummary aggregates what a Run did.
type RunSummary struct {
	RunID    int64         `json:"run_id"`
	Source   TriggerSource `json:"source"`
	Swept    int64         `json:"swept"`
	Resumed  int           `json:"resumed"`
	Outcomes []Outcome     `json:"outcomes"`
}

// Count returns how many outcomes have the given kind.
func (s *RunSummary) Count(kind OutcomeKind) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Kind == kind {
			n++
		}
	}
	return n
}
