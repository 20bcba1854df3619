// Package confirm turns an inbound confirmation token into a published
// post. Replays are safe: the ledger consumes a token exactly once, and
// only the caller that consumed it goes on to publish.
package confirm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/AdamTech2025/twitter-autobot/internal/metrics"
	"github.com/AdamTech2025/twitter-autobot/internal/store"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

// Result is the user-facing outcome of a confirmation.
type Result string

const (
	ResultPublished     Result = "confirmed-and-published"
	ResultAlreadyUsed   Result = "already-used"
	ResultExpired       Result = "expired"
	ResultPublishFailed Result = "publish-failed"
)

// Outcome is what Confirm reports back for one token.
type Outcome struct {
	Result Result
	Draft  types.Draft
	PostID string
	Reason string
}

// Ledger is the token consumption side of the draft store.
type Ledger interface {
	Confirm(ctx context.Context, token string) (types.Draft, error)
}

// Publisher publishes a draft that was just confirmed.
type Publisher interface {
	Publish(ctx context.Context, d types.Draft) (types.Draft, error)
}

type Service struct {
	ledger Ledger
	pub    Publisher
	log    *logrus.Entry
}

func New(ledger Ledger, pub Publisher, log *logrus.Entry) *Service {
	return &Service{ledger: ledger, pub: pub, log: log}
}

// Confirm consumes token and publishes the draft. A ledger failure other
// than a token verdict is returned as an error.
func (s *Service) Confirm(ctx context.Context, token string) (Outcome, error) {
	d, err := s.ledger.Confirm(ctx, token)
	switch {
	case errors.Is(err, store.ErrTokenInvalid):
		metrics.Confirmation(string(ResultAlreadyUsed))
		return Outcome{Result: ResultAlreadyUsed, Reason: "this link was already used or is not valid"}, nil
	case errors.Is(err, store.ErrTokenExpired):
		metrics.Confirmation(string(ResultExpired))
		return Outcome{Result: ResultExpired, Reason: "this draft expired before it was confirmed"}, nil
	case err != nil:
		return Outcome{}, fmt.Errorf("confirm: %w", err)
	}

	log := s.log.WithFields(logrus.Fields{"draft_id": d.ID, "user_id": d.UserID})
	log.Info("draft confirmed, publishing")

	// The token is spent; publishing must finish even if the caller leaves.
	published, err := s.pub.Publish(context.WithoutCancel(ctx), d)
	if err != nil {
		metrics.Confirmation(string(ResultPublishFailed))
		log.WithError(err).Warn("publish after confirmation failed")
		return Outcome{Result: ResultPublishFailed, Draft: published, Reason: err.Error()}, nil
	}

	metrics.Confirmation(string(ResultPublished))
	return Outcome{Result: ResultPublished, Draft: published, PostID: published.ExternalPostID}, nil
}
