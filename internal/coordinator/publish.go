package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/AdamTech2025/twitter-autobot/internal/fault"
	"github.com/AdamTech2025/twitter-autobot/internal/metrics"
	"github.com/AdamTech2025/twitter-autobot/internal/publisher"
	"github.com/AdamTech2025/twitter-autobot/internal/store"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

// Publish posts a confirmed draft. Retryable failures are retried up to
// PublishMaxAttempts with exponential backoff; anything else ends the draft
// in failed_publish. The draft's idempotency key goes to the publisher on
// every attempt, so a retry after a lost response cannot post twice.
func (c *Coordinator) Publish(ctx context.Context, d types.Draft) (types.Draft, error) {
	log := c.log.WithFields(logrus.Fields{"draft_id": d.ID, "user_id": d.UserID})

	cred, err := c.creds.Get(ctx, d.UserID)
	if err != nil {
		perr := &PublishError{DraftID: d.ID, Err: fmt.Errorf("credential: %w", err)}
		log.WithError(err).Warn("no usable credential for publish")
		return c.failPublish(ctx, d, perr, log)
	}

	postID, attempts, err := c.publishWithRetry(ctx, cred, d)
	if err != nil {
		perr := &PublishError{DraftID: d.ID, Transient: fault.IsRetryable(err), Attempts: attempts, Err: err}
		if ctx.Err() != nil {
			log.WithError(err).Warn("publish interrupted, draft stays confirmed for the next run")
			return d, perr
		}
		log.WithError(err).WithField("attempts", attempts).Warn("publish failed")
		return c.failPublish(ctx, d, perr, log)
	}

	if err := c.ledger.MarkPublished(ctx, d.ID, postID); err != nil {
		cur, gerr := c.ledger.GetDraft(ctx, d.ID)
		if gerr != nil {
			return d, fmt.Errorf("coordinator: mark published: %w", err)
		}
		log.WithError(err).WithField("status", cur.Status).Warn("draft moved on before publish was recorded")
		return cur, fmt.Errorf("coordinator: mark published: %w", err)
	}

	published, err := c.ledger.GetDraft(ctx, d.ID)
	if err != nil {
		return d, err
	}
	log.WithField("post_id", postID).Info("draft published")

	c.sendPublished(ctx, published, publisher.PostURL(cred.Platform, postID), log)
	return published, nil
}

func (c *Coordinator) publishWithRetry(ctx context.Context, cred types.Credential, d types.Draft) (string, int, error) {
	backoff := c.opts.PublishBackoff
	for attempt := 1; ; attempt++ {
		postID, err := c.publishAttempt(ctx, cred, d)
		if err == nil {
			metrics.PublishAttempt("ok")
			return postID, attempt, nil
		}
		if !fault.IsRetryable(err) {
			// An earlier attempt may have posted before its response was lost.
			if attempt > 1 && errors.Is(err, publisher.ErrDuplicateContent) {
				metrics.PublishAttempt("duplicate")
				c.log.WithError(err).WithField("draft_id", d.ID).
					Warn("platform already has this post, recording it as published")
				return publisher.UnknownPostID, attempt, nil
			}
			metrics.PublishAttempt("permanent")
			return "", attempt, err
		}
		metrics.PublishAttempt("retryable")
		if attempt >= c.opts.PublishMaxAttempts {
			return "", attempt, err
		}

		c.log.WithError(err).WithFields(logrus.Fields{
			"draft_id": d.ID,
			"attempt":  attempt,
			"backoff":  backoff,
		}).Info("publish failed, retrying")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", attempt, fault.Permanent(ctx.Err())
		case <-t.C:
		}
		backoff *= 2
	}
}

func (c *Coordinator) publishAttempt(ctx context.Context, cred types.Credential, d types.Draft) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.PublishTimeout)
	defer cancel()
	return c.pub.Publish(ctx, cred, d.Text, d.IdempotencyKey)
}

func (c *Coordinator) failPublish(ctx context.Context, d types.Draft, perr *PublishError, log *logrus.Entry) (types.Draft, error) {
	if err := c.ledger.MarkFailed(ctx, d.ID, types.FailurePublish, perr.Error()); err != nil && !errors.Is(err, store.ErrStaleState) {
		log.WithError(err).Error("failed to mark draft failed_publish")
	}
	if cur, err := c.ledger.GetDraft(ctx, d.ID); err == nil {
		d = cur
	}
	return d, perr
}

// sendPublished mails the "post is live" follow-up. Failures are logged.
func (c *Coordinator) sendPublished(ctx context.Context, d types.Draft, postURL string, log *logrus.Entry) {
	u, err := c.ledger.GetUser(ctx, d.UserID)
	if err != nil || u.Email == "" {
		return
	}
	if err := c.notify.SendPublished(ctx, u.Email, d, postURL); err != nil {
		log.WithError(err).Warn("failed to send published notice")
	}
}
