package publisher

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/AdamTech2025/twitter-autobot/internal/fault"
	"github.com/AdamTech2025/twitter-autobot/internal/store"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

// ReceiptStore persists which idempotency keys already produced a post.
type ReceiptStore interface {
	GetReceipt(ctx context.Context, key string) (store.Receipt, error)
	SaveReceipt(ctx context.Context, r store.Receipt) error
}

// Dedup makes Publish idempotent on its key: a key with a receipt returns
// the recorded post id without calling the platform, and concurrent calls
// for one key share a single platform call.
type Dedup struct {
	next     Publisher
	receipts ReceiptStore
	group    singleflight.Group
	log      *logrus.Entry
}

func NewDedup(next Publisher, receipts ReceiptStore, log *logrus.Entry) *Dedup {
	return &Dedup{next: next, receipts: receipts, log: log}
}

func (d *Dedup) Publish(ctx context.Context, cred types.Credential, text, idempotencyKey string) (string, error) {
	if idempotencyKey == "" {
		return "", fault.Permanent(errors.New("publisher: idempotency key required"))
	}

	v, err, shared := d.group.Do(idempotencyKey, func() (any, error) {
		r, err := d.receipts.GetReceipt(ctx, idempotencyKey)
		if err == nil {
			d.log.WithField("post_id", r.ExternalPostID).Info("publish already recorded for key, reusing")
			return r.ExternalPostID, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return "", fault.Retryable(fmt.Errorf("publisher: read receipt: %w", err))
		}

		postID, err := d.next.Publish(ctx, cred, text, idempotencyKey)
		if err != nil {
			return "", err
		}

		// The post exists now; a lost receipt only weakens later de-dup.
		if err := d.receipts.SaveReceipt(ctx, store.Receipt{
			IdempotencyKey: idempotencyKey,
			ExternalPostID: postID,
		}); err != nil {
			d.log.WithError(err).WithField("post_id", postID).Error("failed to record publish receipt")
			return postID, nil
		}
		if r, err := d.receipts.GetReceipt(ctx, idempotencyKey); err == nil {
			postID = r.ExternalPostID
		}
		return postID, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		d.log.Debug("publish call shared with a concurrent caller")
	}
	return v.(string), nil
}

func (d *Dedup) Ping(ctx context.Context) error {
	return d.next.Ping(ctx)
}
