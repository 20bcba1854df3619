package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

// DryRunPublisher logs instead of posting.
type DryRunPublisher struct {
	log *logrus.Entry

	mu    sync.Mutex
	posts map[string]string
}

func NewDryRunPublisher(log *logrus.Entry) *DryRunPublisher {
	return &DryRunPublisher{log: log, posts: make(map[string]string)}
}

func (p *DryRunPublisher) Publish(ctx context.Context, cred types.Credential, text, idempotencyKey string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := fmt.Sprintf("dryrun-%d", len(p.posts)+1)
	p.posts[id] = text
	p.log.WithFields(logrus.Fields{
		"user_id": cred.UserID,
		"post_id": id,
	}).Info("dry run publish: " + text)
	return id, nil
}

func (p *DryRunPublisher) Ping(ctx context.Context) error { return nil }

// Count reports how many posts were "published".
func (p *DryRunPublisher) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posts)
}
