// Package publisher posts confirmed drafts to the user's social platform.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AdamTech2025/twitter-autobot/internal/config"
	"github.com/AdamTech2025/twitter-autobot/internal/fault"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

// ErrUnknownPlatform means no provider is registered for a credential's
// platform.
var ErrUnknownPlatform = errors.New("publisher: unknown platform")

// ErrDuplicateContent is a platform rejecting a post it already has.
var ErrDuplicateContent = errors.New("publisher: duplicate content")

// UnknownPostID stands in for the id of a post the platform accepted but
// never reported back.
const UnknownPostID = "unknown"

// Publisher posts text on behalf of the credential's owner. The
// idempotency key identifies the logical post across retries.
type Publisher interface {
	Publish(ctx context.Context, cred types.Credential, text, idempotencyKey string) (string, error)
	Ping(ctx context.Context) error
}

// Registry dispatches to a provider by credential platform.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Publisher
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Publisher)}
}

// Register adds or replaces the provider for platform.
func (r *Registry) Register(platform string, p Publisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[platform] = p
}

// For returns the provider for platform.
func (r *Registry) For(platform string) (Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	return p, nil
}

// Platforms lists registered platforms in order.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Publish(ctx context.Context, cred types.Credential, text, idempotencyKey string) (string, error) {
	p, err := r.For(cred.Platform)
	if err != nil {
		return "", fault.Permanent(err)
	}
	return p.Publish(ctx, cred, text, idempotencyKey)
}

// Ping succeeds when at least one registered provider answers.
func (r *Registry) Ping(ctx context.Context) error {
	var errs []error
	for _, name := range r.Platforms() {
		p, _ := r.For(name)
		err := p.Ping(ctx)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}
	if len(errs) == 0 {
		return errors.New("publisher: no platforms registered")
	}
	return errors.Join(errs...)
}

// PostURL returns a public link for a published post, or "" when the
// platform has none.
func PostURL(platform, postID string) string {
	if postID == UnknownPostID {
		return ""
	}
	switch platform {
	case config.PlatformX:
		return "https://x.com/i/web/status/" + postID
	}
	return ""
}
