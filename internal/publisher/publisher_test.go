package publisher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AdamTech2025/twitter-autobot/internal/fault"
	"github.com/AdamTech2025/twitter-autobot/internal/logging"
	"github.com/AdamTech2025/twitter-autobot/internal/store"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

type countingPublisher struct {
	calls   atomic.Int32
	release chan struct{}
	err     error
}

func (p *countingPublisher) Publish(ctx context.Context, cred types.Credential, text, key string) (string, error) {
	n := p.calls.Add(1)
	if p.release != nil {
		<-p.release
	}
	if p.err != nil {
		return "", p.err
	}
	if n == 1 {
		return "post-1", nil
	}
	return "post-dup", nil
}

func (p *countingPublisher) Ping(ctx context.Context) error { return nil }

func newLedger(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), store.DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var cred = types.Credential{UserID: 1, Platform: "x", Token: "t", Secret: "s"}

func TestDedupReusesReceipt(t *testing.T) {
	ctx := context.Background()
	next := &countingPublisher{}
	d := NewDedup(next, newLedger(t), logging.Discard())

	id, err := d.Publish(ctx, cred, "hello", "key-1")
	require.NoError(t, err)
	require.Equal(t, "post-1", id)

	id, err = d.Publish(ctx, cred, "hello", "key-1")
	require.NoError(t, err)
	require.Equal(t, "post-1", id)
	require.EqualValues(t, 1, next.calls.Load())

	id, err = d.Publish(ctx, cred, "hello", "key-2")
	require.NoError(t, err)
	require.Equal(t, "post-dup", id)
	require.EqualValues(t, 2, next.calls.Load())
}

func TestDedupConcurrentCallsShareOnePost(t *testing.T) {
	ctx := context.Background()
	next := &countingPublisher{release: make(chan struct{})}
	d := NewDedup(next, newLedger(t), logging.Discard())

	const callers = 8
	ids := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = d.Publish(ctx, cred, "hello", "same-key")
		}(i)
	}
	close(next.release)
	wg.Wait()

	require.EqualValues(t, 1, next.calls.Load())
	for i := range ids {
		require.NoError(t, errs[i])
		require.Equal(t, "post-1", ids[i])
	}
}

func TestDedupFailureLeavesNoReceipt(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	next := &countingPublisher{err: fault.Retryable(errors.New("503"))}
	d := NewDedup(next, ledger, logging.Discard())

	_, err := d.Publish(ctx, cred, "hello", "k")
	require.Error(t, err)
	require.True(t, fault.IsRetryable(err))

	_, err = ledger.GetReceipt(ctx, "k")
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = d.Publish(ctx, cred, "hello", "")
	require.Error(t, err)
	require.False(t, fault.IsRetryable(err))
}

func TestRegistryDispatch(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()
	x := &countingPublisher{}
	r.Register("x", x)

	id, err := r.Publish(ctx, cred, "hello", "k")
	require.NoError(t, err)
	require.Equal(t, "post-1", id)

	_, err = r.Publish(ctx, types.Credential{Platform: "mastodon"}, "hello", "k")
	require.ErrorIs(t, err, ErrUnknownPlatform)
	require.False(t, fault.IsRetryable(err))

	require.Equal(t, []string{"x"}, r.Platforms())
	require.NoError(t, r.Ping(ctx))
	require.Error(t, NewRegistry().Ping(ctx))
}

func TestPostURL(t *testing.T) {
	require.Equal(t, "https://x.com/i/web/status/42", PostURL("x", "42"))
	require.Empty(t, PostURL("dryrun", "dryrun-1"))
	require.Empty(t, PostURL("x", UnknownPostID))
}
