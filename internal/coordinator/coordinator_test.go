package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AdamTech2025/twitter-autobot/internal/fault"
	"github.com/AdamTech2025/twitter-autobot/internal/logging"
	"github.com/AdamTech2025/twitter-autobot/internal/publisher"
	"github.com/AdamTech2025/twitter-autobot/internal/store"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubGen struct {
	mu      sync.Mutex
	fail    map[string]error
	calls   []string
	pingErr error
	entered chan struct{}
	block   chan struct{}

	// pingEntered, when set, makes Ping signal and wait for ctx.
	pingEntered chan struct{}
}

func (g *stubGen) Generate(ctx context.Context, topic string) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, topic)
	err := g.fail[topic]
	entered, block := g.entered, g.block
	g.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return "", err
	}
	return "Hello " + strings.TrimPrefix(topic, "#"), nil
}

func (g *stubGen) Ping(ctx context.Context) error {
	if g.pingEntered != nil {
		g.pingEntered <- struct{}{}
		<-ctx.Done()
		return ctx.Err()
	}
	return g.pingErr
}

func (g *stubGen) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type sentMail struct {
	to    string
	link  string
	draft types.Draft
}

type stubNotifier struct {
	mu        sync.Mutex
	sent      []sentMail
	published []sentMail
	fail      error
	pingErr   error
}

func (n *stubNotifier) SendConfirmation(ctx context.Context, address string, d types.Draft, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, sentMail{to: address, link: link, draft: d})
	return nil
}

func (n *stubNotifier) SendPublished(ctx context.Context, address string, d types.Draft, postURL string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, sentMail{to: address, link: postURL, draft: d})
	return nil
}

func (n *stubNotifier) Ping(ctx context.Context) error { return n.pingErr }

var errNoCredential = errors.New("no credential")

type stubCreds struct {
	mu      sync.Mutex
	has     map[int64]bool
	panicky atomic.Bool
}

func (c *stubCreds) Get(ctx context.Context, userID int64) (types.Credential, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.has[userID] {
		return types.Credential{}, errNoCredential
	}
	return types.Credential{UserID: userID, Platform: "x", Token: "t", Secret: "s"}, nil
}

func (c *stubCreds) Has(ctx context.Context, userID int64) (bool, error) {
	if c.panicky.Load() {
		panic("credential backend exploded")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.has[userID], nil
}

func (c *stubCreds) set(userID int64, ok bool) {
	c.mu.Lock()
	c.has[userID] = ok
	c.mu.Unlock()
}

// scriptedPublisher returns errs[i] on call i, then succeeds. The first
// hang calls block until their context ends.
type scriptedPublisher struct {
	mu      sync.Mutex
	errs    []error
	hang    int
	calls   int
	pingErr error
}

func (p *scriptedPublisher) Publish(ctx context.Context, cred types.Credential, text, key string) (string, error) {
	p.mu.Lock()
	p.calls++
	n := p.calls
	hang := n <= p.hang
	var err error
	if n <= len(p.errs) {
		err = p.errs[n-1]
	}
	p.mu.Unlock()

	if hang {
		<-ctx.Done()
		return "", fault.FromTransport(ctx.Err())
	}
	if err != nil {
		return "", err
	}
	return "post-" + key[:8], nil
}

func (p *scriptedPublisher) Ping(ctx context.Context) error { return p.pingErr }

func (p *scriptedPublisher) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type harness struct {
	clock  *fakeClock
	ledger *store.Store
	gen    *stubGen
	notif  *stubNotifier
	pub    *scriptedPublisher
	creds  *stubCreds
	coord  *Coordinator
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	ledger, err := store.New(context.Background(), store.DialectSQLite, ":memory:", store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { ledger.Close() })

	if opts.Window == 0 {
		opts.Window = 24 * time.Hour
	}
	if opts.PublishBackoff == 0 {
		opts.PublishBackoff = time.Millisecond
	}

	h := &harness{
		clock:  clock,
		ledger: ledger,
		gen:    &stubGen{fail: map[string]error{}},
		notif:  &stubNotifier{},
		pub:    &scriptedPublisher{},
		creds:  &stubCreds{has: map[int64]bool{}},
	}
	dedup := publisher.NewDedup(h.pub, ledger, logging.Discard())
	h.coord = New(ledger, h.gen, h.notif, dedup, h.creds, opts, logging.Discard())
	return h
}

func (h *harness) addUser(t *testing.T, name, email string, topics ...string) types.User {
	t.Helper()
	u, err := h.ledger.UpsertUser(context.Background(), types.User{
		ScreenName: name,
		Email:      email,
		Topics:     topics,
		Active:     true,
	})
	require.NoError(t, err)
	h.creds.set(u.ID, true)
	return u
}

// awaitingDraft creates a draft the way a Run would and returns it notified.
func (h *harness) awaitingDraft(t *testing.T, u types.User, runID int64, topic string) types.Draft {
	t.Helper()
	ctx := context.Background()
	d, err := h.ledger.CreateDraft(ctx, store.NewDraft{
		UserID:         u.ID,
		RunID:          runID,
		Topic:          topic,
		Text:           "Hello " + topic,
		IdempotencyKey: IdempotencyKey(u.ID, runID, topic),
		Window:         24 * time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, h.ledger.MarkNotified(ctx, d.ID))
	d, err = h.ledger.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	return d
}

func TestRunCreatesAndNotifiesDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	u := h.addUser(t, "alice", "alice@example.com", "#AI")

	summary, err := h.coord.Trigger(ctx, types.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Count(types.OutcomeGenerated))

	drafts, err := h.ledger.ListDrafts(ctx, store.DraftFilter{UserID: u.ID})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	d := drafts[0]
	require.Equal(t, "Hello AI", d.Text)
	require.Equal(t, types.StatusAwaitingConfirmation, d.Status)
	require.Equal(t, d.CreatedAt.Add(24*time.Hour), d.ExpiresAt)
	require.NotNil(t, d.NotifiedAt)
	require.Equal(t, IdempotencyKey(u.ID, summary.RunID, "#AI"), d.IdempotencyKey)

	require.Len(t, h.notif.sent, 1)
	require.Equal(t, "alice@example.com", h.notif.sent[0].to)
	require.Equal(t, "http://localhost:8080/pipeline/confirm?token="+d.ConfirmationToken, h.notif.sent[0].link)

	run, err := h.ledger.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, run.Status)
	require.Equal(t, types.TriggerManual, run.TriggerSource)
	require.NotNil(t, run.Summary)
	require.Nil(t, h.coord.Active())
}

func TestGenerationFailureIsIsolatedPerTopic(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	u := h.addUser(t, "alice", "alice@example.com", "#AI", "#TechNews")
	other := h.addUser(t, "bob", "bob@example.com", "#Go")
	h.gen.fail["#AI"] = fault.Permanent(errors.New("content policy"))

	summary, err := h.coord.Trigger(ctx, types.TriggerScheduled)
	require.NoError(t, err)

	var mine []types.Outcome
	for _, o := range summary.Outcomes {
		if o.UserID == u.ID {
			mine = append(mine, o)
		}
	}
	require.Len(t, mine, 2)
	require.Equal(t, 1, summary.Count(types.OutcomeFailedGeneration))
	require.Equal(t, 2, summary.Count(types.OutcomeGenerated))

	failed, err := h.ledger.ListDrafts(ctx, store.DraftFilter{UserID: u.ID, Status: types.StatusFailedGeneration})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "#AI", failed[0].Topic)
	require.Contains(t, failed[0].FailureReason, "content policy")

	drafts, err := h.ledger.ListDrafts(ctx, store.DraftFilter{UserID: other.ID})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.Equal(t, types.StatusAwaitingConfirmation, drafts[0].Status)

	run, err := h.ledger.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, run.Status)
}

func TestSkipsUsersWithoutCredentialOrAddress(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	noCred := h.addUser(t, "bob", "bob@example.com", "#Go")
	h.creds.set(noCred.ID, false)
	noMail := h.addUser(t, "carol", "", "#Rust")
	_, err := h.ledger.UpsertUser(ctx, types.User{ScreenName: "dave", Email: "d@example.com", Topics: []string{"#x"}, Active: false})
	require.NoError(t, err)

	summary, err := h.coord.Trigger(ctx, types.TriggerManual)
	require.NoError(t, err)
	require.Len(t, summary.Outcomes, 2)
	require.Equal(t, 2, summary.Count(types.OutcomeSkipped))
	require.Zero(t, h.gen.callCount())

	reasons := map[int64]string{}
	for _, o := range summary.Outcomes {
		reasons[o.UserID] = o.Reason
	}
	require.Equal(t, "no publishing credential", reasons[noCred.ID])
	require.Equal(t, "no contact address", reasons[noMail.ID])
}

func TestNotifyFailureMarksDraft(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	u := h.addUser(t, "alice", "alice@example.com", "#AI")
	h.notif.fail = fault.Permanent(errors.New("550 mailbox unavailable"))

	summary, err := h.coord.Trigger(ctx, types.TriggerManual)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Count(types.OutcomeFailedNotify))

	drafts, err := h.ledger.ListDrafts(ctx, store.DraftFilter{UserID: u.ID})
	require.NoError(t, err)
	require.Len(t, drafts, 1)
	require.Equal(t, types.StatusFailedNotify, drafts[0].Status)
	require.NotNil(t, drafts[0].FailedAt)
	require.Contains(t, drafts[0].FailureReason, "mailbox unavailable")
}

func TestConcurrentTriggersAcceptExactlyOne(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.addUser(t, "alice", "alice@example.com", "#AI")
	h.gen.block = make(chan struct{})

	const callers = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []*Run
		rejected int
		other    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run, err := h.coord.Start(ctx, types.TriggerManual)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted = append(accepted, run)
			case errors.Is(err, ErrRunInProgress):
				rejected++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, other)
	require.Len(t, accepted, 1)
	require.Equal(t, callers-1, rejected)

	// A second process sharing the ledger is refused too.
	peer := New(h.ledger, h.gen, h.notif, h.pub, h.creds, Options{}, logging.Discard())
	_, err := peer.Start(ctx, types.TriggerScheduled)
	require.ErrorIs(t, err, ErrRunInProgress)

	close(h.gen.block)
	_, err = accepted[0].Wait()
	require.NoError(t, err)

	_, err = h.coord.Trigger(ctx, types.TriggerManual)
	require.NoError(t, err, "lease is released once the run finishes")
}

func TestAllAdaptersDownFailsRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.addUser(t, "alice", "alice@example.com", "#AI")
	h.gen.pingErr = errors.New("dns")
	h.notif.pingErr = errors.New("connection refused")
	h.pub.pingErr = errors.New("timeout")

	summary, err := h.coord.Trigger(ctx, types.TriggerScheduled)
	require.ErrorIs(t, err, ErrAdaptersUnavailable)
	require.Zero(t, h.gen.callCount())

	run, err := h.ledger.GetRun(ctx, summary.RunID)
	require.NoError(t, err)
	require.Equal(t, types.RunFailed, run.Status)
	require.Contains(t, run.Error, "all adapters unavailable")

	// One reachable adapter is enough to proceed.
	h.pub.pingErr = nil
	_, err = h.coord.Trigger(ctx, types.TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 1, h.gen.callCount())
}

func TestCancelDuringProbeIsCancelled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.addUser(t, "alice", "alice@example.com", "#AI")
	h.gen.pingEntered = make(chan struct{}, 1)
	h.notif.pingErr = context.Canceled
	h.pub.pingErr = context.Canceled

	run, err := h.coord.Start(ctx, types.TriggerManual)
	require.NoError(t, err)
	<-h.gen.pingEntered
	require.True(t, h.coord.Cancel())

	_, err = run.Wait()
	require.ErrorIs(t, err, ErrRunCancelled)
	require.NotErrorIs(t, err, ErrAdaptersUnavailable)

	rec, err := h.ledger.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, types.RunCancelled, rec.Status)
	require.Zero(t, h.gen.callCount())
}

func TestPanicReleasesLease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	h.addUser(t, "alice", "alice@example.com", "#AI")
	h.creds.panicky.Store(true)

	run, err := h.coord.Start(ctx, types.TriggerManual)
	require.NoError(t, err)
	_, err = run.Wait()
	require.Error(t, err)
	require.Contains(t, err.Error(), "panicked")

	rec, err := h.ledger.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, types.RunFailed, rec.Status)

	h.creds.panicky.Store(false)
	_, err = h.coord.Trigger(ctx, types.TriggerManual)
	require.NoError(t, err)
}

func TestCancelStopsBetweenUsers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{Workers: 1})
	h.addUser(t, "alice", "alice@example.com", "#a")
	h.addUser(t, "bob", "bob@example.com", "#b")
	h.addUser(t, "carol", "carol@example.com", "#c")
	h.gen.entered = make(chan struct{}, 1)
	h.gen.block = make(chan struct{})

	run, err := h.coord.Start(ctx, types.TriggerManual)
	require.NoError(t, err)
	<-h.gen.entered
	require.True(t, h.coord.Cancel())
	close(h.gen.block)

	summary, err := run.Wait()
	require.ErrorIs(t, err, ErrRunCancelled)
	require.Less(t, len(summary.Outcomes), 3)
	require.NotEmpty(t, summary.Outcomes, "the in-flight item completes")
	for _, o := range summary.Outcomes {
		require.Equal(t, types.OutcomeGenerated, o.Kind)
	}

	stuck, err := h.ledger.ListDrafts(ctx, store.DraftFilter{Status: types.StatusGenerated})
	require.NoError(t, err)
	require.Empty(t, stuck)

	rec, err := h.ledger.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, types.RunCancelled, rec.Status)
	require.False(t, h.coord.Cancel())
}

func TestRunSweepsExpiredDrafts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	u := h.addUser(t, "alice", "alice@example.com", "#AI")
	old := h.awaitingDraft(t, u, 0, "#old")

	h.clock.Advance(25 * time.Hour)
	summary, err := h.coord.Trigger(ctx, types.TriggerScheduled)
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.Swept)

	d, err := h.ledger.GetDraft(ctx, old.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusExpired, d.Status)
}

func TestRunResumesStuckConfirmedDrafts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{ResumeAfter: 15 * time.Minute})
	u := h.addUser(t, "alice", "alice@example.com", "#AI")
	d := h.awaitingDraft(t, u, 0, "#stuck")
	_, err := h.ledger.Confirm(ctx, d.ConfirmationToken)
	require.NoError(t, err)

	h.clock.Advance(16 * time.Minute)
	summary, err := h.coord.Trigger(ctx, types.TriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Resumed)

	d, err = h.ledger.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusPublished, d.Status)
	require.NotEmpty(t, d.ExternalPostID)
}

func TestResumedPublishStopsAtRunTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{
		ResumeAfter:    15 * time.Minute,
		RunTimeout:     200 * time.Millisecond,
		LeaseTTL:       time.Second,
		PublishTimeout: time.Hour,
	})
	u := h.addUser(t, "alice", "alice@example.com", "#AI")
	d := h.awaitingDraft(t, u, 0, "#stuck")
	_, err := h.ledger.Confirm(ctx, d.ConfirmationToken)
	require.NoError(t, err)
	h.pub.hang = 100

	h.clock.Advance(16 * time.Minute)
	run, err := h.coord.Start(ctx, types.TriggerScheduled)
	require.NoError(t, err)

	select {
	case <-run.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("run outlived its timeout")
	}
	_, err = run.Wait()
	require.Error(t, err)

	holder, err := h.ledger.LeaseHolder(ctx, LeaseName)
	require.NoError(t, err)
	require.Empty(t, holder)

	d, err = h.ledger.GetDraft(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusConfirmed, d.Status, "left for the next run to resume")
}

func TestPublishAttemptsAreBounded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{PublishMaxAttempts: 3, PublishTimeout: 50 * time.Millisecond})
	u := h.addUser(t, "alice", "alice@example.com", "#AI")
	d := h.awaitingDraft(t, u, 1, "#AI")
	confirmed, err := h.ledger.Confirm(ctx, d.ConfirmationToken)
	require.NoError(t, err)
	h.pub.hang = 1

	published, err := h.coord.Publish(ctx, confirmed)
	require.NoError(t, err)
	require.Equal(t, 2, h.pub.callCount())
	require.Equal(t, types.StatusPublished, published.Status)
}

func TestPublishDuplicateAfterRetryIsPublished(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{PublishMaxAttempts: 3})
	u := h.addUser(t, "alice", "alice@example.com", "#AI")
	d := h.awaitingDraft(t, u, 1, "#AI")
	confirmed, err := h.ledger.Confirm(ctx, d.ConfirmationToken)
	require.NoError(t, err)

	h.pub.errs = []error{
		fault.Retryable(context.DeadlineExceeded),
		fault.Permanent(fmt.Errorf("x: %w", publisher.ErrDuplicateContent)),
	}
	published, err := h.coord.Publish(ctx, confirmed)
	require.NoError(t, err)
	require.Equal(t, types.StatusPublished, published.Status)
	require.Equal(t, publisher.UnknownPostID, published.ExternalPostID)
	require.Len(t, h.notif.published, 1)
	require.Empty(t, h.notif.published[0].link)
}

func TestPublishDuplicateOnFirstAttemptFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{PublishMaxAttempts: 3})
	u := h.addUser(t, "alice", "alice@example.com", "#AI")
	d := h.awaitingDraft(t, u, 1, "#AI")
	confirmed, err := h.ledger.Confirm(ctx, d.ConfirmationToken)
	require.NoError(t, err)

	h.pub.errs = []error{fault.Permanent(fmt.Errorf("x: %w", publisher.ErrDuplicateContent))}
	failed, err := h.coord.Publish(ctx, confirmed)
	require.Error(t, err)
	require.Equal(t, 1, h.pub.callCount())
	require.Equal(t, types.StatusFailedPublish, failed.Status)
}

func TestPublishRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{PublishMaxAttempts: 3})
	u := h.addUser(t, "alice", "alice@example.com", "#AI")
	d := h.awaitingDraft(t, u, 1, "#AI")
	confirmed, err := h.ledger.Confirm(ctx, d.ConfirmationToken)
	require.NoError(t, err)

	h.pub.errs = []error{
		fault.Retryable(errors.New("503")),
		fault.Retryable(errors.New("connection reset")),
	}
	published, err := h.coord.Publish(ctx, confirmed)
	require.NoError(t, err)
	require.Equal(t, 3, h.pub.callCount())
	require.Equal(t, types.StatusPublished, published.Status)
	require.NotNil(t, published.PublishedAt)

	receipt, err := h.ledger.GetReceipt(ctx, d.IdempotencyKey)
	require.NoError(t, err)
	require.Equal(t, published.ExternalPostID, receipt.ExternalPostID)

	require.Len(t, h.notif.published, 1)
	require.Equal(t, "https://x.com/i/web/status/"+published.ExternalPostID, h.notif.published[0].link)
}

func TestPublishPermanentFailureIsNotRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	u := h.addUser(t, "alice", "alice@example.com", "#AI")
	d := h.awaitingDraft(t, u, 1, "#AI")
	confirmed, err := h.ledger.Confirm(ctx, d.ConfirmationToken)
	require.NoError(t, err)

	h.pub.errs = []error{fault.Permanent(errors.New("403 duplicate content"))}
	got, err := h.coord.Publish(ctx, confirmed)

	var perr *PublishError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Transient)
	assert.Equal(t, 1, perr.Attempts)
	require.Equal(t, 1, h.pub.callCount())
	require.Equal(t, types.StatusFailedPublish, got.Status)
	require.Empty(t, h.notif.published)
}

func TestPublishGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{PublishMaxAttempts: 3})
	u := h.addUser(t, "alice", "alice@example.com", "#AI")
	d := h.awaitingDraft(t, u, 1, "#AI")
	confirmed, err := h.ledger.Confirm(ctx, d.ConfirmationToken)
	require.NoError(t, err)

	transient := fault.Retryable(errors.New("503"))
	h.pub.errs = []error{transient, transient, transient, transient}
	got, err := h.coord.Publish(ctx, confirmed)

	var perr *PublishError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Transient)
	assert.Equal(t, 3, perr.Attempts)
	require.Equal(t, 3, h.pub.callCount())
	require.Equal(t, types.StatusFailedPublish, got.Status)
}

func TestPublishWithoutCredentialFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Options{})
	u := h.addUser(t, "alice", "alice@example.com", "#AI")
	d := h.awaitingDraft(t, u, 1, "#AI")
	confirmed, err := h.ledger.Confirm(ctx, d.ConfirmationToken)
	require.NoError(t, err)
	h.creds.set(u.ID, false)

	got, err := h.coord.Publish(ctx, confirmed)
	require.ErrorIs(t, err, errNoCredential)
	require.Zero(t, h.pub.callCount())
	require.Equal(t, types.StatusFailedPublish, got.Status)
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey(1, 2, "#AI")
	require.Len(t, a, 64)
	require.Equal(t, a, IdempotencyKey(1, 2, "#AI"))
	require.NotEqual(t, a, IdempotencyKey(1, 2, "#Go"))
	require.NotEqual(t, a, IdempotencyKey(1, 3, "#AI"))
	require.NotEqual(t, a, IdempotencyKey(2, 2, "#AI"))
}

func TestConfirmLink(t *testing.T) {
	c := New(nil, nil, nil, nil, nil, Options{BaseURL: "https://bot.example.com/"}, logging.Discard())
	require.Equal(t, "https://bot.example.com/pipeline/confirm?token=a%2Bb", c.ConfirmLink("a+b"))
}
