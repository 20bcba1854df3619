// Package coordinator runs the generation pipeline: one lease-guarded Run
// at a time, fanning out across eligible users and their topics, plus the
// publish step invoked after a draft is confirmed.
package coordinator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AdamTech2025/twitter-autobot/internal/config"
	"github.com/AdamTech2025/twitter-autobot/internal/metrics"
	"github.com/AdamTech2025/twitter-autobot/internal/publisher"
	"github.com/AdamTech2025/twitter-autobot/internal/store"
	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

// LeaseName is the ledger lease that guards Runs.
const LeaseName = "pipeline-run"

const probeTimeout = 10 * time.Second

type Generator interface {
	Generate(ctx context.Context, topic string) (string, error)
	Ping(ctx context.Context) error
}

type Notifier interface {
	SendConfirmation(ctx context.Context, address string, d types.Draft, link string) error
	SendPublished(ctx context.Context, address string, d types.Draft, postURL string) error
	Ping(ctx context.Context) error
}

// Credentials is the read side of the credential store.
type Credentials interface {
	Get(ctx context.Context, userID int64) (types.Credential, error)
	Has(ctx context.Context, userID int64) (bool, error)
}

// Options tunes a Coordinator. Zero values fall back to config defaults.
type Options struct {
	Window             time.Duration
	Workers            int
	GeneratorRPS       float64
	NotifierRPS        float64
	PublishMaxAttempts int
	PublishBackoff     time.Duration
	PublishTimeout     time.Duration
	ResumeAfter        time.Duration
	LeaseTTL           time.Duration
	RunTimeout         time.Duration
	BaseURL            string
}

// OptionsFromConfig maps the pipeline and server sections of cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	p := cfg.Pipeline
	return Options{
		Window:             p.ConfirmationWindow.Duration,
		Workers:            p.Workers,
		GeneratorRPS:       p.GeneratorRPS,
		NotifierRPS:        p.NotifierRPS,
		PublishMaxAttempts: p.PublishMaxAttempts,
		PublishBackoff:     p.PublishBackoff.Duration,
		PublishTimeout:     cfg.Publisher.Timeout.Duration,
		ResumeAfter:        p.ResumeAfter.Duration,
		LeaseTTL:           p.LeaseTTL.Duration,
		RunTimeout:         p.RunTimeout.Duration,
		BaseURL:            cfg.Server.BaseURL,
	}
}

func (o Options) withDefaults() Options {
	def := OptionsFromConfig(config.Default())
	if o.Window <= 0 {
		o.Window = def.Window
	}
	if o.Workers < 1 {
		o.Workers = def.Workers
	}
	if o.PublishMaxAttempts < 1 {
		o.PublishMaxAttempts = def.PublishMaxAttempts
	}
	if o.PublishBackoff <= 0 {
		o.PublishBackoff = def.PublishBackoff
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = def.PublishTimeout
	}
	if o.ResumeAfter <= 0 {
		o.ResumeAfter = def.ResumeAfter
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = def.RunTimeout
	}
	if o.LeaseTTL <= o.RunTimeout {
		o.LeaseTTL = o.RunTimeout + time.Minute
	}
	if o.BaseURL == "" {
		o.BaseURL = def.BaseURL
	}
	return o
}

func limiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// Coordinator owns Runs and the publish retry policy.
type Coordinator struct {
	ledger   *store.Store
	gen      Generator
	notify   Notifier
	pub      publisher.Publisher
	creds    Credentials
	opts     Options
	instance string
	log      *logrus.Entry

	genLimit    *rate.Limiter
	notifyLimit *rate.Limiter

	mu     sync.Mutex
	active *Run
}

func New(ledger *store.Store, gen Generator, notify Notifier, pub publisher.Publisher, creds Credentials, opts Options, log *logrus.Entry) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		ledger:      ledger,
		gen:         gen,
		notify:      notify,
		pub:         pub,
		creds:       creds,
		opts:        opts,
		instance:    uuid.NewString(),
		log:         log,
		genLimit:    limiter(opts.GeneratorRPS),
		notifyLimit: limiter(opts.NotifierRPS),
	}
}

// Run is a handle on an executing Run.
type Run struct {
	ID     int64
	Source types.TriggerSource

	cancel  context.CancelFunc
	done    chan struct{}
	status  types.RunStatus
	summary *types.RunSummary
	err     error
}

// Done is closed once the Run has finished and released the lease.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the Run finishes and returns its summary.
func (r *Run) Wait() (*types.RunSummary, error) {
	<-r.done
	return r.summary, r.err
}

// Trigger starts a Run and waits for it.
func (c *Coordinator) Trigger(ctx context.Context, source types.TriggerSource) (*types.RunSummary, error) {
	h, err := c.Start(ctx, source)
	if err != nil {
		return nil, err
	}
	return h.Wait()
}

// Start acquires the run lease and executes a Run in the background. It
// never blocks on or queues behind another Run: if the lease is held it
// returns ErrRunInProgress.
func (c *Coordinator) Start(ctx context.Context, source types.TriggerSource) (*Run, error) {
	holder := c.instance + "/" + uuid.NewString()
	ok, err := c.ledger.AcquireLease(ctx, LeaseName, holder, c.opts.LeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("coordinator: acquire lease: %w", err)
	}
	if !ok {
		metrics.RunRejected(string(source))
		c.log.WithField("source", source).Info("run rejected, another run holds the lease")
		return nil, ErrRunInProgress
	}

	// Holding the lease means any in_progress record belongs to a dead holder.
	if n, err := c.ledger.AbandonRuns(ctx, "abandoned: lease expired while in progress"); err != nil {
		c.log.WithError(err).Warn("failed to close abandoned runs")
	} else if n > 0 {
		c.log.WithField("count", n).Warn("closed abandoned runs")
	}

	rec, err := c.ledger.CreateRun(ctx, source)
	if err != nil {
		c.releaseLease(holder)
		return nil, fmt.Errorf("coordinator: record run: %w", err)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.RunTimeout)
	h := &Run{
		ID:     rec.ID,
		Source: source,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.active = h
	c.mu.Unlock()
	metrics.RunStarted()

	go c.execute(runCtx, h, holder)
	return h, nil
}

// Active returns the Run executing in this process, or nil.
func (c *Coordinator) Active() *Run {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Cancel stops the active Run before its next user. Adapter calls already
// in flight are allowed to finish. It reports whether a Run was active.
func (c *Coordinator) Cancel() bool {
	h := c.Active()
	if h == nil {
		return false
	}
	c.log.WithField("run_id", h.ID).Info("cancelling run")
	h.cancel()
	return true
}

func (c *Coordinator) execute(ctx context.Context, h *Run, holder string) {
	defer close(h.done)
	defer c.finish(h, holder)
	defer func() {
		if r := recover(); r != nil {
			h.err = fmt.Errorf("coordinator: run %d panicked: %v", h.ID, r)
			h.status = types.RunFailed
		}
	}()

	h.summary, h.err = c.run(ctx, h)
	switch {
	case h.err == nil:
		h.status = types.RunCompleted
	case errors.Is(h.err, ErrRunCancelled):
		h.status = types.RunCancelled
	default:
		h.status = types.RunFailed
	}
}

func (c *Coordinator) finish(h *Run, holder string) {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	log := c.log.WithFields(logrus.Fields{"run_id": h.ID, "status": h.status})
	if err := c.ledger.FinishRun(ctx, h.ID, h.status, h.summary, h.err); err != nil {
		log.WithError(err).Error("failed to record run result")
	}
	c.releaseLease(holder)

	c.mu.Lock()
	if c.active == h {
		c.active = nil
	}
	c.mu.Unlock()

	metrics.RunFinished(string(h.Source), string(h.status))
	if h.err != nil {
		log.WithError(h.err).Warn("run finished with error")
	} else {
		log.Info("run completed")
	}
}

func (c *Coordinator) releaseLease(holder string) {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	if err := c.ledger.ReleaseLease(ctx, LeaseName, holder); err != nil {
		c.log.WithError(err).Error("failed to release run lease")
	}
}

func (c *Coordinator) run(ctx context.Context, h *Run) (*types.RunSummary, error) {
	summary := &types.RunSummary{RunID: h.ID, Source: h.Source}
	log := c.log.WithFields(logrus.Fields{"run_id": h.ID, "source": h.Source})
	log.Info("run started")

	if err := c.probe(ctx, log); err != nil {
		// A cancel or timeout during the probe fails every ping.
		if stop := ctx.Err(); stop != nil {
			return summary, stopError(stop)
		}
		return summary, err
	}

	swept, err := c.ledger.SweepExpired(ctx, c.ledger.Now())
	if err != nil {
		return summary, fmt.Errorf("coordinator: sweep: %w", err)
	}
	summary.Swept = swept
	metrics.DraftsExpired(swept)
	if swept > 0 {
		log.WithField("count", swept).Info("expired stale drafts")
	}

	summary.Resumed = c.resumeConfirmed(ctx, log)

	users, err := c.ledger.ListEligibleUsers(ctx)
	if err != nil {
		return summary, fmt.Errorf("coordinator: list users: %w", err)
	}
	log.WithField("users", len(users)).Info("generating drafts")

	var (
		mu      sync.Mutex
		g       errgroup.Group
		stopErr error
	)
	record := func(o types.Outcome) {
		metrics.ItemOutcome(string(o.Kind))
		mu.Lock()
		summary.Outcomes = append(summary.Outcomes, o)
		mu.Unlock()
	}
	g.SetLimit(c.opts.Workers)
	itemCtx := context.WithoutCancel(ctx)

	for _, u := range users {
		if stopErr = ctx.Err(); stopErr != nil {
			break
		}
		if reason := c.checkUser(itemCtx, u); reason != "" {
			log.WithField("user_id", u.ID).Info("skipping user: " + reason)
			record(types.Outcome{UserID: u.ID, Kind: types.OutcomeSkipped, Reason: reason})
			continue
		}
		for _, topic := range u.Topics {
			g.Go(func() error {
				record(c.processItem(itemCtx, h.ID, u, topic))
				return nil
			})
		}
	}
	_ = g.Wait()

	if stopErr != nil {
		return summary, stopError(stopErr)
	}
	return summary, nil
}

func stopError(err error) error {
	if errors.Is(err, context.Canceled) {
		return ErrRunCancelled
	}
	return fmt.Errorf("coordinator: run timed out: %w", err)
}

// probe fails the Run only when every adapter is unreachable.
func (c *Coordinator) probe(ctx context.Context, log *logrus.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	pings := map[string]func(context.Context) error{
		"generator": c.gen.Ping,
		"notifier":  c.notify.Ping,
		"publisher": c.pub.Ping,
	}
	var (
		mu   sync.Mutex
		g    errgroup.Group
		errs []error
	)
	for name, ping := range pings {
		g.Go(func() error {
			if err := ping(ctx); err != nil {
				log.WithError(err).WithField("adapter", name).Warn("adapter probe failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) == len(pings) {
		return fmt.Errorf("%w: %w", ErrAdaptersUnavailable, errors.Join(errs...))
	}
	return nil
}

// checkUser returns a skip reason, or "" when the user can get drafts.
func (c *Coordinator) checkUser(ctx context.Context, u types.User) string {
	ok, err := c.creds.Has(ctx, u.ID)
	if err != nil {
		return "credential lookup failed: " + err.Error()
	}
	if !ok {
		return "no publishing credential"
	}
	if strings.TrimSpace(u.Email) == "" {
		return "no contact address"
	}
	return ""
}

func (c *Coordinator) processItem(ctx context.Context, runID int64, u types.User, topic string) (out types.Outcome) {
	out = types.Outcome{UserID: u.ID, Topic: topic}
	log := c.log.WithFields(logrus.Fields{"run_id": runID, "user_id": u.ID, "topic": topic})

	defer func() {
		if r := recover(); r != nil {
			reason := fmt.Sprintf("panic: %v", r)
			log.Error("work item panicked: " + reason)
			if out.DraftID != 0 {
				c.abandonDraft(ctx, out.DraftID, types.FailureNotify, reason, log)
				out.Kind = types.OutcomeFailedNotify
			} else {
				out.Kind = types.OutcomeFailedGeneration
			}
			out.Reason = reason
		}
	}()

	nd := store.NewDraft{
		UserID:         u.ID,
		RunID:          runID,
		Topic:          topic,
		IdempotencyKey: IdempotencyKey(u.ID, runID, topic),
		Window:         c.opts.Window,
	}

	if err := c.genLimit.Wait(ctx); err != nil {
		out.Kind, out.Reason = types.OutcomeFailedGeneration, err.Error()
		return out
	}
	text, err := c.gen.Generate(ctx, topic)
	if err != nil {
		gerr := &GenerationError{UserID: u.ID, Topic: topic, Err: err}
		log.WithError(err).Warn("generation failed")
		out.Kind, out.Reason = types.OutcomeFailedGeneration, err.Error()
		if d, rerr := c.ledger.RecordGenerationFailure(ctx, nd, gerr.Error()); rerr != nil {
			log.WithError(rerr).Error("failed to record generation failure")
		} else {
			out.DraftID = d.ID
		}
		return out
	}

	nd.Text = text
	d, err := c.ledger.CreateDraft(ctx, nd)
	if errors.Is(err, store.ErrDuplicate) {
		out.Kind, out.Reason = types.OutcomeSkipped, "draft already exists for this run"
		return out
	}
	if err != nil {
		log.WithError(err).Error("failed to store draft")
		out.Kind, out.Reason = types.OutcomeFailedGeneration, err.Error()
		return out
	}
	out.DraftID = d.ID
	log = log.WithField("draft_id", d.ID)

	if err := c.notifyLimit.Wait(ctx); err != nil {
		c.abandonDraft(ctx, d.ID, types.FailureNotify, err.Error(), log)
		out.Kind, out.Reason = types.OutcomeFailedNotify, err.Error()
		return out
	}
	if err := c.notify.SendConfirmation(ctx, u.Email, d, c.ConfirmLink(d.ConfirmationToken)); err != nil {
		nerr := &NotifyError{DraftID: d.ID, Err: err}
		log.WithError(err).Warn("notification failed")
		c.abandonDraft(ctx, d.ID, types.FailureNotify, nerr.Error(), log)
		out.Kind, out.Reason = types.OutcomeFailedNotify, err.Error()
		return out
	}

	if err := c.ledger.MarkNotified(ctx, d.ID); err != nil {
		if errors.Is(err, store.ErrStaleState) {
			cur, gerr := c.ledger.GetDraft(ctx, d.ID)
			if gerr == nil {
				log.WithField("status", cur.Status).Warn("draft moved on before notify was recorded")
				out.Kind, out.Reason = types.OutcomeGenerated, "stale state: "+string(cur.Status)
				return out
			}
		}
		log.WithError(err).Error("failed to record notification")
		c.abandonDraft(ctx, d.ID, types.FailureNotify, err.Error(), log)
		out.Kind, out.Reason = types.OutcomeFailedNotify, err.Error()
		return out
	}

	log.Info("draft sent for confirmation")
	out.Kind = types.OutcomeGenerated
	return out
}

// abandonDraft moves a draft to a failed status. A lost race is logged and
// left alone.
func (c *Coordinator) abandonDraft(ctx context.Context, id int64, kind types.FailureKind, reason string, log *logrus.Entry) {
	err := c.ledger.MarkFailed(ctx, id, kind, reason)
	if errors.Is(err, store.ErrStaleState) {
		if cur, gerr := c.ledger.GetDraft(ctx, id); gerr == nil {
			log.WithField("status", cur.Status).Warn("draft already moved on, leaving it")
		}
		return
	}
	if err != nil {
		log.WithError(err).Error("failed to mark draft failed")
	}
}

// resumeConfirmed publishes drafts left in confirmed by a crashed publish.
func (c *Coordinator) resumeConfirmed(ctx context.Context, log *logrus.Entry) int {
	stuck, err := c.ledger.ConfirmedBefore(ctx, c.ledger.Now().Add(-c.opts.ResumeAfter))
	if err != nil {
		log.WithError(err).Error("failed to list stuck confirmed drafts")
		return 0
	}
	// Cancel waits for an in-flight publish, the run deadline does not.
	pubCtx := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithDeadline(pubCtx, deadline)
		defer cancel()
	}
	for _, d := range stuck {
		if ctx.Err() != nil {
			break
		}
		if _, err := c.Publish(pubCtx, d); err != nil {
			log.WithError(err).WithField("draft_id", d.ID).Warn("resumed publish failed")
		}
	}
	return len(stuck)
}

// ConfirmLink is the URL mailed to the user for a token.
func (c *Coordinator) ConfirmLink(token string) string {
	return strings.TrimRight(c.opts.BaseURL, "/") + "/pipeline/confirm?token=" + url.QueryEscape(token)
}

// IdempotencyKey derives the per (user, run, topic) key.
func IdempotencyKey(userID, runID int64, topic string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%s", userID, runID, topic)))
	return hex.EncodeToString(sum[:])
}
