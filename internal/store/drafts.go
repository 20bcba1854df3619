package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

var draftColumns = []string{
	"id", "user_id", "run_id", "topic", "text", "status",
	"confirmation_token", "idempotency_key", "external_post_id", "failure_reason",
	"created_at", "expires_at",
	"notified_at", "confirmed_at", "published_at", "failed_at", "token_used_at",
}

// NewDraft is the input to CreateDraft. ExpiresAt is derived from Window and
// the creation time read from the ledger clock.
type NewDraft struct {
	UserID         int64
	RunID          int64
	Topic          string
	Text           string
	IdempotencyKey string
	Window         time.Duration
}

// DraftFilter narrows ListDrafts. Zero values match everything.
type DraftFilter struct {
	UserID int64
	RunID  int64
	Status types.Status
	Limit  uint64
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (types.Draft, error) {
	var d types.Draft
	var status string
	var token, postID, reason sql.NullString
	var notified, confirmed, published, failed, used sql.NullTime
	err := row.Scan(
		&d.ID, &d.UserID, &d.RunID, &d.Topic, &d.Text, &status,
		&token, &d.IdempotencyKey, &postID, &reason,
		&d.CreatedAt, &d.ExpiresAt,
		&notified, &confirmed, &published, &failed, &used,
	)
	if err != nil {
		return d, err
	}
	d.Status = types.Status(status)
	d.ConfirmationToken = token.String
	d.ExternalPostID = postID.String
	d.FailureReason = reason.String
	d.CreatedAt = d.CreatedAt.UTC()
	d.ExpiresAt = d.ExpiresAt.UTC()
	d.NotifiedAt = nullTime(notified)
	d.ConfirmedAt = nullTime(confirmed)
	d.PublishedAt = nullTime(published)
	d.FailedAt = nullTime(failed)
	d.TokenUsedAt = nullTime(used)
	return d, nil
}

func (nd NewDraft) validate() error {
	switch {
	case nd.UserID == 0:
		return errors.New("store: draft needs a user")
	case nd.Topic == "":
		return errors.New("store: draft needs a topic")
	case nd.IdempotencyKey == "":
		return errors.New("store: draft needs an idempotency key")
	case nd.Window <= 0:
		return errors.New("store: confirmation window must be positive")
	}
	return nil
}

// CreateDraft inserts a generated draft with a fresh single-use token.
// A reused idempotency key returns ErrDuplicate.
func (s *Store) CreateDraft(ctx context.Context, nd NewDraft) (types.Draft, error) {
	if err := nd.validate(); err != nil {
		return types.Draft{}, err
	}
	if nd.Text == "" {
		return types.Draft{}, errors.New("store: draft text is empty")
	}

	now := s.clock()
	d := types.Draft{
		UserID:            nd.UserID,
		RunID:             nd.RunID,
		Topic:             nd.Topic,
		Text:              nd.Text,
		Status:            types.StatusGenerated,
		ConfirmationToken: s.newToken(),
		IdempotencyKey:    nd.IdempotencyKey,
		CreatedAt:         now,
		ExpiresAt:         now.Add(nd.Window),
	}

	q := s.sb.Insert("drafts").
		Columns("user_id", "run_id", "topic", "text", "status", "confirmation_token", "idempotency_key", "created_at", "expires_at").
		Values(d.UserID, d.RunID, d.Topic, d.Text, string(d.Status), d.ConfirmationToken, d.IdempotencyKey, d.CreatedAt, d.ExpiresAt).
		Suffix("RETURNING id")

	row, err := s.queryRow(ctx, q)
	if err != nil {
		return types.Draft{}, err
	}
	if err := row.Scan(&d.ID); err != nil {
		if isUniqueViolation(err) {
			return types.Draft{}, ErrDuplicate
		}
		return types.Draft{}, fmt.Errorf("store: create draft: %w", err)
	}
	return d, nil
}

// RecordGenerationFailure writes an audit row for a (user, topic) whose text
// could not be produced. The row is born terminal and carries no token.
func (s *Store) RecordGenerationFailure(ctx context.Context, nd NewDraft, reason string) (types.Draft, error) {
	if err := nd.validate(); err != nil {
		return types.Draft{}, err
	}

	now := s.clock()
	d := types.Draft{
		UserID:         nd.UserID,
		RunID:          nd.RunID,
		Topic:          nd.Topic,
		Status:         types.StatusFailedGeneration,
		IdempotencyKey: nd.IdempotencyKey,
		FailureReason:  reason,
		CreatedAt:      now,
		ExpiresAt:      now.Add(nd.Window),
		FailedAt:       &now,
	}

	q := s.sb.Insert("drafts").
		Columns("user_id", "run_id", "topic", "text", "status", "idempotency_key", "failure_reason", "created_at", "expires_at", "failed_at").
		Values(d.UserID, d.RunID, d.Topic, "", string(d.Status), d.IdempotencyKey, nullString(reason), d.CreatedAt, d.ExpiresAt, now).
		Suffix("RETURNING id")

	row, err := s.queryRow(ctx, q)
	if err != nil {
		return types.Draft{}, err
	}
	if err := row.Scan(&d.ID); err != nil {
		if isUniqueViolation(err) {
			return types.Draft{}, ErrDuplicate
		}
		return types.Draft{}, fmt.Errorf("store: record generation failure: %w", err)
	}
	return d, nil
}

// transition applies set to the draft only while it is in one of from.
// Zero rows affected becomes ErrNotFound or ErrStaleState.
func (s *Store) transition(ctx context.Context, id int64, from []types.Status, set map[string]any) error {
	statuses := make([]string, len(from))
	for i, st := range from {
		statuses[i] = string(st)
	}

	q := s.sb.Update("drafts").SetMap(set).Where(sq.Eq{"id": id, "status": statuses})
	res, err := s.exec(ctx, q)
	if err != nil {
		return fmt.Errorf("store: update draft %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetDraft(ctx, id); err != nil {
			return err
		}
		return ErrStaleState
	}
	return nil
}

// MarkNotified moves generated -> awaiting_confirmation once the email is out.
func (s *Store) MarkNotified(ctx context.Context, id int64) error {
	return s.transition(ctx, id, []types.Status{types.StatusGenerated}, map[string]any{
		"status":      string(types.StatusAwaitingConfirmation),
		"notified_at": s.clock(),
	})
}

// Confirm redeems a confirmation token. Unknown, used or not-yet-notified
// tokens return ErrTokenInvalid; a closed window returns ErrTokenExpired and
// moves the draft to expired if it was still awaiting.
func (s *Store) Confirm(ctx context.Context, token string) (types.Draft, error) {
	if token == "" {
		return types.Draft{}, ErrTokenInvalid
	}

	d, err := s.DraftByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return types.Draft{}, ErrTokenInvalid
	}
	if err != nil {
		return types.Draft{}, err
	}

	switch {
	case d.TokenUsedAt != nil:
		return d, ErrTokenInvalid
	case d.Status == types.StatusExpired:
		return d, ErrTokenExpired
	case d.Status != types.StatusAwaitingConfirmation:
		return d, ErrTokenInvalid
	}

	now := s.clock()
	if now.After(d.ExpiresAt) {
		err := s.transition(ctx, d.ID, []types.Status{types.StatusAwaitingConfirmation}, map[string]any{
			"status": string(types.StatusExpired),
		})
		if err != nil && !errors.Is(err, ErrStaleState) {
			return d, err
		}
		d.Status = types.StatusExpired
		return d, ErrTokenExpired
	}

	q := s.sb.Update("drafts").
		SetMap(map[string]any{
			"status":        string(types.StatusConfirmed),
			"confirmed_at":  now,
			"token_used_at": now,
		}).
		Where(sq.Eq{"id": d.ID, "status": string(types.StatusAwaitingConfirmation), "token_used_at": nil})
	res, err := s.exec(ctx, q)
	if err != nil {
		return d, fmt.Errorf("store: confirm draft %d: %w", d.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return d, err
	}
	if n == 0 {
		// Lost to a concurrent confirm or to the sweeper.
		current, err := s.GetDraft(ctx, d.ID)
		if err != nil {
			return d, err
		}
		if current.Status == types.StatusExpired {
			return current, ErrTokenExpired
		}
		return current, ErrTokenInvalid
	}

	d.Status = types.StatusConfirmed
	d.ConfirmedAt = &now
	d.TokenUsedAt = &now
	return d, nil
}

// MarkPublished records the platform post id for a confirmed draft.
func (s *Store) MarkPublished(ctx context.Context, id int64, externalPostID string) error {
	if externalPostID == "" {
		return errors.New("store: external post id is empty")
	}
	return s.transition(ctx, id, []types.Status{types.StatusConfirmed}, map[string]any{
		"status":           string(types.StatusPublished),
		"published_at":     s.clock(),
		"external_post_id": externalPostID,
	})
}

// MarkFailed moves a non-terminal draft to the failed status for kind.
func (s *Store) MarkFailed(ctx context.Context, id int64, kind types.FailureKind, reason string) error {
	return s.transition(ctx, id,
		[]types.Status{types.StatusGenerated, types.StatusAwaitingConfirmation, types.StatusConfirmed},
		map[string]any{
			"status":         string(kind.Status()),
			"failed_at":      s.clock(),
			"failure_reason": nullString(reason),
		})
}

// SweepExpired expires every awaiting draft whose window closed before now.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	q := s.sb.Update("drafts").
		Set("status", string(types.StatusExpired)).
		Where(sq.Eq{"status": string(types.StatusAwaitingConfirmation)}).
		Where(sq.Lt{"expires_at": now.UTC()})
	res, err := s.exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("store: sweep expired: %w", err)
	}
	return res.RowsAffected()
}

// GetDraft loads a draft by id.
func (s *Store) GetDraft(ctx context.Context, id int64) (types.Draft, error) {
	return s.getDraftWhere(ctx, sq.Eq{"id": id})
}

// DraftByToken loads the draft owning a confirmation token.
func (s *Store) DraftByToken(ctx context.Context, token string) (types.Draft, error) {
	return s.getDraftWhere(ctx, sq.Eq{"confirmation_token": token})
}

// DraftByKey loads the draft for an idempotency key.
func (s *Store) DraftByKey(ctx context.Context, key string) (types.Draft, error) {
	return s.getDraftWhere(ctx, sq.Eq{"idempotency_key": key})
}

func (s *Store) getDraftWhere(ctx context.Context, pred sq.Sqlizer) (types.Draft, error) {
	row, err := s.queryRow(ctx, s.sb.Select(draftColumns...).From("drafts").Where(pred))
	if err != nil {
		return types.Draft{}, err
	}
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Draft{}, ErrNotFound
	}
	return d, err
}

// ListDrafts returns drafts newest first.
func (s *Store) ListDrafts(ctx context.Context, f DraftFilter) ([]types.Draft, error) {
	q := s.sb.Select(draftColumns...).From("drafts").OrderBy("id DESC")
	if f.UserID != 0 {
		q = q.Where(sq.Eq{"user_id": f.UserID})
	}
	if f.RunID != 0 {
		q = q.Where(sq.Eq{"run_id": f.RunID})
	}
	if f.Status != "" {
		q = q.Where(sq.Eq{"status": string(f.Status)})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	return s.listDrafts(ctx, q)
}

// ConfirmedBefore returns drafts confirmed before cutoff that never reached
// a terminal status, oldest first.
func (s *Store) ConfirmedBefore(ctx context.Context, cutoff time.Time) ([]types.Draft, error) {
	q := s.sb.Select(draftColumns...).From("drafts").
		Where(sq.Eq{"status": string(types.StatusConfirmed)}).
		Where(sq.Lt{"confirmed_at": cutoff.UTC()}).
		OrderBy("id ASC")
	return s.listDrafts(ctx, q)
}

func (s *Store) listDrafts(ctx context.Context, q sq.SelectBuilder) ([]types.Draft, error) {
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drafts []types.Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, rows.Err()
}
