package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Receipt is the durable record that a platform accepted a post for an
// idempotency key. It outlives the request that produced it.
type Receipt struct {
	IdempotencyKey string
	ExternalPostID string
	PublishedAt    time.Time
}

// GetReceipt returns the receipt for key or ErrNotFound.
func (s *Store) GetReceipt(ctx context.Context, key string) (Receipt, error) {
	q := s.sb.Select("idempotency_key", "external_post_id", "published_at").
		From("publish_receipts").
		Where(sq.Eq{"idempotency_key": key})
	row, err := s.queryRow(ctx, q)
	if err != nil {
		return Receipt{}, err
	}

	var r Receipt
	err = row.Scan(&r.IdempotencyKey, &r.ExternalPostID, &r.PublishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Receipt{}, ErrNotFound
	}
	if err != nil {
		return Receipt{}, err
	}
	r.PublishedAt = r.PublishedAt.UTC()
	return r, nil
}

// SaveReceipt stores r unless a receipt for the key already exists. The
// first writer wins.
func (s *Store) SaveReceipt(ctx context.Context, r Receipt) error {
	if r.PublishedAt.IsZero() {
		r.PublishedAt = s.clock()
	}
	q := s.sb.Insert("publish_receipts").
		Columns("idempotency_key", "external_post_id", "published_at").
		Values(r.IdempotencyKey, r.ExternalPostID, r.PublishedAt.UTC()).
		Suffix("ON CONFLICT (idempotency_key) DO NOTHING")
	if _, err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("store: save receipt: %w", err)
	}
	return nil
}
