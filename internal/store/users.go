package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

// CredentialRecord is a credential row as stored. Token and Secret are
// sealed; see the auth package.
type CredentialRecord struct {
	UserID   int64
	Platform string
	Token    string
	Secret   string
}

// NormalizeTopics trims topics, drops blanks and removes case-insensitive
// duplicates, keeping the first spelling.
func NormalizeTopics(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// UpsertUser inserts or updates a user by screen name.
func (s *Store) UpsertUser(ctx context.Context, u types.User) (types.User, error) {
	u.ScreenName = strings.TrimSpace(u.ScreenName)
	if u.ScreenName == "" {
		return types.User{}, errors.New("store: user needs a screen name")
	}
	u.Topics = NormalizeTopics(u.Topics)
	topics, err := json.Marshal(u.Topics)
	if err != nil {
		return types.User{}, err
	}

	now := s.clock()
	q := s.sb.Insert("users").
		Columns("screen_name", "email", "topics", "active", "created_at", "updated_at").
		Values(u.ScreenName, nullString(u.Email), string(topics), u.Active, now, now).
		Suffix(`ON CONFLICT (screen_name) DO UPDATE SET
			email = excluded.email,
			topics = excluded.topics,
			active = excluded.active,
			updated_at = excluded.updated_at
			RETURNING id`)

	row, err := s.queryRow(ctx, q)
	if err != nil {
		return types.User{}, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		return types.User{}, fmt.Errorf("store: upsert user: %w", err)
	}
	return s.GetUser(ctx, id)
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (types.User, error) {
	row, err := s.queryRow(ctx, s.userSelect().Where(sq.Eq{"id": id}))
	if err != nil {
		return types.User{}, err
	}
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, ErrNotFound
	}
	return u, err
}

// ListUsers returns every user, active or not, by id.
func (s *Store) ListUsers(ctx context.Context) ([]types.User, error) {
	return s.listUsers(ctx, s.userSelect())
}

// ListEligibleUsers returns active users with at least one topic.
func (s *Store) ListEligibleUsers(ctx context.Context) ([]types.User, error) {
	users, err := s.listUsers(ctx, s.userSelect().Where(sq.Eq{"active": true}))
	if err != nil {
		return nil, err
	}
	eligible := users[:0]
	for _, u := range users {
		if len(u.Topics) > 0 {
			eligible = append(eligible, u)
		}
	}
	return eligible, nil
}

func (s *Store) userSelect() sq.SelectBuilder {
	return s.sb.Select("id", "screen_name", "email", "topics", "active", "created_at").
		From("users").
		OrderBy("id ASC")
}

func (s *Store) listUsers(ctx context.Context, q sq.SelectBuilder) ([]types.User, error) {
	rows, err := s.query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (types.User, error) {
	var u types.User
	var email sql.NullString
	var topics string
	if err := row.Scan(&u.ID, &u.ScreenName, &email, &topics, &u.Active, &u.CreatedAt); err != nil {
		return u, err
	}
	u.Email = email.String
	u.CreatedAt = u.CreatedAt.UTC()
	if topics != "" {
		if err := json.Unmarshal([]byte(topics), &u.Topics); err != nil {
			return u, fmt.Errorf("store: decode topics for user %d: %w", u.ID, err)
		}
	}
	u.Topics = NormalizeTopics(u.Topics)
	return u, nil
}

// SaveCredential upserts the sealed credential for a user.
func (s *Store) SaveCredential(ctx context.Context, c CredentialRecord) error {
	q := s.sb.Insert("credentials").
		Columns("user_id", "platform", "token", "secret", "updated_at").
		Values(c.UserID, c.Platform, c.Token, c.Secret, s.clock()).
		Suffix(`ON CONFLICT (user_id) DO UPDATE SET
			platform = excluded.platform,
			token = excluded.token,
			secret = excluded.secret,
			updated_at = excluded.updated_at`)
	if _, err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("store: save credential: %w", err)
	}
	return nil
}

// LoadCredential returns the sealed credential for a user or ErrNotFound.
func (s *Store) LoadCredential(ctx context.Context, userID int64) (CredentialRecord, error) {
	q := s.sb.Select("user_id", "platform", "token", "secret").
		From("credentials").
		Where(sq.Eq{"user_id": userID})
	row, err := s.queryRow(ctx, q)
	if err != nil {
		return CredentialRecord{}, err
	}
	var c CredentialRecord
	err = row.Scan(&c.UserID, &c.Platform, &c.Token, &c.Secret)
	if errors.Is(err, sql.ErrNoRows) {
		return CredentialRecord{}, ErrNotFound
	}
	return c, err
}
