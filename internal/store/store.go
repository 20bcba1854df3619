package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Store is the durable ledger: drafts, runs, the run lease, publish
// receipts, and the read side of users and credentials.
type Store struct {
	db       *sql.DB
	dialect  string
	sb       sq.StatementBuilderType
	now      func() time.Time
	newToken func() string
}

// Option customises a Store.
type Option func(*Store)

// WithClock sets the clock used for every timestamp the ledger writes.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// WithTokenGenerator replaces the confirmation token generator.
func WithTokenGenerator(fn func() string) Option {
	return func(s *Store) { s.newToken = fn }
}

// New opens the database for the dialect, applies the schema and returns a
// ready Store. For sqlite an empty dsn means :memory:.
func New(ctx context.Context, dialect, dsn string, opts ...Option) (*Store, error) {
	var db *sql.DB
	var err error

	switch dialect {
	case DialectSQLite:
		db, err = openSQLite(dsn)
	case DialectPostgres:
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("store: unknown dialect %q", dialect)
	}
	if err != nil {
		return nil, err
	}

	s := Wrap(db, dialect, opts...)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Wrap builds a Store around an existing handle without touching the schema.
func Wrap(db *sql.DB, dialect string, opts ...Option) *Store {
	var placeholder sq.PlaceholderFormat = sq.Question
	if dialect == DialectPostgres {
		placeholder = sq.Dollar
	}
	s := &Store{
		db:       db,
		dialect:  dialect,
		sb:       sq.StatementBuilder.PlaceholderFormat(placeholder),
		now:      time.Now,
		newToken: func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func openSQLite(dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0700); err != nil {
			return nil, err
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; also keeps :memory: on a single connection.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Dialect returns the SQL dialect in use.
func (s *Store) Dialect() string { return s.dialect }

func (s *Store) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// Now is the ledger's clock, as used for every timestamp it writes.
func (s *Store) Now() time.Time { return s.clock() }

// Migrate creates the database schema
func (s *Store) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.dialect == DialectPostgres {
		schema = postgresSchema
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, q sq.Sqlizer) (sql.Result, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return s.db.ExecContext(ctx, query, args...)
}

func (s *Store) queryRow(ctx context.Context, q sq.Sqlizer) (*sql.Row, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return s.db.QueryRowContext(ctx, query, args...), nil
}

func (s *Store) query(ctx context.Context, q sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	return s.db.QueryContext(ctx, query, args...)
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	screen_name TEXT NOT NULL UNIQUE,
	email TEXT,
	topics TEXT NOT NULL DEFAULT '[]',
	active BOOLEAN NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	user_id INTEGER PRIMARY KEY REFERENCES users(id),
	platform TEXT NOT NULL,
	token TEXT NOT NULL,
	secret TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trigger_source TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	summary TEXT,
	error TEXT
);

CREATE TABLE IF NOT EXISTS drafts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	run_id INTEGER NOT NULL,
	topic TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	confirmation_token TEXT UNIQUE,
	idempotency_key TEXT NOT NULL UNIQUE,
	external_post_id TEXT,
	failure_reason TEXT,
	created_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL,
	notified_at DATETIME,
	confirmed_at DATETIME,
	published_at DATETIME,
	failed_at DATETIME,
	token_used_at DATETIME
);

CREATE TABLE IF NOT EXISTS leases (
	name TEXT PRIMARY KEY,
	holder TEXT NOT NULL,
	acquired_at DATETIME NOT NULL,
	expires_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS publish_receipts (
	idempotency_key TEXT PRIMARY KEY,
	external_post_id TEXT NOT NULL,
	published_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_drafts_status_expires ON drafts(status, expires_at);
CREATE INDEX IF NOT EXISTS idx_drafts_user_created ON drafts(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	screen_name TEXT NOT NULL UNIQUE,
	email TEXT,
	topics TEXT NOT NULL DEFAULT '[]',
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	user_id BIGINT PRIMARY KEY REFERENCES users(id),
	platform TEXT NOT NULL,
	token TEXT NOT NULL,
	secret TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id BIGSERIAL PRIMARY KEY,
	trigger_source TEXT NOT NULL,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	summary TEXT,
	error TEXT
);

CREATE TABLE IF NOT EXISTS drafts (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL,
	run_id BIGINT NOT NULL,
	topic TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	confirmation_token TEXT UNIQUE,
	idempotency_key TEXT NOT NULL UNIQUE,
	external_post_id TEXT,
	failure_reason TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	notified_at TIMESTAMPTZ,
	confirmed_at TIMESTAMPTZ,
	published_at TIMESTAMPTZ,
	failed_at TIMESTAMPTZ,
	token_used_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS leases (
	name TEXT PRIMARY KEY,
	holder TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS publish_receipts (
	idempotency_key TEXT PRIMARY KEY,
	external_post_id TEXT NOT NULL,
	published_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_drafts_status_expires ON drafts(status, expires_at);
CREATE INDEX IF NOT EXISTS idx_drafts_user_created ON drafts(user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`
