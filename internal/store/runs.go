package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/AdamTech2025/twitter-autobot/internal/types"
)

// CreateRun records the start of a run.
func (s *Store) CreateRun(ctx context.Context, source types.TriggerSource) (types.Run, error) {
	run := types.Run{
		TriggerSource: source,
		Status:        types.RunInProgress,
		StartedAt:     s.clock(),
	}

	q := s.sb.Insert("runs").
		Columns("trigger_source", "status", "started_at").
		Values(string(run.TriggerSource), string(run.Status), run.StartedAt).
		Suffix("RETURNING id")
	row, err := s.queryRow(ctx, q)
	if err != nil {
		return types.Run{}, err
	}
	if err := row.Scan(&run.ID); err != nil {
		return types.Run{}, fmt.Errorf("store: create run: %w", err)
	}
	return run, nil
}

// FinishRun closes an in-progress run with its final status and summary.
func (s *Store) FinishRun(ctx context.Context, id int64, status types.RunStatus, summary *types.RunSummary, runErr error) error {
	set := map[string]any{
		"status":       string(status),
		"completed_at": s.clock(),
	}
	if summary != nil {
		data, err := json.Marshal(summary)
		if err != nil {
			return err
		}
		set["summary"] = string(data)
	}
	if runErr != nil {
		set["error"] = runErr.Error()
	}

	q := s.sb.Update("runs").SetMap(set).
		Where(sq.Eq{"id": id, "status": string(types.RunInProgress)})
	res, err := s.exec(ctx, q)
	if err != nil {
		return fmt.Errorf("store: finish run %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetRun(ctx, id); err != nil {
			return err
		}
		return ErrStaleState
	}
	return nil
}

// AbandonRuns fails every run still marked in progress. Only call while
// holding the run lease: any such run belongs to a process that died.
func (s *Store) AbandonRuns(ctx context.Context, reason string) (int64, error) {
	q := s.sb.Update("runs").
		SetMap(map[string]any{
			"status":       string(types.RunFailed),
			"completed_at": s.clock(),
			"error":        reason,
		}).
		Where(sq.Eq{"status": string(types.RunInProgress)})
	res, err := s.exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("store: abandon runs: %w", err)
	}
	return res.RowsAffected()
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id int64) (types.Run, error) {
	q := s.sb.Select("id", "trigger_source", "status", "started_at", "completed_at", "summary", "error").
		From("runs").
		Where(sq.Eq{"id": id})
	row, err := s.queryRow(ctx, q)
	if err != nil {
		return types.Run{}, err
	}

	var run types.Run
	var source, status string
	var completed sql.NullTime
	var summary, runErr sql.NullString
	err = row.Scan(&run.ID, &source, &status, &run.StartedAt, &completed, &summary, &runErr)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Run{}, ErrNotFound
	}
	if err != nil {
		return types.Run{}, err
	}

	run.TriggerSource = types.TriggerSource(source)
	run.Status = types.RunStatus(status)
	run.StartedAt = run.StartedAt.UTC()
	run.CompletedAt = nullTime(completed)
	run.Error = runErr.String
	if summary.Valid && summary.String != "" {
		var rs types.RunSummary
		if err := json.Unmarshal([]byte(summary.String), &rs); err != nil {
			return types.Run{}, fmt.Errorf("store: decode run summary: %w", err)
		}
		run.Summary = &rs
	}
	return run, nil
}

// AcquireLease takes the named lease for holder when it is free or its
// previous holder's ttl has lapsed. It reports whether holder now owns it.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := s.clock()
	q := s.sb.Insert("leases").
		Columns("name", "holder", "acquired_at", "expires_at").
		Values(name, holder, now, now.Add(ttl)).
		Suffix(`ON CONFLICT (name) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
			WHERE leases.expires_at < ?`, now)

	res, err := s.exec(ctx, q)
	if err != nil {
		return false, fmt.Errorf("store: acquire lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseLease drops the lease if holder still owns it.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	q := s.sb.Delete("leases").Where(sq.Eq{"name": name, "holder": holder})
	if _, err := s.exec(ctx, q); err != nil {
		return fmt.Errorf("store: release lease %s: %w", name, err)
	}
	return nil
}

// LeaseHolder returns the current holder of the lease, or "" when free.
func (s *Store) LeaseHolder(ctx context.Context, name string) (string, error) {
	q := s.sb.Select("holder").From("leases").
		Where(sq.Eq{"name": name}).
		Where(sq.GtOrEq{"expires_at": s.clock()})
	row, err := s.queryRow(ctx, q)
	if err != nil {
		return "", err
	}
	var holder string
	if err := row.Scan(&holder); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return holder, nil
}
