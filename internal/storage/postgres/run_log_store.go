package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/storage"
)

// RunLogStore is a PostgreSQL implementation of storage.RunLogStore backed by job_runs.
type RunLogStore struct {
	pool *Pool
}

// NewRunLogStore creates a new PostgreSQL run log store.
func NewRunLogStore(pool *Pool) *RunLogStore {
	return &RunLogStore{pool: pool}
}

var _ storage.RunLogStore = (*RunLogStore)(nil)

// RecordRun stores a finished run. Returns ErrDuplicateKey if run_id exists.
func (s *RunLogStore) RecordRun(ctx context.Context, r *storage.RunRecord) error {
	if r == nil || r.RunID == "" || r.Job == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs (
			run_id, job, run_date, processed, skipped, persisted, pending, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, r.RunID, r.Job, domain.Date(r.RunDate), r.Processed, r.Skipped, r.Persisted, r.Pending, r.StartedAt, r.FinishedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

// GetLastRun returns the most recent run of job.
func (s *RunLogStore) GetLastRun(ctx context.Context, job string) (*storage.RunRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, job, run_date, processed, skipped, persisted, pending, started_at, finished_at
		FROM job_runs
		WHERE job = $1
		ORDER BY finished_at DESC
		LIMIT 1
	`, job)

	var r storage.RunRecord
	err := row.Scan(&r.RunID, &r.Job, &r.RunDate, &r.Processed, &r.Skipped, &r.Persisted, &r.Pending, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get last job run: %w", err)
	}

	r.RunDate = domain.Date(r.RunDate)
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()
	return &r, nil
}
