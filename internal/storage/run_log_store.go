package storage

import (
	"context"
	"time"
)

// Job names recorded in the run log.
const (
	JobScreening = "screening"
	JobLabeling  = "labeling"
)

// RunRecord is the summary of one finished job run.
type RunRecord struct {
	RunID      string
	Job        string
	RunDate    time.Time // as-of date the run covered
	Processed  int
	Skipped    int
	Persisted  int
	Pending    int // labeling only
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunLogStore persists run summaries so operators can see when each job last completed.
type RunLogStore interface {
	// RecordRun stores a finished run. Returns ErrDuplicateKey if run_id exists.
	RecordRun(ctx context.Context, r *RunRecord) error

	// GetLastRun returns the most recent run of job by finished_at.
	// Returns ErrNotFound if the job never ran.
	GetLastRun(ctx context.Context, job string) (*RunRecord, error)
}
