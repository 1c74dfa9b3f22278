package memory

import (
	"context"
	"sync"

	"covered-call-lab/internal/storage"
)

// RunLogStore is an in-memory implementation of storage.RunLogStore.
type RunLogStore struct {
	mu   sync.RWMutex
	runs map[string]*storage.RunRecord // keyed by run_id
}

// NewRunLogStore creates a new in-memory run log.
func NewRunLogStore() *RunLogStore {
	return &RunLogStore{
		runs: make(map[string]*storage.RunRecord),
	}
}

// RecordRun stores a finished run.
func (s *RunLogStore) RecordRun(_ context.Context, r *storage.RunRecord) error {
	if r == nil || r.RunID == "" || r.Job == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[r.RunID]; exists {
		return storage.ErrDuplicateKey
	}
	c := *r
	s.runs[r.RunID] = &c
	return nil
}

// GetLastRun returns the latest finished run of job.
func (s *RunLogStore) GetLastRun(_ context.Context, job string) (*storage.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *storage.RunRecord
	for _, r := range s.runs {
		if r.Job != job {
			continue
		}
		if last == nil || r.FinishedAt.After(last.FinishedAt) {
			last = r
		}
	}
	if last == nil {
		return nil, storage.ErrNotFound
	}
	c := *last
	return &c, nil
}

var _ storage.RunLogStore = (*RunLogStore)(nil)
