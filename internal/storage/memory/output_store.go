package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/storage"
)

func partitionKey(runDate time.Time) string {
	return domain.Date(runDate).Format(domain.DateLayout)
}

// ScreeningOutputStore is an in-memory implementation of storage.ScreeningOutputStore.
type ScreeningOutputStore struct {
	mu   sync.RWMutex
	data map[string][]storage.ScreeningRow // keyed by run date
}

// NewScreeningOutputStore creates a new in-memory screening output store.
func NewScreeningOutputStore() *ScreeningOutputStore {
	return &ScreeningOutputStore{
		data: make(map[string][]storage.ScreeningRow),
	}
}

// WriteRun replaces the runDate partition.
func (s *ScreeningOutputStore) WriteRun(_ context.Context, runDate time.Time, runID string, records []*domain.TradeRecord) error {
	rows := make([]storage.ScreeningRow, 0, len(records))
	for i, r := range records {
		if r == nil {
			return storage.ErrInvalidInput
		}
		rows = append(rows, storage.ScreeningRow{
			RunDate: domain.Date(runDate),
			RunID:   runID,
			Rank:    i + 1,
			Record:  r.Clone(),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[partitionKey(runDate)] = rows
	return nil
}

// GetRun retrieves the runDate partition ordered by rank.
func (s *ScreeningOutputStore) GetRun(_ context.Context, runDate time.Time) ([]storage.ScreeningRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.data[partitionKey(runDate)]
	result := make([]storage.ScreeningRow, len(rows))
	for i, row := range rows {
		row.Record = row.Record.Clone()
		result[i] = row
	}
	return result, nil
}

var _ storage.ScreeningOutputStore = (*ScreeningOutputStore)(nil)

// TrainingDataStore is an in-memory implementation of storage.TrainingDataStore.
type TrainingDataStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*domain.TradeRecord // run date -> record_id
}

// NewTrainingDataStore creates a new in-memory training data store.
func NewTrainingDataStore() *TrainingDataStore {
	return &TrainingDataStore{
		data: make(map[string]map[string]*domain.TradeRecord),
	}
}

// WriteLabeled adds labeled records to the runDate partition, replacing rows with the same id.
func (s *TrainingDataStore) WriteLabeled(_ context.Context, runDate time.Time, records []*domain.TradeRecord) error {
	for _, r := range records {
		if r == nil || r.RecordID == "" || r.Outcome == nil {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := partitionKey(runDate)
	part, ok := s.data[key]
	if !ok {
		part = make(map[string]*domain.TradeRecord)
		s.data[key] = part
	}
	for _, r := range records {
		part[r.RecordID] = r.Clone()
	}
	return nil
}

// GetByRunDate retrieves the runDate partition ordered by record id.
func (s *TrainingDataStore) GetByRunDate(_ context.Context, runDate time.Time) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	part := s.data[partitionKey(runDate)]
	result := make([]*domain.TradeRecord, 0, len(part))
	for _, r := range part {
		result = append(result, r.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].RecordID < result[j].RecordID
	})
	return result, nil
}

var _ storage.TrainingDataStore = (*TrainingDataStore)(nil)
