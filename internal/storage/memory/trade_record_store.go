package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/storage"
)

// TradeRecordStore is an in-memory implementation of storage.PartitionStore.
// Active and archived records live in separate maps; a record id is in at most one.
type TradeRecordStore struct {
	mu      sync.RWMutex
	active  map[string]*domain.TradeRecord // keyed by record_id
	archive map[string]*domain.TradeRecord
	now     func() time.Time
}

// NewTradeRecordStore creates a new in-memory trade record store.
func NewTradeRecordStore() *TradeRecordStore {
	return &TradeRecordStore{
		active:  make(map[string]*domain.TradeRecord),
		archive: make(map[string]*domain.TradeRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upsert inserts r or refreshes the stored record with the same id.
func (s *TradeRecordStore) Upsert(_ context.Context, r *domain.TradeRecord) (*domain.TradeRecord, error) {
	if err := validateUpsert(r); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertLocked(r), nil
}

// UpsertBulk upserts all records atomically. Fails the entire batch on invalid input
// or an intra-batch duplicate.
func (s *TradeRecordStore) UpsertBulk(_ context.Context, records []*domain.TradeRecord) error {
	if len(records) == 0 {
		return nil
	}

	batchKeys := make(map[string]struct{}, len(records))
	for _, r := range records {
		if err := validateUpsert(r); err != nil {
			return err
		}
		if _, exists := batchKeys[r.RecordID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[r.RecordID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		s.upsertLocked(r)
	}
	return nil
}

func (s *TradeRecordStore) upsertLocked(r *domain.TradeRecord) *domain.TradeRecord {
	if archived, ok := s.archive[r.RecordID]; ok {
		return archived.Clone()
	}
	if cur, ok := s.active[r.RecordID]; ok {
		cur.RefreshFrom(r)
		return cur.Clone()
	}

	c := r.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}
	s.active[r.RecordID] = c
	return c.Clone()
}

func validateUpsert(r *domain.TradeRecord) error {
	if r == nil || r.RecordID == "" {
		return storage.ErrInvalidInput
	}
	if r.Status == domain.StatusArchived {
		return fmt.Errorf("archived record %s in active partition: %w", r.RecordID, storage.ErrInvalidInput)
	}
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
	}
	return nil
}

// GetByID retrieves an active record by its ID. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetByID(_ context.Context, recordID string) (*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.active[recordID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return r.Clone(), nil
}

// GetByStatus retrieves active records in any of the given statuses.
func (s *TradeRecordStore) GetByStatus(_ context.Context, statuses ...domain.Status) ([]*domain.TradeRecord, error) {
	want := make(map[domain.Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeRecord
	for _, r := range s.active {
		if want[r.Status] {
			result = append(result, r.Clone())
		}
	}
	sortByKey(result)
	return result, nil
}

// GetAll retrieves every active record.
func (s *TradeRecordStore) GetAll(_ context.Context) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.TradeRecord, 0, len(s.active))
	for _, r := range s.active {
		result = append(result, r.Clone())
	}
	sortByKey(result)
	return result, nil
}

// Promote moves records forward to status to.
func (s *TradeRecordStore) Promote(_ context.Context, recordIDs []string, to domain.Status) error {
	if to != domain.StatusScreened && to != domain.StatusPending {
		return fmt.Errorf("promote to %s: %w", to, storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range recordIDs {
		r, ok := s.active[id]
		if !ok || r.Status.Rank() >= to.Rank() {
			continue
		}
		r.Status = to
		r.UpdatedAt = now
	}
	return nil
}

// SaveLabel stores a resolved Win/Loss record over its Screened/Pending predecessor.
func (s *TradeRecordStore) SaveLabel(_ context.Context, r *domain.TradeRecord) error {
	if r == nil || r.RecordID == "" || r.Outcome == nil || !r.Status.IsTerminal() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.archive[r.RecordID]; ok {
		return storage.ErrImmutable
	}
	cur, ok := s.active[r.RecordID]
	if !ok {
		return storage.ErrNotFound
	}
	if !cur.Status.IsLabelable() {
		return storage.ErrImmutable
	}

	c := r.Clone()
	c.CreatedAt = cur.CreatedAt
	s.active[r.RecordID] = c
	return nil
}

// MoveToArchive moves archived-form records out of the active partition.
// The batch is validated before anything moves.
func (s *TradeRecordStore) MoveToArchive(_ context.Context, records []*domain.TradeRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toMove []*domain.TradeRecord
	for _, r := range records {
		if r == nil || r.RecordID == "" || r.Status != domain.StatusArchived || r.Outcome == nil {
			return 0, storage.ErrInvalidInput
		}
		if _, done := s.archive[r.RecordID]; done {
			continue
		}
		cur, ok := s.active[r.RecordID]
		if !ok {
			return 0, fmt.Errorf("archive %s: %w", r.RecordID, storage.ErrNotFound)
		}
		if !cur.Status.IsTerminal() {
			return 0, fmt.Errorf("archive %s in status %s: %w", r.RecordID, cur.Status, storage.ErrInvalidInput)
		}
		toMove = append(toMove, r)
	}

	now := s.now()
	for _, r := range toMove {
		c := r.Clone()
		if c.ArchivedAt == nil {
			c.ArchivedAt = &now
		}
		delete(s.active, r.RecordID)
		s.archive[r.RecordID] = c
	}
	return len(toMove), nil
}

// GetArchived retrieves the archive partition.
func (s *TradeRecordStore) GetArchived(_ context.Context) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.TradeRecord, 0, len(s.archive))
	for _, r := range s.archive {
		result = append(result, r.Clone())
	}
	sortByKey(result)
	return result, nil
}

// GetArchivedByID retrieves an archived record. Returns ErrNotFound if not exists.
func (s *TradeRecordStore) GetArchivedByID(_ context.Context, recordID string) (*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.archive[recordID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.Clone(), nil
}

func sortByKey(records []*domain.TradeRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key().Less(records[j].Key())
	})
}

var _ storage.PartitionStore = (*TradeRecordStore)(nil)
