package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/storage"
)

func record(id, symbol string, strike float64, status domain.Status) *domain.TradeRecord {
	return &domain.TradeRecord{
		RecordID:        id,
		Symbol:          symbol,
		Expiration:      time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC),
		Strike:          strike,
		OptionType:      domain.OptionTypeCall,
		ObservationDate: time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC),
		Spot:            185,
		Premium:         2,
		Status:          status,
	}
}

func labeled(r *domain.TradeRecord, label domain.Status) *domain.TradeRecord {
	c := r.Clone()
	c.Status = label
	c.Outcome = &domain.Outcome{Label: label, ClosingPrice: 188, RealizedPnL: 5, Policy: "realized_pnl"}
	return c
}

func archivedForm(r *domain.TradeRecord) *domain.TradeRecord {
	c := r.Clone()
	c.Status = domain.StatusArchived
	return c
}

func TestTradeRecordStore_UpsertAndGet(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	got, err := store.Upsert(ctx, record("r1", "AAPL", 190, domain.StatusCandidate))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if got.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	got, err = store.GetByID(ctx, "r1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Strike != 190 {
		t.Errorf("Strike mismatch: got %f, want %f", got.Strike, 190.0)
	}
}

func TestTradeRecordStore_NotFound(t *testing.T) {
	store := NewTradeRecordStore()

	_, err := store.GetByID(context.Background(), "nonexistent")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTradeRecordStore_UpsertRejectsInvalid(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	bad := record("r1", "AAPL", 190, domain.StatusCandidate)
	bad.ObservationDate = bad.Expiration
	if _, err := store.Upsert(ctx, bad); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for observation on expiration, got %v", err)
	}

	if _, err := store.Upsert(ctx, record("r2", "AAPL", 190, domain.StatusArchived)); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for archived status, got %v", err)
	}
}

func TestTradeRecordStore_RescreenKeepsStatus(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	if _, err := store.Upsert(ctx, record("r1", "AAPL", 190, domain.StatusCandidate)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := store.Promote(ctx, []string{"r1"}, domain.StatusPending); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}

	newer := record("r1", "AAPL", 190, domain.StatusCandidate)
	newer.Delta = 0.31
	got, err := store.Upsert(ctx, newer)
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Errorf("status moved backward: got %s", got.Status)
	}
	if got.Delta != 0.31 {
		t.Errorf("analytics not refreshed: delta %f", got.Delta)
	}
}

func TestTradeRecordStore_UpsertBulkDuplicate(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	err := store.UpsertBulk(ctx, []*domain.TradeRecord{
		record("r1", "AAPL", 190, domain.StatusCandidate),
		record("r1", "AAPL", 190, domain.StatusCandidate),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	all, _ := store.GetAll(ctx)
	if len(all) != 0 {
		t.Errorf("failed batch left %d records", len(all))
	}
}

func TestTradeRecordStore_GetByStatusOrdered(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	err := store.UpsertBulk(ctx, []*domain.TradeRecord{
		record("r3", "MSFT", 400, domain.StatusPending),
		record("r2", "AAPL", 195, domain.StatusPending),
		record("r1", "AAPL", 190, domain.StatusScreened),
		record("r4", "AAPL", 200, domain.StatusCandidate),
	})
	if err != nil {
		t.Fatalf("UpsertBulk failed: %v", err)
	}

	got, err := store.GetByStatus(ctx, domain.StatusScreened, domain.StatusPending)
	if err != nil {
		t.Fatalf("GetByStatus failed: %v", err)
	}
	want := []string{"r1", "r2", "r3"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d records, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].RecordID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].RecordID, id)
		}
	}
}

func TestTradeRecordStore_PromoteNeverBackward(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	_ = store.UpsertBulk(ctx, []*domain.TradeRecord{
		record("r1", "AAPL", 190, domain.StatusCandidate),
		record("r2", "AAPL", 195, domain.StatusPending),
	})

	if err := store.Promote(ctx, []string{"r1", "r2", "missing"}, domain.StatusScreened); err != nil {
		t.Fatalf("Promote failed: %v", err)
	}
	r1, _ := store.GetByID(ctx, "r1")
	r2, _ := store.GetByID(ctx, "r2")
	if r1.Status != domain.StatusScreened {
		t.Errorf("r1: got %s, want SCREENED", r1.Status)
	}
	if r2.Status != domain.StatusPending {
		t.Errorf("r2: got %s, want PENDING", r2.Status)
	}

	if err := store.Promote(ctx, []string{"r1"}, domain.StatusWin); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput promoting to WIN, got %v", err)
	}
}

func TestTradeRecordStore_SaveLabelImmutable(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	pending := record("r1", "AAPL", 190, domain.StatusPending)
	_, _ = store.Upsert(ctx, pending)

	if err := store.SaveLabel(ctx, labeled(pending, domain.StatusWin)); err != nil {
		t.Fatalf("SaveLabel failed: %v", err)
	}
	got, _ := store.GetByID(ctx, "r1")
	if got.Status != domain.StatusWin || got.Outcome == nil {
		t.Fatalf("label not stored: %+v", got)
	}

	if err := store.SaveLabel(ctx, labeled(pending, domain.StatusLoss)); !errors.Is(err, storage.ErrImmutable) {
		t.Errorf("Expected ErrImmutable relabeling, got %v", err)
	}

	// Re-screening a labeled key leaves the ground truth alone.
	again, err := store.Upsert(ctx, record("r1", "AAPL", 190, domain.StatusCandidate))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if again.Status != domain.StatusWin {
		t.Errorf("labeled record changed: got %s", again.Status)
	}

	if err := store.SaveLabel(ctx, labeled(record("nope", "AAPL", 190, domain.StatusPending), domain.StatusWin)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	_, _ = store.Upsert(ctx, record("r2", "AAPL", 195, domain.StatusCandidate))
	if err := store.SaveLabel(ctx, labeled(record("r2", "AAPL", 195, domain.StatusCandidate), domain.StatusWin)); !errors.Is(err, storage.ErrImmutable) {
		t.Errorf("Expected ErrImmutable for unscreened record, got %v", err)
	}
}

func TestTradeRecordStore_MoveToArchive(t *testing.T) {
	store := NewTradeRecordStore()
	ctx := context.Background()

	win := labeled(record("r1", "AAPL", 190, domain.StatusPending), domain.StatusWin)
	_, _ = store.Upsert(ctx, record("r1", "AAPL", 190, domain.StatusPending))
	_, _ = store.Upsert(ctx, record("r2", "AAPL", 195, domain.StatusPending))
	if err := store.SaveLabel(ctx, win); err != nil {
		t.Fatalf("SaveLabel failed: %v", err)
	}

	n, err := store.MoveToArchive(ctx, []*domain.TradeRecord{archivedForm(win)})
	if err != nil {
		t.Fatalf("MoveToArchive failed: %v", err)
	}
	if n != 1 {
		t.Errorf("moved %d, want 1", n)
	}

	if _, err := store.GetByID(ctx, "r1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("record still active: %v", err)
	}
	got, err := store.GetArchivedByID(ctx, "r1")
	if err != nil {
		t.Fatalf("GetArchivedByID failed: %v", err)
	}
	if got.Status != domain.StatusArchived || got.Outcome.Label != domain.StatusWin || got.ArchivedAt == nil {
		t.Errorf("unexpected archived record: %+v", got)
	}

	// Second move is a no-op.
	n, err = store.MoveToArchive(ctx, []*domain.TradeRecord{archivedForm(win)})
	if err != nil || n != 0 {
		t.Errorf("second move: n=%d err=%v", n, err)
	}

	// Pending records are refused.
	p := labeled(record("r2", "AAPL", 195, domain.StatusPending), domain.StatusWin)
	if _, err := store.MoveToArchive(ctx, []*domain.TradeRecord{archivedForm(p)}); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for pending record, got %v", err)
	}

	active, _ := store.GetAll(ctx)
	archived, _ := store.GetArchived(ctx)
	if len(active) != 1 || len(archived) != 1 {
		t.Errorf("partition sizes active=%d archive=%d, want 1/1", len(active), len(archived))
	}
}
