package storage

import (
	"context"
	"time"

	"covered-call-lab/internal/domain"
)

// TradeRecordStore is the active partition: trade_records.
// It never holds Archived records.
type TradeRecordStore interface {
	// Upsert inserts a record or refreshes an existing one with the same record id.
	// Refresh follows domain.TradeRecord.RefreshFrom: status never moves backward and
	// labeled records are left untouched. Returns the stored state.
	Upsert(ctx context.Context, r *domain.TradeRecord) (*domain.TradeRecord, error)

	// UpsertBulk applies Upsert to every record atomically.
	// Returns ErrDuplicateKey if the batch repeats a record id.
	UpsertBulk(ctx context.Context, records []*domain.TradeRecord) error

	// GetByID retrieves a record. Returns ErrNotFound if absent.
	GetByID(ctx context.Context, recordID string) (*domain.TradeRecord, error)

	// GetByStatus retrieves records in any of the given statuses, ordered by
	// contract key (symbol, expiration, strike).
	GetByStatus(ctx context.Context, statuses ...domain.Status) ([]*domain.TradeRecord, error)

	// GetAll retrieves the whole active partition, same ordering as GetByStatus.
	GetAll(ctx context.Context) ([]*domain.TradeRecord, error)

	// Promote moves the given records forward to status `to`.
	// Records already at or past `to` are left as they are. Unknown ids are ignored.
	Promote(ctx context.Context, recordIDs []string, to domain.Status) error

	// SaveLabel stores a resolved Win/Loss record.
	// Returns ErrNotFound if absent and ErrImmutable unless the stored record is Screened or Pending.
	SaveLabel(ctx context.Context, r *domain.TradeRecord) error
}

// ArchiveStore moves terminal records from the active partition to trade_records_archive.
type ArchiveStore interface {
	// MoveToArchive deletes the records from the active partition and inserts them into
	// the archive in one step. Records already archived are skipped.
	// Returns the number of records moved.
	MoveToArchive(ctx context.Context, records []*domain.TradeRecord) (int, error)

	// GetArchived retrieves the whole archive partition ordered by contract key.
	GetArchived(ctx context.Context) ([]*domain.TradeRecord, error)

	// GetArchivedByID retrieves an archived record. Returns ErrNotFound if absent.
	GetArchivedByID(ctx context.Context, recordID string) (*domain.TradeRecord, error)
}

// PartitionStore is a store holding both partitions, which archival needs.
type PartitionStore interface {
	TradeRecordStore
	ArchiveStore
}

// ScreeningRow is one ranked row of a screening run output.
type ScreeningRow struct {
	RunDate time.Time
	RunID   string
	Rank    int // 1-based position in the ranked output
	Record  *domain.TradeRecord
}

// ScreeningOutputStore is the ranked screening output, partitioned by run date.
type ScreeningOutputStore interface {
	// WriteRun replaces the partition of runDate with the ranked records.
	// Rank is the position in records, starting at 1. Rerunning a date overwrites it.
	WriteRun(ctx context.Context, runDate time.Time, runID string, records []*domain.TradeRecord) error

	// GetRun retrieves the partition of runDate ordered by rank.
	GetRun(ctx context.Context, runDate time.Time) ([]ScreeningRow, error)
}

// TrainingDataStore is the labeled training dataset, partitioned by labeling run date.
type TrainingDataStore interface {
	// WriteLabeled appends labeled records to the runDate partition.
	// Writing the same record id again replaces the previous row.
	// Returns ErrInvalidInput if a record has no outcome.
	WriteLabeled(ctx context.Context, runDate time.Time, records []*domain.TradeRecord) error

	// GetByRunDate retrieves the labeled records of runDate ordered by record id.
	GetByRunDate(ctx context.Context, runDate time.Time) ([]*domain.TradeRecord, error)
}
