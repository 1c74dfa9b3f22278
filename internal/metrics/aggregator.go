package metrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/storage"
)

// ErrNoLabels is returned when no labeled records are available for aggregation.
var ErrNoLabels = errors.New("no labeled records available for aggregation")

// Aggregator computes label statistics from persisted records.
type Aggregator struct {
	training storage.TrainingDataStore
	archive  storage.ArchiveStore
}

// NewAggregator creates a new aggregator. archive may be nil when only
// per-run statistics are needed.
func NewAggregator(training storage.TrainingDataStore, archive storage.ArchiveStore) *Aggregator {
	return &Aggregator{training: training, archive: archive}
}

// ForRunDate computes statistics over the training rows written on runDate.
// Returns ErrNoLabels if the partition is empty.
func (a *Aggregator) ForRunDate(ctx context.Context, runDate time.Time) (*LabelStats, error) {
	records, err := a.training.GetByRunDate(ctx, runDate)
	if err != nil {
		return nil, fmt.Errorf("load training rows %s: %w", domain.Date(runDate).Format(domain.DateLayout), err)
	}
	if len(records) == 0 {
		return nil, ErrNoLabels
	}
	return ComputeLabelStats(records), nil
}

// Lifetime computes statistics over the whole archive partition.
// Returns ErrNoLabels if nothing has been archived.
func (a *Aggregator) Lifetime(ctx context.Context) (*LabelStats, error) {
	if a.archive == nil {
		return nil, ErrNoLabels
	}
	records, err := a.archive.GetArchived(ctx)
	if err != nil {
		return nil, fmt.Errorf("load archive: %w", err)
	}
	stats := ComputeLabelStats(records)
	if stats.Total == 0 {
		return nil, ErrNoLabels
	}
	return stats, nil
}
