// Package archival moves labeled records out of the active working set.
//
// A record is archived once it is Win or Loss and its expiration is older than
// the retention cutoff. Pending records are never archived. Every record ends up
// in exactly one of the two partitions.
package archival

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/observability"
	"covered-call-lab/internal/storage"
)

// Cutoff returns asOf minus retentionDays, truncated to the calendar date.
// Records expiring strictly before the cutoff are eligible.
func Cutoff(asOf time.Time, retentionDays int) time.Time {
	return domain.Date(asOf).AddDate(0, 0, -retentionDays)
}

// Eligible reports whether r should leave the active set at cutoff.
func Eligible(r *domain.TradeRecord, cutoff time.Time) bool {
	if r.Status == domain.StatusArchived {
		return true
	}
	return r.Status.IsTerminal() && domain.Date(r.Expiration).Before(cutoff)
}

// Archive splits active into the records that stay and the archived copies of
// the records that move. Moved copies carry status Archived, ArchivedAt = now
// and keep the Win/Loss label in Outcome. active is not modified.
func Archive(active []*domain.TradeRecord, cutoff time.Time, now time.Time) (newActive, delta []*domain.TradeRecord) {
	for _, r := range active {
		if !Eligible(r, cutoff) {
			newActive = append(newActive, r)
			continue
		}
		delta = append(delta, archivedCopy(r, now))
	}
	return newActive, delta
}

func archivedCopy(r *domain.TradeRecord, now time.Time) *domain.TradeRecord {
	c := r.Clone()
	if c.Status == domain.StatusArchived {
		return c
	}
	if c.Outcome == nil {
		c.Outcome = &domain.Outcome{Label: c.Status}
	} else if c.Outcome.Label == "" {
		c.Outcome.Label = c.Status
	}
	c.Status = domain.StatusArchived
	at := now.UTC()
	c.ArchivedAt = &at
	c.UpdatedAt = at
	return c
}

// Result summarizes one archival run.
type Result struct {
	Cutoff   time.Time
	Scanned  int // terminal records in the active set
	Eligible int
	Moved    int // less than Eligible when a previous run already moved some
}

// Manager runs archival against a store holding both partitions.
type Manager struct {
	store         storage.PartitionStore
	retentionDays int
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

// NewManager creates a Manager. A nil logger is replaced with a no-op logger.
func NewManager(store storage.PartitionStore, retentionDays int, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:         store,
		retentionDays: retentionDays,
		logger:        logger,
		metrics:       observability.DefaultMetrics,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics replaces the metrics sink.
func (m *Manager) WithMetrics(metrics *observability.Metrics) *Manager {
	m.metrics = observability.OrDefault(metrics)
	return m
}

// Run archives every eligible record as of asOf. Running it twice is a no-op the second time.
// Store failures are returned wrapped in domain.ErrPersistence.
func (m *Manager) Run(ctx context.Context, asOf time.Time) (*Result, error) {
	cutoff := Cutoff(asOf, m.retentionDays)

	terminal, err := m.store.GetByStatus(ctx, domain.StatusWin, domain.StatusLoss)
	if err != nil {
		return nil, fmt.Errorf("%w: load terminal records: %w", domain.ErrPersistence, err)
	}

	_, delta := Archive(terminal, cutoff, m.now())
	res := &Result{Cutoff: cutoff, Scanned: len(terminal), Eligible: len(delta)}

	if len(delta) > 0 {
		start := time.Now()
		moved, err := m.store.MoveToArchive(ctx, delta)
		m.metrics.RecordDBQuery("trade_records_archive", "move", time.Since(start).Seconds(), err)
		if err != nil {
			m.logger.Error("archival failed", zap.Int("eligible", len(delta)), zap.Error(err))
			return nil, fmt.Errorf("%w: move to archive: %w", domain.ErrPersistence, err)
		}
		res.Moved = moved
		m.metrics.RecordArchived(moved)
	}

	m.logger.Info("archival complete",
		zap.String("cutoff", cutoff.Format(domain.DateLayout)),
		zap.Int("scanned", res.Scanned),
		zap.Int("eligible", res.Eligible),
		zap.Int("moved", res.Moved),
	)
	return res, nil
}
