package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"covered-call-lab/internal/archival"
	"covered-call-lab/internal/config"
	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/labeling"
	"covered-call-lab/internal/logging"
	"covered-call-lab/internal/marketdata"
	"covered-call-lab/internal/metrics"
	"covered-call-lab/internal/observability"
	"covered-call-lab/internal/reporting"
	"covered-call-lab/internal/storage"
)

// LabelingOptions configures a LabelingJob.
type LabelingOptions struct {
	// Required
	Records storage.TradeRecordStore
	Machine *labeling.Machine

	// Optional
	Training storage.TrainingDataStore
	Archiver *archival.Manager
	RunLog   storage.RunLogStore
	Exporter *reporting.Exporter

	Concurrency int // parallel closing-price lookups

	Logger  *zap.Logger
	Metrics *observability.Metrics
	Clock   func() time.Time
}

// NewMachineFromConfig builds the labeling machine configured by cfg.
func NewMachineFromConfig(cfg config.LabelingConfig, src marketdata.ClosingPriceSource, logger *zap.Logger) (*labeling.Machine, error) {
	policy, err := labeling.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	return labeling.NewMachine(src, policy,
		labeling.WithHighQualityThreshold(cfg.HighQualityAnnualReturn),
		labeling.WithWeekendFallback(cfg.WeekendFallback),
		labeling.WithHolidayGrace(cfg.HolidayGraceDays),
		labeling.WithLogger(logger),
	), nil
}

// LabelingJob resolves expired Screened/Pending records into Win or Loss,
// writes the training rows and then runs archival.
type LabelingJob struct {
	opts    LabelingOptions
	logger  *zap.Logger
	metrics *observability.Metrics
	clock   func() time.Time
}

// NewLabelingJob creates a labeling job.
func NewLabelingJob(opts LabelingOptions) *LabelingJob {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &LabelingJob{
		opts:    opts,
		logger:  logging.OrNop(opts.Logger).With(zap.String("job", observability.JobLabeling)),
		metrics: observability.OrDefault(opts.Metrics),
		clock:   clock,
	}
}

// LabelingSummary is the result of one labeling run.
type LabelingSummary struct {
	RunID      string
	RunDate    time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Policy     labeling.Policy

	Processed   int
	Labeled     int
	Wins        int
	Losses      int
	Deferred    int
	NotDue      int
	Skipped     int
	Pending     int // Screened/Pending records left after the run
	SkipReasons map[string]int

	Archival    *archival.Result
	Stats       *metrics.LabelStats
	Records     []*domain.TradeRecord // labeled in this run
	ExportPaths []string
}

// Report converts the summary for rendering.
func (s *LabelingSummary) Report() *reporting.LabelingReport {
	r := &reporting.LabelingReport{
		RunID:       s.RunID,
		RunDate:     s.RunDate,
		GeneratedAt: s.FinishedAt,
		Policy:      string(s.Policy),
		Processed:   s.Processed,
		Labeled:     s.Labeled,
		Wins:        s.Wins,
		Losses:      s.Losses,
		Deferred:    s.Deferred,
		NotDue:      s.NotDue,
		Skipped:     s.Skipped,
		Pending:     s.Pending,
		SkipReasons: reporting.SortedSkipReasons(s.SkipReasons),
		Stats:       s.Stats,
		Records:     s.Records,
	}
	if s.Archival != nil {
		r.Archived = s.Archival.Moved
	}
	return r
}

// Run executes one labeling run as of the job clock.
// Record failures are skipped and counted; persistence failures abort the run
// wrapped in domain.ErrPersistence.
func (j *LabelingJob) Run(ctx context.Context) (summary *LabelingSummary, err error) {
	start := j.clock()
	asOf := start
	summary = &LabelingSummary{
		RunID:       uuid.NewString(),
		RunDate:     domain.Date(asOf),
		StartedAt:   start,
		Policy:      j.opts.Machine.Policy(),
		SkipReasons: make(map[string]int),
	}
	logger := j.logger.With(zap.String("run_id", summary.RunID))

	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
		}
		finished := j.clock()
		j.metrics.RecordJobRun(observability.JobLabeling, status, finished.Sub(start).Seconds(), finished.Unix())
	}()

	var open []*domain.TradeRecord
	if err := timedQuery(j.metrics, "trade_records", "get_by_status", func() error {
		var qerr error
		open, qerr = j.opts.Records.GetByStatus(ctx, domain.StatusScreened, domain.StatusPending)
		return qerr
	}); err != nil {
		return nil, fmt.Errorf("%w: load open records: %w", domain.ErrPersistence, err)
	}
	summary.Processed = len(open)
	j.metrics.RecordProcessed(observability.JobLabeling, len(open))

	if err := j.markPending(ctx, open); err != nil {
		return nil, err
	}

	results, errs, err := j.apply(ctx, open, asOf)
	if err != nil {
		return nil, err
	}

	var labeled []*domain.TradeRecord
	for i, res := range results {
		if errs[i] != nil {
			reason := domain.Reason(errs[i])
			summary.Skipped++
			summary.SkipReasons[reason]++
			j.metrics.RecordSkipped(observability.JobLabeling, reason)
			logger.Warn("record skipped",
				append(logging.KeyFields(open[i].Key()),
					zap.String("reason", reason),
					zap.Error(errs[i]))...)
			continue
		}
		switch res.Transition {
		case labeling.Deferred:
			summary.Deferred++
		case labeling.NotDue:
			summary.NotDue++
		case labeling.Labeled:
			labeled = append(labeled, res.Record)
		}
	}

	// Outputs go first: if they fail nothing is labeled yet, so the next run
	// redoes the whole batch. Rewriting a training row is idempotent.
	if err := j.writeOutputs(ctx, summary, labeled, logger); err != nil {
		return nil, err
	}

	for _, rec := range labeled {
		saveErr := timedQuery(j.metrics, "trade_records", "save_label", func() error {
			return j.opts.Records.SaveLabel(ctx, rec)
		})
		if errors.Is(saveErr, storage.ErrImmutable) {
			// labeled or archived by a concurrent run
			summary.Skipped++
			summary.SkipReasons["already_labeled"]++
			j.metrics.RecordSkipped(observability.JobLabeling, "already_labeled")
			continue
		}
		if saveErr != nil {
			logger.Error("save label failed", append(logging.KeyFields(rec.Key()), zap.Error(saveErr))...)
			return nil, fmt.Errorf("%w: save label %s: %w", domain.ErrPersistence, rec.RecordID, saveErr)
		}
		summary.Labeled++
		if rec.Status == domain.StatusWin {
			summary.Wins++
		} else {
			summary.Losses++
		}
		j.metrics.RecordLabel(string(rec.Status))
		summary.Records = append(summary.Records, rec)
	}
	summary.Pending = summary.Processed - summary.Labeled - summary.SkipReasons["already_labeled"]
	j.metrics.SetPending(summary.Pending)
	j.metrics.RecordPersisted(observability.JobLabeling, summary.Labeled)

	if j.opts.Archiver != nil {
		res, err := j.opts.Archiver.Run(ctx, asOf)
		if err != nil {
			return nil, err
		}
		summary.Archival = res
	}

	if len(summary.Records) > 0 {
		summary.Stats = metrics.ComputeLabelStats(summary.Records)
	}

	summary.FinishedAt = j.clock()
	if j.opts.Exporter != nil {
		path, err := j.opts.Exporter.ExportLabelingSummary(summary.Report())
		if err != nil {
			logger.Error("labeling summary export failed", zap.Error(err))
			return nil, fmt.Errorf("%w: export summary: %w", domain.ErrPersistence, err)
		}
		summary.ExportPaths = append(summary.ExportPaths, path)
	}
	if err := j.recordRun(ctx, summary); err != nil {
		return nil, err
	}

	fields := []zap.Field{
		zap.String("run_date", summary.RunDate.Format(domain.DateLayout)),
		zap.Int("processed", summary.Processed),
		zap.Int("labeled", summary.Labeled),
		zap.Int("wins", summary.Wins),
		zap.Int("losses", summary.Losses),
		zap.Int("skipped", summary.Skipped),
		zap.Int("pending", summary.Pending),
	}
	if summary.Archival != nil {
		fields = append(fields, zap.Int("archived", summary.Archival.Moved))
	}
	if summary.Stats != nil {
		fields = append(fields, zap.Float64("win_rate", summary.Stats.WinRate))
	}
	logger.Info("labeling run complete", fields...)
	return summary, nil
}

// writeOutputs writes the training rows and the labeled CSV for records about
// to be labeled. The CSV mirrors the run date's training partition, so a
// retried run on the same day still exports every row labeled that day.
func (j *LabelingJob) writeOutputs(ctx context.Context, summary *LabelingSummary, labeled []*domain.TradeRecord, logger *zap.Logger) error {
	rows := labeled
	if j.opts.Training != nil {
		if len(labeled) > 0 {
			if err := timedQuery(j.metrics, "training_data", "write_labeled", func() error {
				return j.opts.Training.WriteLabeled(ctx, summary.RunDate, labeled)
			}); err != nil {
				logger.Error("training data write failed", zap.Error(err))
				return fmt.Errorf("%w: write training data: %w", domain.ErrPersistence, err)
			}
		}
		if j.opts.Exporter != nil {
			if err := timedQuery(j.metrics, "training_data", "get_by_run_date", func() error {
				var qerr error
				rows, qerr = j.opts.Training.GetByRunDate(ctx, summary.RunDate)
				return qerr
			}); err != nil {
				return fmt.Errorf("%w: read training data: %w", domain.ErrPersistence, err)
			}
		}
	}

	if j.opts.Exporter != nil {
		path, err := j.opts.Exporter.ExportLabeled(summary.RunDate, rows)
		if err != nil {
			logger.Error("labeled export failed", zap.Error(err))
			return fmt.Errorf("%w: export labeled: %w", domain.ErrPersistence, err)
		}
		summary.ExportPaths = append(summary.ExportPaths, path)
	}
	return nil
}

// markPending promotes Screened records now awaiting expiration.
func (j *LabelingJob) markPending(ctx context.Context, open []*domain.TradeRecord) error {
	var ids []string
	for _, r := range open {
		if r.Status == domain.StatusScreened {
			ids = append(ids, r.RecordID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := timedQuery(j.metrics, "trade_records", "promote", func() error {
		return j.opts.Records.Promote(ctx, ids, domain.StatusPending)
	}); err != nil {
		return fmt.Errorf("%w: promote to pending: %w", domain.ErrPersistence, err)
	}
	for _, r := range open {
		if r.Status == domain.StatusScreened {
			r.Status = domain.StatusPending
		}
	}
	return nil
}

// apply runs the labeling machine over records with bounded concurrency.
// Record errors are returned per index; only cancellation fails the call.
func (j *LabelingJob) apply(ctx context.Context, records []*domain.TradeRecord, asOf time.Time) ([]labeling.Result, []error, error) {
	results := make([]labeling.Result, len(records))
	errs := make([]error, len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.Concurrency)
	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = j.opts.Machine.Apply(gctx, rec, asOf)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return results, errs, nil
}

func (j *LabelingJob) recordRun(ctx context.Context, s *LabelingSummary) error {
	if j.opts.RunLog == nil {
		return nil
	}
	err := j.opts.RunLog.RecordRun(ctx, &storage.RunRecord{
		RunID:      s.RunID,
		Job:        storage.JobLabeling,
		RunDate:    s.RunDate,
		Processed:  s.Processed,
		Skipped:    s.Skipped,
		Persisted:  s.Labeled,
		Pending:    s.Pending,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	})
	if err != nil {
		return fmt.Errorf("%w: record run: %w", domain.ErrPersistence, err)
	}
	return nil
}
