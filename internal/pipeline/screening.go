// Package pipeline runs the two batch jobs: screening and labeling.
// Each run is a transformation over externally persisted state; nothing is
// shared in process between runs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"covered-call-lab/internal/config"
	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/logging"
	"covered-call-lab/internal/marketdata"
	"covered-call-lab/internal/observability"
	"covered-call-lab/internal/reporting"
	"covered-call-lab/internal/screening"
	"covered-call-lab/internal/storage"
)

// ScreeningOptions configures a ScreeningJob.
type ScreeningOptions struct {
	// Required
	Chains  marketdata.ChainSource
	Rates   marketdata.RateSource
	Records storage.PartitionStore

	// Optional sinks
	Output   storage.ScreeningOutputStore
	RunLog   storage.RunLogStore
	Exporter *reporting.Exporter

	Watchlist       []string
	Rules           []screening.Rule
	MinDaysToExpiry int
	MaxDaysToExpiry int
	MaxResults      int // 0 keeps every retained candidate
	Concurrency     int
	FallbackRate    float64

	Logger  *zap.Logger
	Metrics *observability.Metrics
	Clock   func() time.Time
}

// ScreeningOptionsFromConfig fills the thresholds and run settings from cfg.
// Providers and stores are left for the caller.
func ScreeningOptionsFromConfig(cfg config.Config) ScreeningOptions {
	return ScreeningOptions{
		Watchlist:       cfg.Watchlist,
		Rules:           screening.RulesFromConfig(cfg.Screening),
		MinDaysToExpiry: cfg.Screening.MinDaysToExpiry,
		MaxDaysToExpiry: cfg.Screening.MaxDaysToExpiry,
		MaxResults:      cfg.Screening.MaxResults,
		Concurrency:     cfg.App.Concurrency,
		FallbackRate:    cfg.RiskFree.FallbackRate,
	}
}

// ScreeningJob prices the watchlist's call chains, screens and ranks the
// candidates and persists the ranked output.
type ScreeningJob struct {
	opts    ScreeningOptions
	logger  *zap.Logger
	metrics *observability.Metrics
	clock   func() time.Time
}

// NewScreeningJob creates a screening job.
func NewScreeningJob(opts ScreeningOptions) *ScreeningJob {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &ScreeningJob{
		opts:    opts,
		logger:  logging.OrNop(opts.Logger).With(zap.String("job", observability.JobScreening)),
		metrics: observability.OrDefault(opts.Metrics),
		clock:   clock,
	}
}

// ScreeningSummary is the result of one screening run.
type ScreeningSummary struct {
	RunID        string
	RunDate      time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	RiskFreeRate float64
	RateFallback bool

	Symbols       int
	SymbolsFailed int
	Processed     int // contracts priced inside the expiry window
	Skipped       int
	Persisted     int
	SkipReasons   map[string]int

	Diagnostics []screening.RuleDiagnostic
	Ranked      []*domain.TradeRecord
	ExportPaths []string
}

func (s *ScreeningSummary) skip(reason string) {
	s.Skipped++
	s.SkipReasons[reason]++
}

// Report converts the summary for rendering.
func (s *ScreeningSummary) Report() *reporting.ScreeningReport {
	return &reporting.ScreeningReport{
		RunID:         s.RunID,
		RunDate:       s.RunDate,
		GeneratedAt:   s.FinishedAt,
		DataVersion:   reporting.DataVersion(s.Ranked),
		Symbols:       s.Symbols,
		RiskFreeRate:  s.RiskFreeRate,
		RateFallback:  s.RateFallback,
		Processed:     s.Processed,
		Skipped:       s.Skipped,
		Persisted:     s.Persisted,
		SymbolsFailed: s.SymbolsFailed,
		SkipReasons:   reporting.SortedSkipReasons(s.SkipReasons),
		Diagnostics:   s.Diagnostics,
		Candidates:    s.Ranked,
	}
}

// symbolResult is the outcome of pricing one underlying.
type symbolResult struct {
	symbol     string
	err        error
	processed  int
	candidates []*domain.TradeRecord
	skipped    []error
}

// Run executes one screening run.
// Symbol and record failures are skipped and counted; persistence failures
// abort the run and are returned wrapped in domain.ErrPersistence.
func (j *ScreeningJob) Run(ctx context.Context) (summary *ScreeningSummary, err error) {
	start := j.clock()
	summary = &ScreeningSummary{
		RunID:       uuid.NewString(),
		RunDate:     domain.Date(start),
		StartedAt:   start,
		Symbols:     len(j.opts.Watchlist),
		SkipReasons: make(map[string]int),
	}
	logger := j.logger.With(zap.String("run_id", summary.RunID))

	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
		}
		finished := j.clock()
		j.metrics.RecordJobRun(observability.JobScreening, status, finished.Sub(start).Seconds(), finished.Unix())
	}()

	summary.RiskFreeRate, summary.RateFallback = j.riskFreeRate(ctx, summary.RunDate, logger)

	snap := screening.Snapshot{
		RiskFreeRate:    summary.RiskFreeRate,
		ObservationDate: summary.RunDate,
		RunID:           summary.RunID,
		Now:             start,
	}
	results, err := j.fanOut(ctx, snap, logger)
	if err != nil {
		return nil, err
	}

	var candidates []*domain.TradeRecord
	seen := make(map[string]bool)
	for _, res := range results {
		if res.err != nil {
			summary.SymbolsFailed++
			summary.skip("symbol_" + domain.Reason(res.err))
			j.metrics.RecordSkipped(observability.JobScreening, "symbol_"+domain.Reason(res.err))
			continue
		}
		summary.Processed += res.processed
		for _, skipErr := range res.skipped {
			summary.skip(domain.Reason(skipErr))
			j.metrics.RecordSkipped(observability.JobScreening, domain.Reason(skipErr))
		}
		for _, c := range res.candidates {
			if seen[c.RecordID] {
				summary.skip("duplicate_contract")
				j.metrics.RecordSkipped(observability.JobScreening, "duplicate_contract")
				continue
			}
			seen[c.RecordID] = true
			candidates = append(candidates, c)
		}
	}
	j.metrics.RecordProcessed(observability.JobScreening, summary.Processed)

	ranked := screening.Top(screening.Screen(candidates, j.opts.Rules), j.opts.MaxResults)
	if len(ranked) == 0 && len(candidates) > 0 {
		summary.Diagnostics = screening.Diagnose(candidates, j.opts.Rules)
		for _, d := range summary.Diagnostics {
			logger.Info("screening rule diagnostic",
				zap.String("rule", d.Rule),
				zap.Float64("threshold", d.Threshold),
				zap.Int("passed", d.Passed),
				zap.Int("total", d.Total),
			)
		}
	}

	if err := j.persist(ctx, summary, ranked); err != nil {
		logger.Error("screening persistence failed", zap.Error(err))
		return nil, err
	}

	summary.FinishedAt = j.clock()
	if j.opts.Exporter != nil {
		paths, err := j.opts.Exporter.ExportScreening(summary.Report())
		if err != nil {
			logger.Error("screening export failed", zap.Error(err))
			return nil, fmt.Errorf("%w: export: %w", domain.ErrPersistence, err)
		}
		summary.ExportPaths = paths
	}
	if err := j.recordRun(ctx, summary); err != nil {
		return nil, err
	}

	logger.Info("screening run complete",
		zap.String("run_date", summary.RunDate.Format(domain.DateLayout)),
		zap.Int("symbols", summary.Symbols),
		zap.Int("symbols_failed", summary.SymbolsFailed),
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("persisted", summary.Persisted),
		zap.Float64("risk_free_rate", summary.RiskFreeRate),
	)
	return summary, nil
}

// riskFreeRate falls back to the configured rate when the provider fails.
func (j *ScreeningJob) riskFreeRate(ctx context.Context, asOf time.Time, logger *zap.Logger) (float64, bool) {
	if j.opts.Rates == nil {
		return j.opts.FallbackRate, true
	}
	r, err := j.opts.Rates.RiskFreeRate(ctx, asOf)
	if err != nil {
		logger.Warn("risk-free rate unavailable, using fallback",
			zap.Float64("fallback_rate", j.opts.FallbackRate),
			zap.Error(err))
		return j.opts.FallbackRate, true
	}
	return r, false
}

// fanOut prices every symbol with bounded concurrency. Per-symbol failures are
// captured in the result; only cancellation of ctx fails the whole fan-out.
func (j *ScreeningJob) fanOut(ctx context.Context, snap screening.Snapshot, logger *zap.Logger) ([]symbolResult, error) {
	results := make([]symbolResult, len(j.opts.Watchlist))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.Concurrency)
	for i, symbol := range j.opts.Watchlist {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = j.processSymbol(gctx, symbol, snap, logger)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (j *ScreeningJob) processSymbol(ctx context.Context, symbol string, snap screening.Snapshot, logger *zap.Logger) symbolResult {
	res := symbolResult{symbol: symbol}

	chain, err := j.opts.Chains.GetOptionChain(ctx, symbol, snap.ObservationDate)
	if err == nil && (chain == nil || !(chain.Spot > 0)) {
		err = fmt.Errorf("missing spot price: %w", domain.ErrInputData)
	}
	if err != nil {
		if !domain.IsRecordScoped(err) {
			err = fmt.Errorf("%w: %v", domain.ErrExternalService, err)
		}
		res.err = domain.NewSymbolError(symbol, err)
		logger.Warn("symbol skipped",
			zap.String("symbol", symbol),
			zap.String("reason", domain.Reason(err)),
			zap.Error(err))
		return res
	}

	snap.Spot = chain.Spot
	for _, q := range chain.Calls() {
		if !screening.InExpiryWindow(snap.ObservationDate, q.Expiration, j.opts.MinDaysToExpiry, j.opts.MaxDaysToExpiry) {
			continue
		}
		res.processed++
		rec, err := screening.BuildCandidate(q, snap)
		if err != nil {
			res.skipped = append(res.skipped, err)
			logger.Warn("contract skipped",
				append(logging.KeyFields(q.Key()),
					zap.String("reason", domain.Reason(err)),
					zap.Error(err))...)
			continue
		}
		res.candidates = append(res.candidates, rec)
	}
	return res
}

// persist upserts the ranked records, writes the output partition and
// promotes the records to Screened.
func (j *ScreeningJob) persist(ctx context.Context, summary *ScreeningSummary, ranked []*domain.TradeRecord) error {
	if err := j.timed("trade_records", "upsert_bulk", func() error {
		return j.opts.Records.UpsertBulk(ctx, ranked)
	}); err != nil {
		return fmt.Errorf("%w: upsert records: %w", domain.ErrPersistence, err)
	}

	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.RecordID
	}
	if err := j.timed("trade_records", "promote", func() error {
		return j.opts.Records.Promote(ctx, ids, domain.StatusScreened)
	}); err != nil {
		return fmt.Errorf("%w: promote records: %w", domain.ErrPersistence, err)
	}

	out, err := j.storedStates(ctx, ranked)
	if err != nil {
		return err
	}
	if j.opts.Output != nil {
		if err := j.timed("screening_output", "write_run", func() error {
			return j.opts.Output.WriteRun(ctx, summary.RunDate, summary.RunID, out)
		}); err != nil {
			return fmt.Errorf("%w: write screening output: %w", domain.ErrPersistence, err)
		}
	}

	summary.Ranked = out
	summary.Persisted = len(out)
	j.metrics.RecordPersisted(observability.JobScreening, len(out))
	return nil
}

// storedStates returns the ranked records carrying the lifecycle state the
// store holds after the upsert. A rescreened contract may already be Pending
// or labeled, and the output rows must not report it as freshly Screened.
func (j *ScreeningJob) storedStates(ctx context.Context, ranked []*domain.TradeRecord) ([]*domain.TradeRecord, error) {
	out := make([]*domain.TradeRecord, len(ranked))
	err := j.timed("trade_records", "get_by_id", func() error {
		for i, r := range ranked {
			stored, err := j.opts.Records.GetByID(ctx, r.RecordID)
			if errors.Is(err, storage.ErrNotFound) {
				stored, err = j.opts.Records.GetArchivedByID(ctx, r.RecordID)
			}
			if err != nil {
				return fmt.Errorf("read back %s: %w", r.RecordID, err)
			}
			c := r.Clone()
			c.Status = stored.Status
			c.Outcome = stored.Outcome
			out[i] = c
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return out, nil
}

func (j *ScreeningJob) recordRun(ctx context.Context, s *ScreeningSummary) error {
	if j.opts.RunLog == nil {
		return nil
	}
	err := j.opts.RunLog.RecordRun(ctx, &storage.RunRecord{
		RunID:      s.RunID,
		Job:        storage.JobScreening,
		RunDate:    s.RunDate,
		Processed:  s.Processed,
		Skipped:    s.Skipped,
		Persisted:  s.Persisted,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
	})
	if err != nil {
		return fmt.Errorf("%w: record run: %w", domain.ErrPersistence, err)
	}
	return nil
}

func (j *ScreeningJob) timed(store, op string, fn func() error) error {
	return timedQuery(j.metrics, store, op, fn)
}

func timedQuery(m *observability.Metrics, store, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.RecordDBQuery(store, op, time.Since(start).Seconds(), err)
	return err
}
