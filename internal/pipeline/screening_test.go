package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/idhash"
	"covered-call-lab/internal/marketdata/stub"
	"covered-call-lab/internal/screening"
	"covered-call-lab/internal/storage"
	"covered-call-lab/internal/storage/memory"
)

var (
	screenTime = time.Date(2024, 1, 17, 21, 0, 0, 0, time.UTC)
	expiry     = time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func quote(symbol string, strike float64, exp time.Time, volume int64) domain.OptionQuote {
	return domain.OptionQuote{
		Symbol:       symbol,
		Expiration:   exp,
		Strike:       strike,
		Type:         domain.OptionTypeCall,
		Bid:          2.1,
		Ask:          2.3,
		Volume:       volume,
		OpenInterest: 1000,
		ImpliedVol:   0.25,
	}
}

func testChains() *stub.ChainSource {
	chains := stub.NewChainSource()
	chains.AddChain(&domain.OptionChain{
		Symbol: "AAPL",
		Spot:   185,
		Quotes: []domain.OptionQuote{
			quote("AAPL", 190, expiry, 1500),
			quote("AAPL", 195, expiry, 50), // below MIN_VOLUME
			quote("AAPL", 200, time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC), 900), // outside window
			{Symbol: "AAPL", Expiration: expiry, Strike: 205, Type: domain.OptionTypeCall, ImpliedVol: 0.25}, // no bid or ask
			{Symbol: "AAPL", Expiration: expiry, Strike: 190, Type: domain.OptionTypePut, Bid: 5, Ask: 5.2, ImpliedVol: 0.25},
		},
	})
	chains.AddChain(&domain.OptionChain{
		Symbol: "MSFT",
		Spot:   390,
		Quotes: []domain.OptionQuote{
			quote("MSFT", 400, expiry, 800),
		},
	})
	return chains
}

func testRules() []screening.Rule {
	return []screening.Rule{
		screening.MinVolume(100),
		screening.MinOpenInterest(100),
		screening.MinDelta(0.05),
		screening.MaxDelta(0.6),
		screening.MinReturnOnRisk(0),
	}
}

func newScreeningJob(chains *stub.ChainSource, records storage.PartitionStore) (*ScreeningJob, *memory.ScreeningOutputStore, *memory.RunLogStore) {
	output := memory.NewScreeningOutputStore()
	runLog := memory.NewRunLogStore()
	job := NewScreeningJob(ScreeningOptions{
		Chains:          chains,
		Rates:           &stub.RateSource{Rate: 0.05},
		Records:         records,
		Output:          output,
		RunLog:          runLog,
		Watchlist:       []string{"AAPL", "MSFT"},
		Rules:           testRules(),
		MinDaysToExpiry: 7,
		MaxDaysToExpiry: 45,
		Concurrency:     2,
		FallbackRate:    0.0425,
		Clock:           fixedClock(screenTime),
	})
	return job, output, runLog
}

func TestScreeningJob_Run(t *testing.T) {
	ctx := context.Background()
	records := memory.NewTradeRecordStore()
	job, output, runLog := newScreeningJob(testChains(), records)

	summary, err := job.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Symbols)
	assert.Equal(t, 0, summary.SymbolsFailed)
	assert.Equal(t, 0.05, summary.RiskFreeRate)
	assert.False(t, summary.RateFallback)
	// 190, 195, 205 for AAPL and 400 for MSFT are in the window
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.SkipReasons["input_data"])
	assert.Equal(t, 2, summary.Persisted)
	require.Len(t, summary.Ranked, 2)
	assert.GreaterOrEqual(t, summary.Ranked[0].AnnualizedReturn, summary.Ranked[1].AnnualizedReturn)

	all, err := records.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, r := range all {
		assert.Equal(t, domain.StatusScreened, r.Status)
		assert.Equal(t, summary.RunID, r.RunID)
	}

	rows, err := output.GetRun(ctx, screenTime)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, summary.Ranked[0].RecordID, rows[0].Record.RecordID)
	assert.Equal(t, domain.StatusScreened, rows[0].Record.Status)

	last, err := runLog.GetLastRun(ctx, storage.JobScreening)
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, last.RunID)
	assert.Equal(t, 2, last.Persisted)
}

func TestScreeningJob_LowVolumeExcluded(t *testing.T) {
	ctx := context.Background()
	records := memory.NewTradeRecordStore()
	job, _, _ := newScreeningJob(testChains(), records)

	_, err := job.Run(ctx)
	require.NoError(t, err)

	key := domain.ContractKey{Symbol: "AAPL", Expiration: expiry, Strike: 195, Type: domain.OptionTypeCall}
	_, err = records.GetByID(ctx, idhash.RecordIDForKey(key))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestScreeningJob_SymbolFailureIsIsolated(t *testing.T) {
	chains := testChains()
	chains.FailSymbol("MSFT", errors.New("connection reset"))
	job, _, _ := newScreeningJob(chains, memory.NewTradeRecordStore())

	summary, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SymbolsFailed)
	assert.Equal(t, 1, summary.SkipReasons["symbol_external_service"])
	require.Len(t, summary.Ranked, 1)
	assert.Equal(t, "AAPL", summary.Ranked[0].Symbol)
}

func TestScreeningJob_RateFallback(t *testing.T) {
	job, _, _ := newScreeningJob(testChains(), memory.NewTradeRecordStore())
	job.opts.Rates = &stub.RateSource{Err: errors.New("fred down")}

	summary, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, summary.RateFallback)
	assert.Equal(t, 0.0425, summary.RiskFreeRate)
	for _, r := range summary.Ranked {
		assert.Equal(t, 0.0425, r.RiskFreeRate)
	}
}

func TestScreeningJob_EmptyResultDiagnoses(t *testing.T) {
	job, _, _ := newScreeningJob(testChains(), memory.NewTradeRecordStore())
	job.opts.Rules = append(testRules(), screening.MinVolume(1_000_000))

	summary, err := job.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, summary.Ranked)
	assert.Equal(t, 0, summary.Persisted)
	require.Len(t, summary.Diagnostics, len(job.opts.Rules))
	last := summary.Diagnostics[len(summary.Diagnostics)-1]
	assert.Equal(t, screening.RuleMinVolume, last.Rule)
	assert.Equal(t, 0, last.Passed)
}

func TestScreeningJob_RankingIndependentOfConcurrency(t *testing.T) {
	var versions []string
	for _, n := range []int{1, 4} {
		job, _, _ := newScreeningJob(testChains(), memory.NewTradeRecordStore())
		job.opts.Concurrency = n

		summary, err := job.Run(context.Background())
		require.NoError(t, err)
		versions = append(versions, summary.Report().DataVersion)
	}
	assert.Equal(t, versions[0], versions[1])
}

func TestScreeningJob_RescreenKeepsStatus(t *testing.T) {
	ctx := context.Background()
	records := memory.NewTradeRecordStore()
	job, output, _ := newScreeningJob(testChains(), records)

	first, err := job.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusScreened, first.Ranked[0].Status)
	ids := []string{first.Ranked[0].RecordID}
	require.NoError(t, records.Promote(ctx, ids, domain.StatusPending))

	nextDay := screenTime.AddDate(0, 0, 1)
	job.clock = fixedClock(nextDay)
	second, err := job.Run(ctx)
	require.NoError(t, err)

	got, err := records.GetByID(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Equal(t, domain.Date(nextDay), got.ObservationDate)

	var ranked *domain.TradeRecord
	for _, r := range second.Ranked {
		if r.RecordID == ids[0] {
			ranked = r
		}
	}
	require.NotNil(t, ranked)
	assert.Equal(t, domain.StatusPending, ranked.Status)

	rows, err := output.GetRun(ctx, nextDay)
	require.NoError(t, err)
	var row *storage.ScreeningRow
	for i := range rows {
		if rows[i].Record.RecordID == ids[0] {
			row = &rows[i]
		}
	}
	require.NotNil(t, row)
	assert.Equal(t, domain.StatusPending, row.Record.Status)
}

type failingRecords struct {
	storage.PartitionStore
}

func (failingRecords) UpsertBulk(context.Context, []*domain.TradeRecord) error {
	return errors.New("connection refused")
}

func TestScreeningJob_PersistenceFailureAborts(t *testing.T) {
	job, _, runLog := newScreeningJob(testChains(), failingRecords{memory.NewTradeRecordStore()})

	_, err := job.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPersistence)

	_, err = runLog.GetLastRun(context.Background(), storage.JobScreening)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestScreeningJob_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job, _, _ := newScreeningJob(testChains(), memory.NewTradeRecordStore())

	_, err := job.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
