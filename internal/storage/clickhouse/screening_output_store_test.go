package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covered-call-lab/internal/domain"
)

func testRecord(id string, strike, annualized float64) *domain.TradeRecord {
	return &domain.TradeRecord{
		RecordID:         id,
		Symbol:           "AAPL",
		Expiration:       time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC),
		Strike:           strike,
		OptionType:       domain.OptionTypeCall,
		ObservationDate:  time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC),
		Spot:             185,
		Premium:          2,
		Volume:           1200,
		OpenInterest:     5400,
		ImpliedVol:       0.24,
		RiskFreeRate:     0.05,
		DaysToExpiry:     30,
		Delta:            0.38,
		Gamma:            0.04,
		Theta:            -0.07,
		Vega:             0.19,
		Rho:              0.05,
		ReturnOnRisk:     0.0108,
		AnnualizedReturn: annualized,
		MaxProfit:        strike - 185 + 2,
		MaxLoss:          183,
		BreakEven:        183,
		OTMPercent:       (strike - 185) / 185,
		Status:           domain.StatusScreened,
	}
}

func TestScreeningOutputStore_WriteAndGetRun(t *testing.T) {
	conn := setupTestDB(t)

	store := NewScreeningOutputStore(conn)
	ctx := context.Background()
	day := time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)

	records := []*domain.TradeRecord{
		testRecord("r2", 195, 0.20),
		testRecord("r1", 190, 0.13),
	}
	require.NoError(t, store.WriteRun(ctx, day, "run-1", records))

	rows, err := store.GetRun(ctx, day)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, "r2", rows[0].Record.RecordID)
	assert.Equal(t, 2, rows[1].Rank)
	assert.Equal(t, "run-1", rows[1].RunID)
	assert.True(t, rows[0].RunDate.Equal(day))
	assert.Equal(t, domain.StatusScreened, rows[0].Record.Status)
	assert.Equal(t, 30, rows[0].Record.DaysToExpiry)
}

func TestScreeningOutputStore_RerunReplacesPartition(t *testing.T) {
	conn := setupTestDB(t)

	store := NewScreeningOutputStore(conn)
	ctx := context.Background()
	day := time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)
	next := day.AddDate(0, 0, 1)

	require.NoError(t, store.WriteRun(ctx, day, "run-1", []*domain.TradeRecord{
		testRecord("r1", 190, 0.13),
		testRecord("r2", 195, 0.20),
	}))
	require.NoError(t, store.WriteRun(ctx, next, "run-2", []*domain.TradeRecord{testRecord("r1", 190, 0.13)}))
	require.NoError(t, store.WriteRun(ctx, day, "run-3", []*domain.TradeRecord{testRecord("r3", 200, 0.30)}))

	rows, err := store.GetRun(ctx, day)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "run-3", rows[0].RunID)
	assert.Equal(t, "r3", rows[0].Record.RecordID)

	other, err := store.GetRun(ctx, next)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}
