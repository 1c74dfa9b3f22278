package metrics

import (
	"math"
	"testing"
	"time"

	"covered-call-lab/internal/domain"
)

func labeledRecord(id, symbol string, expDay int, label domain.Status, ret float64) *domain.TradeRecord {
	return &domain.TradeRecord{
		RecordID:   id,
		Symbol:     symbol,
		Expiration: time.Date(2024, 3, expDay, 0, 0, 0, 0, time.UTC),
		Strike:     100,
		OptionType: domain.OptionTypeCall,
		Spot:       100,
		Status:     label,
		Outcome: &domain.Outcome{
			Label:                label,
			RealizedPnL:          ret * 100,
			RealizedReturn:       ret,
			RealizedAnnualReturn: ret * 12,
		},
	}
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestComputeLabelStats_Empty(t *testing.T) {
	stats := ComputeLabelStats(nil)
	if stats.Total != 0 || stats.WinRate != 0 {
		t.Errorf("expected zero stats, got %+v", stats)
	}
}

func TestComputeLabelStats_IgnoresUnlabeled(t *testing.T) {
	pending := labeledRecord("p", "AAPL", 1, domain.StatusPending, 0)
	pending.Outcome = nil

	stats := ComputeLabelStats([]*domain.TradeRecord{
		pending,
		labeledRecord("w", "AAPL", 1, domain.StatusWin, 0.02),
		nil,
	})

	if stats.Total != 1 {
		t.Errorf("expected Total 1, got %d", stats.Total)
	}
	if stats.WinRate != 1.0 {
		t.Errorf("expected WinRate 1.0, got %f", stats.WinRate)
	}
}

func TestComputeLabelStats_Counts(t *testing.T) {
	records := []*domain.TradeRecord{
		labeledRecord("a", "AAPL", 1, domain.StatusWin, 0.02),
		labeledRecord("b", "AAPL", 8, domain.StatusLoss, -0.05),
		labeledRecord("c", "MSFT", 1, domain.StatusWin, 0.01),
		labeledRecord("d", "TSLA", 15, domain.StatusLoss, -0.10),
	}
	records[0].Outcome.Assigned = true
	records[0].Outcome.HighQuality = true

	stats := ComputeLabelStats(records)

	if stats.Total != 4 || stats.Wins != 2 || stats.Losses != 2 {
		t.Fatalf("unexpected counts: total=%d wins=%d losses=%d", stats.Total, stats.Wins, stats.Losses)
	}
	if stats.WinRate != 0.5 {
		t.Errorf("expected WinRate 0.5, got %f", stats.WinRate)
	}
	if stats.AssignedRate != 0.25 {
		t.Errorf("expected AssignedRate 0.25, got %f", stats.AssignedRate)
	}
	if stats.HighQualityRate != 0.25 {
		t.Errorf("expected HighQualityRate 0.25, got %f", stats.HighQualityRate)
	}
	// AAPL and MSFT have a win, TSLA does not
	if stats.Symbols != 3 {
		t.Errorf("expected 3 symbols, got %d", stats.Symbols)
	}
	if !almostEqual(stats.SymbolWinRate, 2.0/3.0) {
		t.Errorf("expected SymbolWinRate 0.667, got %f", stats.SymbolWinRate)
	}
	if !almostEqual(stats.ReturnMean, -0.03) {
		t.Errorf("expected ReturnMean -0.03, got %f", stats.ReturnMean)
	}
	if stats.ReturnMin != -0.10 || stats.ReturnMax != 0.02 {
		t.Errorf("unexpected min/max: %f/%f", stats.ReturnMin, stats.ReturnMax)
	}
	if !almostEqual(stats.TotalPnL, -12) {
		t.Errorf("expected TotalPnL -12, got %f", stats.TotalPnL)
	}
}

func TestComputeLabelStats_ConsecutiveLossesFollowExpiration(t *testing.T) {
	// Input order is shuffled; streak is measured after sorting by expiration.
	records := []*domain.TradeRecord{
		labeledRecord("d", "X", 22, domain.StatusWin, 0.01),
		labeledRecord("a", "X", 1, domain.StatusLoss, -0.01),
		labeledRecord("c", "X", 15, domain.StatusLoss, -0.01),
		labeledRecord("b", "X", 8, domain.StatusLoss, -0.01),
	}

	stats := ComputeLabelStats(records)
	if stats.MaxConsecutiveLosses != 3 {
		t.Errorf("expected streak 3, got %d", stats.MaxConsecutiveLosses)
	}
}

func TestComputePercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}

	tests := []struct {
		p    float64
		want float64
	}{
		{0.0, 1},
		{0.5, 3},
		{0.25, 2},
		{0.10, 1.4},
		{1.0, 5},
	}
	for _, tt := range tests {
		if got := computePercentile(sorted, tt.p); !almostEqual(got, tt.want) {
			t.Errorf("percentile(%v) = %v, want %v", tt.p, got, tt.want)
		}
	}

	if got := computePercentile([]float64{7}, 0.9); got != 7 {
		t.Errorf("single value percentile = %v, want 7", got)
	}
	if got := computePercentile(nil, 0.5); got != 0 {
		t.Errorf("empty percentile = %v, want 0", got)
	}
}

func TestComputeStddev(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	mean := computeMean(values)
	if mean != 5 {
		t.Fatalf("expected mean 5, got %f", mean)
	}
	// Sample variance = 32 / 7
	want := math.Sqrt(32.0 / 7.0)
	if got := computeStddev(values, mean); !almostEqual(got, want) {
		t.Errorf("stddev = %v, want %v", got, want)
	}
	if got := computeStddev([]float64{1}, 1); got != 0 {
		t.Errorf("single sample stddev = %v, want 0", got)
	}
}
