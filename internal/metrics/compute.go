package metrics

import (
	"math"
	"sort"

	"covered-call-lab/internal/domain"
)

// LabelStats summarizes a batch of labeled records.
type LabelStats struct {
	// Counts
	Total       int
	Symbols     int
	Wins        int
	Losses      int
	Assigned    int
	HighQuality int

	// Rates
	WinRate         float64
	SymbolWinRate   float64
	AssignedRate    float64
	HighQualityRate float64

	// Realized return distribution (P/L over spot)
	ReturnMean   float64
	ReturnMedian float64
	ReturnP10    float64
	ReturnP25    float64
	ReturnP75    float64
	ReturnP90    float64
	ReturnMin    float64
	ReturnMax    float64
	ReturnStddev float64

	AnnualReturnMean float64
	TotalPnL         float64 // per share, summed

	// Order-dependent, records taken by expiration ASC, record id ASC
	MaxConsecutiveLosses int
}

// ComputeLabelStats calculates statistics over records carrying an outcome.
// Records without an outcome are ignored.
func ComputeLabelStats(records []*domain.TradeRecord) *LabelStats {
	labeled := make([]*domain.TradeRecord, 0, len(records))
	for _, r := range records {
		if r != nil && r.Outcome != nil {
			labeled = append(labeled, r)
		}
	}
	n := len(labeled)
	if n == 0 {
		return &LabelStats{}
	}

	sort.Slice(labeled, func(i, j int) bool {
		if !labeled[i].Expiration.Equal(labeled[j].Expiration) {
			return labeled[i].Expiration.Before(labeled[j].Expiration)
		}
		return labeled[i].RecordID < labeled[j].RecordID
	})

	stats := &LabelStats{Total: n}
	returns := make([]float64, n)
	annual := make([]float64, n)
	for i, r := range labeled {
		o := r.Outcome
		if o.Label == domain.StatusWin {
			stats.Wins++
		} else {
			stats.Losses++
		}
		if o.Assigned {
			stats.Assigned++
		}
		if o.HighQuality {
			stats.HighQuality++
		}
		stats.TotalPnL += o.RealizedPnL
		returns[i] = o.RealizedReturn
		annual[i] = o.RealizedAnnualReturn
	}

	sorted := make([]float64, n)
	copy(sorted, returns)
	sort.Float64s(sorted)

	mean := computeMean(returns)

	stats.WinRate = computeRate(stats.Wins, n)
	stats.AssignedRate = computeRate(stats.Assigned, n)
	stats.HighQualityRate = computeRate(stats.HighQuality, n)
	stats.Symbols, stats.SymbolWinRate = computeSymbolWinRate(labeled)

	stats.ReturnMean = mean
	stats.ReturnMedian = computePercentile(sorted, 0.50)
	stats.ReturnP10 = computePercentile(sorted, 0.10)
	stats.ReturnP25 = computePercentile(sorted, 0.25)
	stats.ReturnP75 = computePercentile(sorted, 0.75)
	stats.ReturnP90 = computePercentile(sorted, 0.90)
	stats.ReturnMin = sorted[0]
	stats.ReturnMax = sorted[n-1]
	stats.ReturnStddev = computeStddev(returns, mean)
	stats.AnnualReturnMean = computeMean(annual)

	stats.MaxConsecutiveLosses = computeMaxConsecutiveLosses(labeled)
	return stats
}

// computeSymbolWinRate groups records by underlying.
// A symbol counts as winning when at least one of its records is a Win.
func computeSymbolWinRate(records []*domain.TradeRecord) (int, float64) {
	if len(records) == 0 {
		return 0, 0
	}

	won := make(map[string]bool)
	for _, r := range records {
		won[r.Symbol] = won[r.Symbol] || r.Outcome.Label == domain.StatusWin
	}

	winning := 0
	for _, w := range won {
		if w {
			winning++
		}
	}
	return len(won), float64(winning) / float64(len(won))
}

func computeRate(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(count) / float64(total)
}

// computeMean calculates the arithmetic mean.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC.
// p is percentile (0.10 = 10th percentile).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeMaxConsecutiveLosses finds the longest run of Loss labels.
func computeMaxConsecutiveLosses(records []*domain.TradeRecord) int {
	maxStreak := 0
	current := 0
	for _, r := range records {
		if r.Outcome.Label == domain.StatusLoss {
			current++
			if current > maxStreak {
				maxStreak = current
			}
		} else {
			current = 0
		}
	}
	return maxStreak
}
