package reporting

import (
	"sort"
	"time"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/metrics"
	"covered-call-lab/internal/screening"
)

// SkipCount is the number of records or symbols skipped for one reason.
type SkipCount struct {
	Reason string
	Count  int
}

// ScreeningReport is the run summary of one screening job.
type ScreeningReport struct {
	// Metadata
	RunID       string
	RunDate     time.Time
	GeneratedAt time.Time
	DataVersion string // sha256 of the ranked output

	// Inputs
	Symbols      int
	RiskFreeRate float64
	RateFallback bool // provider failed, configured fallback rate used

	// Counts
	Processed     int
	Skipped       int
	Persisted     int
	SymbolsFailed int
	SkipReasons   []SkipCount // sorted by reason

	// Filter pass counts, only populated when nothing was retained
	Diagnostics []screening.RuleDiagnostic

	// Ranked output (rank = index + 1)
	Candidates []*domain.TradeRecord
}

// LabelingReport is the run summary of one labeling job.
type LabelingReport struct {
	// Metadata
	RunID       string
	RunDate     time.Time
	GeneratedAt time.Time
	Policy      string

	// Counts
	Processed   int
	Labeled     int
	Wins        int
	Losses      int
	Deferred    int // expired, close not published
	NotDue      int
	Skipped     int
	Pending     int // still awaiting a label after the run
	Archived    int
	SkipReasons []SkipCount

	// Statistics over the records labeled in this run, nil when none
	Stats *metrics.LabelStats

	// Records resolved in this run, ordered by contract key
	Records []*domain.TradeRecord
}

// SortedSkipReasons flattens a reason -> count map in reason order.
func SortedSkipReasons(m map[string]int) []SkipCount {
	if len(m) == 0 {
		return nil
	}
	out := make([]SkipCount, 0, len(m))
	for reason, n := range m {
		out = append(out, SkipCount{Reason: reason, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reason < out[j].Reason })
	return out
}
