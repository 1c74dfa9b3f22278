package reporting

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/metrics"
	"covered-call-lab/internal/screening"
)

var runDate = time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC)

func candidate(symbol string, strike, annualized float64) *domain.TradeRecord {
	return &domain.TradeRecord{
		RecordID:         symbol + "-id",
		Symbol:           symbol,
		Expiration:       time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC),
		Strike:           strike,
		OptionType:       domain.OptionTypeCall,
		ObservationDate:  runDate,
		Spot:             185.1,
		Bid:              2.1,
		Ask:              2.3,
		Premium:          2.2,
		Volume:           1500,
		OpenInterest:     4200,
		ImpliedVol:       0.231,
		DaysToExpiry:     30,
		Delta:            0.41234567,
		Theta:            -0.05,
		Vega:             0.12,
		ReturnOnRisk:     0.0119,
		AnnualizedReturn: annualized,
		MaxProfit:        7.1,
		MaxLoss:          182.9,
		Status:           domain.StatusScreened,
	}
}

func TestWriteCandidatesCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCandidatesCSV(&buf, []*domain.TradeRecord{
		candidate("AAPL", 190, 0.20),
		candidate("MSFT", 400, 0.15),
	})
	require.NoError(t, err)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, CandidateHeader, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "AAPL", rows[1][1])
	assert.Equal(t, "2024-02-16", rows[1][2])
	assert.Equal(t, "190.00", rows[1][3])
	assert.Equal(t, "2", rows[2][0])
	assert.Equal(t, "MSFT", rows[2][1])

	col := func(name string) int {
		for i, h := range CandidateHeader {
			if h == name {
				return i
			}
		}
		t.Fatalf("no column %s", name)
		return -1
	}
	assert.Equal(t, "0.412346", rows[1][col("delta")])
	assert.Equal(t, "-0.412346", rows[1][col("short_delta")])
	assert.Equal(t, "0.050000", rows[1][col("short_theta")])
	assert.Equal(t, "-0.120000", rows[1][col("short_vega")])
	assert.Equal(t, "185.10", rows[1][col("spot")])
	assert.Equal(t, "SCREENED", rows[1][col("status")])
}

func TestWriteLabeledCSV(t *testing.T) {
	rec := candidate("AAPL", 190, 0.2)
	rec.Status = domain.StatusWin
	rec.Outcome = &domain.Outcome{
		Label:          domain.StatusWin,
		ClosingPrice:   188.5,
		ClosingDate:    time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC),
		RealizedPnL:    5.6,
		RealizedReturn: 0.0302,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteLabeledCSV(&buf, []*domain.TradeRecord{rec}))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[1], len(LabeledHeader))
	assert.Equal(t, "WIN", rows[1][len(rows[1])-1])
	assert.Contains(t, rows[1], "188.50")
}

func TestWriteLabeledCSV_RejectsUnlabeled(t *testing.T) {
	var buf bytes.Buffer
	err := WriteLabeledCSV(&buf, []*domain.TradeRecord{candidate("AAPL", 190, 0.2)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestDataVersion(t *testing.T) {
	a := []*domain.TradeRecord{candidate("AAPL", 190, 0.2)}
	b := []*domain.TradeRecord{candidate("AAPL", 190, 0.2)}
	c := []*domain.TradeRecord{candidate("AAPL", 195, 0.2)}

	assert.Equal(t, DataVersion(a), DataVersion(b))
	assert.NotEqual(t, DataVersion(a), DataVersion(c))
	assert.Len(t, DataVersion(a), 16)
}

func TestRenderScreeningMarkdown(t *testing.T) {
	r := &ScreeningReport{
		RunID:        "run-1",
		RunDate:      runDate,
		GeneratedAt:  runDate.Add(21 * time.Hour),
		Symbols:      2,
		RiskFreeRate: 0.0425,
		RateFallback: true,
		Processed:    10,
		Skipped:      1,
		Persisted:    1,
		SkipReasons:  []SkipCount{{Reason: "invalid_input", Count: 1}},
		Candidates:   []*domain.TradeRecord{candidate("AAPL", 190, 0.2)},
	}

	md := RenderScreeningMarkdown(r)
	assert.Contains(t, md, "# Screening Run 2024-01-17")
	assert.Contains(t, md, "0.0425 (fallback)")
	assert.Contains(t, md, "- invalid_input: 1")
	assert.Contains(t, md, "| 1 | AAPL | 2024-02-16 | 190.00 |")
}

func TestRenderScreeningMarkdown_EmptyShowsDiagnostics(t *testing.T) {
	r := &ScreeningReport{
		RunDate: runDate,
		Diagnostics: []screening.RuleDiagnostic{
			{Rule: screening.RuleMinVolume, Threshold: 100, Passed: 0, Total: 4},
		},
	}

	md := RenderScreeningMarkdown(r)
	assert.Contains(t, md, "No candidates passed")
	assert.Contains(t, md, "| "+screening.RuleMinVolume+" | 100 | 0 | 4 |")
}

func TestRenderLabelingMarkdown(t *testing.T) {
	r := &LabelingReport{
		RunDate: runDate,
		Policy:  "realized_pnl",
		Labeled: 2,
		Pending: 3,
		Stats:   &metrics.LabelStats{Total: 2, Wins: 1, Losses: 1, WinRate: 0.5},
	}

	md := RenderLabelingMarkdown(r)
	assert.Contains(t, md, "| Still Pending | 3 |")
	assert.Contains(t, md, "| Win Rate | 0.5000 |")

	r.Stats = nil
	assert.Contains(t, RenderLabelingMarkdown(r), "No records labeled in this run.")
}

func TestExporter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	e := NewExporter(dir)

	paths, err := e.ExportScreening(&ScreeningReport{
		RunDate:    runDate,
		Candidates: []*domain.TradeRecord{candidate("AAPL", 190, 0.2)},
	})
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Equal(t, filepath.Join(dir, "candidates_2024-01-17.csv"), paths[0])

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "rank,symbol,"))

	csvPath, err := e.ExportLabeled(runDate, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "labeled_2024-01-17.csv"), csvPath)

	mdPath, err := e.ExportLabelingSummary(&LabelingReport{RunDate: runDate})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "labeling_2024-01-17.md"), mdPath)

	_, err = e.ExportLabeled(runDate, []*domain.TradeRecord{candidate("AAPL", 190, 0.2)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSortedSkipReasons(t *testing.T) {
	assert.Nil(t, SortedSkipReasons(nil))
	got := SortedSkipReasons(map[string]int{"input_data": 2, "external_service": 1})
	assert.Equal(t, []SkipCount{{"external_service", 1}, {"input_data", 2}}, got)
}
