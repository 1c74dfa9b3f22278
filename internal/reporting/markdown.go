package reporting

import (
	"fmt"
	"strings"
	"time"

	"covered-call-lab/internal/domain"
)

// maxMarkdownRows caps the candidate table; the CSV carries the full list.
const maxMarkdownRows = 25

// RenderScreeningMarkdown renders a screening run summary as Markdown.
func RenderScreeningMarkdown(r *ScreeningReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Screening Run %s\n\n", r.RunDate.Format(domain.DateLayout)))
	sb.WriteString(fmt.Sprintf("Run ID: `%s`\n\n", r.RunID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	if r.DataVersion != "" {
		sb.WriteString(fmt.Sprintf("Data version: `%s`\n\n", r.DataVersion))
	}

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Symbols | %d |\n", r.Symbols))
	sb.WriteString(fmt.Sprintf("| Symbols Failed | %d |\n", r.SymbolsFailed))
	rate := fmt.Sprintf("%.4f", r.RiskFreeRate)
	if r.RateFallback {
		rate += " (fallback)"
	}
	sb.WriteString(fmt.Sprintf("| Risk-Free Rate | %s |\n", rate))
	sb.WriteString(fmt.Sprintf("| Processed | %d |\n", r.Processed))
	sb.WriteString(fmt.Sprintf("| Skipped | %d |\n", r.Skipped))
	sb.WriteString(fmt.Sprintf("| Persisted | %d |\n", r.Persisted))
	sb.WriteString("\n")

	writeSkipReasons(&sb, r.SkipReasons)

	sb.WriteString("## Ranked Candidates\n\n")
	if len(r.Candidates) == 0 {
		sb.WriteString("No candidates passed the screening rules.\n\n")
		if len(r.Diagnostics) > 0 {
			sb.WriteString("### Rule Diagnostics\n\n")
			sb.WriteString("| Rule | Threshold | Passed | Total |\n")
			sb.WriteString("|------|-----------|--------|-------|\n")
			for _, d := range r.Diagnostics {
				sb.WriteString(fmt.Sprintf("| %s | %g | %d | %d |\n", d.Rule, d.Threshold, d.Passed, d.Total))
			}
			sb.WriteString("\n")
		}
		return sb.String()
	}

	sb.WriteString("| # | Symbol | Expiration | Strike | Premium | Delta | Theta | RoR | Annualized | Max Profit |\n")
	sb.WriteString("|---|--------|------------|--------|---------|-------|-------|-----|------------|------------|\n")
	for i, c := range r.Candidates {
		if i == maxMarkdownRows {
			sb.WriteString(fmt.Sprintf("\n%d more in the CSV export.\n", len(r.Candidates)-maxMarkdownRows))
			break
		}
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s | %.3f | %.4f | %.2f%% | %.2f%% | %s |\n",
			i+1, c.Symbol, c.Expiration.Format(domain.DateLayout),
			money(c.Strike), money(c.Premium), c.Delta, c.Theta,
			c.ReturnOnRisk*100, c.AnnualizedReturn*100, money(c.MaxProfit)))
	}
	sb.WriteString("\n")

	return sb.String()
}

// RenderLabelingMarkdown renders a labeling run summary as Markdown.
func RenderLabelingMarkdown(r *LabelingReport) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Labeling Run %s\n\n", r.RunDate.Format(domain.DateLayout)))
	sb.WriteString(fmt.Sprintf("Run ID: `%s`\n\n", r.RunID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Policy: `%s`\n\n", r.Policy))

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Processed | %d |\n", r.Processed))
	sb.WriteString(fmt.Sprintf("| Labeled | %d |\n", r.Labeled))
	sb.WriteString(fmt.Sprintf("| Wins | %d |\n", r.Wins))
	sb.WriteString(fmt.Sprintf("| Losses | %d |\n", r.Losses))
	sb.WriteString(fmt.Sprintf("| Deferred | %d |\n", r.Deferred))
	sb.WriteString(fmt.Sprintf("| Not Due | %d |\n", r.NotDue))
	sb.WriteString(fmt.Sprintf("| Skipped | %d |\n", r.Skipped))
	sb.WriteString(fmt.Sprintf("| Still Pending | %d |\n", r.Pending))
	sb.WriteString(fmt.Sprintf("| Archived | %d |\n", r.Archived))
	sb.WriteString("\n")

	writeSkipReasons(&sb, r.SkipReasons)

	sb.WriteString("## Outcome Statistics\n\n")
	if r.Stats == nil || r.Stats.Total == 0 {
		sb.WriteString("No records labeled in this run.\n\n")
		return sb.String()
	}
	s := r.Stats
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Win Rate | %.4f |\n", s.WinRate))
	sb.WriteString(fmt.Sprintf("| Symbol Win Rate | %.4f |\n", s.SymbolWinRate))
	sb.WriteString(fmt.Sprintf("| Assigned Rate | %.4f |\n", s.AssignedRate))
	sb.WriteString(fmt.Sprintf("| High Quality Rate | %.4f |\n", s.HighQualityRate))
	sb.WriteString(fmt.Sprintf("| Mean Realized Return | %.4f |\n", s.ReturnMean))
	sb.WriteString(fmt.Sprintf("| Median Realized Return | %.4f |\n", s.ReturnMedian))
	sb.WriteString(fmt.Sprintf("| P10 / P90 | %.4f / %.4f |\n", s.ReturnP10, s.ReturnP90))
	sb.WriteString(fmt.Sprintf("| Stddev | %.4f |\n", s.ReturnStddev))
	sb.WriteString(fmt.Sprintf("| Mean Annualized Return | %.4f |\n", s.AnnualReturnMean))
	sb.WriteString(fmt.Sprintf("| Max Consecutive Losses | %d |\n", s.MaxConsecutiveLosses))
	sb.WriteString("\n")

	return sb.String()
}

func writeSkipReasons(sb *strings.Builder, reasons []SkipCount) {
	if len(reasons) == 0 {
		return
	}
	sb.WriteString("### Skip Reasons\n\n")
	for _, s := range reasons {
		sb.WriteString(fmt.Sprintf("- %s: %d\n", s.Reason, s.Count))
	}
	sb.WriteString("\n")
}
