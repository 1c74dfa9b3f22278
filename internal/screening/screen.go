// Package screening turns option quotes into priced candidates and filters and ranks them.
package screening

import (
	"math"
	"sort"

	"covered-call-lab/internal/domain"
)

// Passes reports whether t satisfies every rule.
func Passes(t *domain.TradeRecord, rules []Rule) bool {
	for _, r := range rules {
		if !r.Eval(t) {
			return false
		}
	}
	return true
}

// Screen returns the candidates passing all rules, ranked by Less.
// Inputs are not modified; the returned slice shares the record pointers.
func Screen(candidates []*domain.TradeRecord, rules []Rule) []*domain.TradeRecord {
	retained := make([]*domain.TradeRecord, 0, len(candidates))
	for _, c := range candidates {
		if c != nil && Passes(c, rules) {
			retained = append(retained, c)
		}
	}
	sort.SliceStable(retained, func(i, j int) bool {
		return Less(retained[i], retained[j])
	})
	return retained
}

// Less is the total ranking order: annualized return DESC, volume DESC, delta ASC,
// then contract key ASC so the order never depends on input order.
func Less(a, b *domain.TradeRecord) bool {
	ar, br := descKey(a.AnnualizedReturn), descKey(b.AnnualizedReturn)
	if ar != br {
		return ar > br
	}
	if a.Volume != b.Volume {
		return a.Volume > b.Volume
	}
	ad, bd := ascKey(a.Delta), ascKey(b.Delta)
	if ad != bd {
		return ad < bd
	}
	return a.Key().Less(b.Key())
}

// NaN sorts last on either direction.
func descKey(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(-1)
	}
	return v
}

func ascKey(v float64) float64 {
	if math.IsNaN(v) {
		return math.Inf(1)
	}
	return v
}

// Top returns at most n records; n <= 0 returns ranked unchanged.
func Top(ranked []*domain.TradeRecord, n int) []*domain.TradeRecord {
	if n <= 0 || len(ranked) <= n {
		return ranked
	}
	return ranked[:n]
}

// RuleDiagnostic counts how many candidates pass one rule on its own.
type RuleDiagnostic struct {
	Rule      string
	Threshold float64
	Passed    int
	Total     int
}

// Diagnose evaluates each rule independently over candidates.
func Diagnose(candidates []*domain.TradeRecord, rules []Rule) []RuleDiagnostic {
	out := make([]RuleDiagnostic, len(rules))
	for i, r := range rules {
		d := RuleDiagnostic{Rule: r.Name, Threshold: r.Threshold, Total: len(candidates)}
		for _, c := range candidates {
			if c != nil && r.Eval(c) {
				d.Passed++
			}
		}
		out[i] = d
	}
	return out
}
