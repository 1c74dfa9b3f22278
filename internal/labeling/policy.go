package labeling

import (
	"fmt"
	"math"

	"covered-call-lab/internal/domain"
)

// Policy decides whether a realized covered call counts as a Win.
type Policy string

const (
	// PolicyRealizedPnL labels Win when (min(close, strike) - spot) + premium >= 0.
	PolicyRealizedPnL Policy = "realized_pnl"

	// PolicyOpportunityCost additionally requires the covered call to do at least as
	// well as holding the shares outright (close - spot), so a call assigned far
	// below the closing price is a Loss.
	PolicyOpportunityCost Policy = "opportunity_cost"
)

// DefaultHighQualityAnnualReturn is the realized annualized return above which a Win is high quality.
const DefaultHighQualityAnnualReturn = 0.15

// ParsePolicy parses a configured policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case PolicyRealizedPnL, PolicyOpportunityCost:
		return p, nil
	case "":
		return PolicyRealizedPnL, nil
	default:
		return "", fmt.Errorf("labeling policy %q: %w", s, domain.ErrInvalidInput)
	}
}

// RealizedPnL is the per-share P/L of long stock plus a written call held to expiration.
func RealizedPnL(spot, strike, premium, closePrice float64) float64 {
	return math.Min(closePrice, strike) - spot + premium
}

// IsWin applies the policy to a realized outcome.
func (p Policy) IsWin(spot, strike, premium, closePrice float64) bool {
	pnl := RealizedPnL(spot, strike, premium, closePrice)
	switch p {
	case PolicyOpportunityCost:
		return pnl >= 0 && pnl >= closePrice-spot
	default:
		return pnl >= 0
	}
}
