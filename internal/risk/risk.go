// Package risk derives covered-call payoff metrics for one share plus one written call.
package risk

import (
	"fmt"
	"math"

	"covered-call-lab/internal/domain"
)

// ComputeRiskReward returns the covered-call risk/reward figures.
//
//	maxProfit        = (strike - spot) + premium   when spot < strike
//	                 = premium                     otherwise
//	maxLoss          = max(spot - premium, 0)      stock goes to zero, cushioned by premium
//	returnOnRisk     = premium / spot
//	annualizedReturn = returnOnRisk * 365 / daysToExpiry
func ComputeRiskReward(spot, strike, premium, timeToExpiryYears float64) (domain.RiskReward, error) {
	days := timeToExpiryYears * 365
	if !(spot > 0) || math.IsInf(spot, 0) {
		return domain.RiskReward{}, fmt.Errorf("spot %v must be > 0: %w", spot, domain.ErrInvalidInput)
	}
	if !(days > 0) {
		return domain.RiskReward{}, fmt.Errorf("days to expiry %v must be > 0: %w", days, domain.ErrInvalidInput)
	}
	if !(strike > 0) {
		return domain.RiskReward{}, fmt.Errorf("strike %v must be > 0: %w", strike, domain.ErrInvalidInput)
	}
	if math.IsNaN(premium) || premium < 0 {
		return domain.RiskReward{}, fmt.Errorf("premium %v must be >= 0: %w", premium, domain.ErrInvalidInput)
	}

	maxProfit := premium
	if spot < strike {
		maxProfit += strike - spot
	}
	ror := premium / spot

	return domain.RiskReward{
		ReturnOnRisk:     ror,
		AnnualizedReturn: ror * 365 / days,
		MaxProfit:        maxProfit,
		MaxLoss:          math.Max(spot-premium, 0),
	}, nil
}

// Premium returns the premium received for writing a call quoted at bid/ask:
// the mid when both sides are quoted, otherwise whichever side is positive.
func Premium(bid, ask float64) (float64, error) {
	switch {
	case bid > 0 && ask > 0:
		if ask < bid {
			return 0, fmt.Errorf("crossed quote bid=%v ask=%v: %w", bid, ask, domain.ErrInputData)
		}
		return (bid + ask) / 2, nil
	case bid > 0:
		return bid, nil
	case ask > 0:
		return ask, nil
	default:
		return 0, fmt.Errorf("no bid or ask: %w", domain.ErrInputData)
	}
}

// BreakEven is the underlying price at which the covered call neither gains nor loses.
func BreakEven(spot, premium float64) float64 {
	return spot - premium
}

// OTMPercent is how far the strike sits above spot, as a fraction of spot.
func OTMPercent(spot, strike float64) float64 {
	if spot <= 0 {
		return 0
	}
	return (strike - spot) / spot
}

// RewardToRisk is maxProfit / maxLoss, or 0 when there is no downside exposure.
func RewardToRisk(rr domain.RiskReward) float64 {
	if rr.MaxLoss <= 0 {
		return 0
	}
	return rr.MaxProfit / rr.MaxLoss
}
