package screening

import (
	"fmt"
	"time"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/idhash"
	"covered-call-lab/internal/pricing"
	"covered-call-lab/internal/risk"
)

// Snapshot is the per-symbol market context a quote is priced against.
type Snapshot struct {
	Spot            float64
	RiskFreeRate    float64
	ObservationDate time.Time
	RunID           string
	Now             time.Time
}

// BuildCandidate prices q and derives its covered-call analytics.
// Errors are *domain.RecordError wrapping ErrInvalidInput or ErrInputData.
func BuildCandidate(q domain.OptionQuote, snap Snapshot) (*domain.TradeRecord, error) {
	key := q.Key()

	obs := domain.Date(snap.ObservationDate)
	days := domain.DaysBetween(obs, key.Expiration)
	if days <= 0 {
		return nil, domain.NewRecordError(key, fmt.Errorf("expiration not after observation %s: %w",
			obs.Format(domain.DateLayout), domain.ErrInvalidInput))
	}
	years := domain.YearFraction(days)

	prem, err := risk.Premium(q.Bid, q.Ask)
	if err != nil {
		return nil, domain.NewRecordError(key, err)
	}

	greeks, err := pricing.ComputeGreeks(pricing.Input{
		Spot:              snap.Spot,
		Strike:            q.Strike,
		TimeToExpiryYears: years,
		RiskFreeRate:      snap.RiskFreeRate,
		ImpliedVol:        q.ImpliedVol,
		IsCall:            q.Type == domain.OptionTypeCall,
	})
	if err != nil {
		return nil, domain.NewRecordError(key, err)
	}

	rr, err := risk.ComputeRiskReward(snap.Spot, q.Strike, prem, years)
	if err != nil {
		return nil, domain.NewRecordError(key, err)
	}

	now := snap.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	rec := &domain.TradeRecord{
		RecordID:   idhash.RecordIDForKey(key),
		RunID:      snap.RunID,
		Symbol:     key.Symbol,
		Expiration: key.Expiration,
		Strike:     key.Strike,
		OptionType: key.Type,

		ObservationDate: obs,
		Spot:            snap.Spot,
		Bid:             q.Bid,
		Ask:             q.Ask,
		Volume:          q.Volume,
		OpenInterest:    q.OpenInterest,
		ImpliedVol:      q.ImpliedVol,
		RiskFreeRate:    snap.RiskFreeRate,

		Premium:          prem,
		DaysToExpiry:     days,
		Delta:            greeks.Delta,
		Gamma:            greeks.Gamma,
		Theta:            greeks.Theta,
		Vega:             greeks.Vega,
		Rho:              greeks.Rho,
		TheoreticalPrice: greeks.TheoreticalPrice,
		ReturnOnRisk:     rr.ReturnOnRisk,
		AnnualizedReturn: rr.AnnualizedReturn,
		MaxProfit:        rr.MaxProfit,
		MaxLoss:          rr.MaxLoss,
		BreakEven:        risk.BreakEven(snap.Spot, prem),
		OTMPercent:       risk.OTMPercent(snap.Spot, q.Strike),
		ReturnPerDay:     rr.ReturnOnRisk / float64(days),
		RiskRewardRatio:  risk.RewardToRisk(rr),

		Status:    domain.StatusCandidate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := rec.Validate(); err != nil {
		return nil, domain.NewRecordError(key, err)
	}
	return rec, nil
}

// InExpiryWindow reports whether expiration lies within [minDays, maxDays] of obs.
func InExpiryWindow(obs, expiration time.Time, minDays, maxDays int) bool {
	d := domain.DaysBetween(obs, expiration)
	return d >= minDays && d <= maxDays
}
