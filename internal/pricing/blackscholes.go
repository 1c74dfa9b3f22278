// Package pricing implements the Black-Scholes price and Greeks for European options.
//
// All Greeks are reported from the long holder's perspective: a long call has
// delta in [0,1], non-negative gamma and vega, and (typically) negative theta.
// The covered-call writer's exposure is domain.Greeks.Short().
//
// Scaling: theta is per calendar day (annual theta / 365), vega and rho are per
// one percentage point move in volatility and rate.
package pricing

import (
	"fmt"
	"math"

	"covered-call-lab/internal/domain"
)

// DaysPerYear is the day count used for theta scaling and year fractions.
const DaysPerYear = 365.0

// Input is the market and contract state needed to price one option.
type Input struct {
	Spot              float64
	Strike            float64
	TimeToExpiryYears float64
	RiskFreeRate      float64
	ImpliedVol        float64
	IsCall            bool
}

// Validate checks pricing preconditions.
func (in Input) Validate() error {
	switch {
	case !(in.Spot > 0) || math.IsInf(in.Spot, 0):
		return fmt.Errorf("spot %v must be > 0: %w", in.Spot, domain.ErrInvalidInput)
	case !(in.Strike > 0) || math.IsInf(in.Strike, 0):
		return fmt.Errorf("strike %v must be > 0: %w", in.Strike, domain.ErrInvalidInput)
	case !(in.ImpliedVol > 0) || math.IsInf(in.ImpliedVol, 0):
		return fmt.Errorf("implied vol %v must be > 0: %w", in.ImpliedVol, domain.ErrInvalidInput)
	case !(in.TimeToExpiryYears >= 0) || math.IsInf(in.TimeToExpiryYears, 0):
		return fmt.Errorf("time to expiry %v must be >= 0: %w", in.TimeToExpiryYears, domain.ErrInvalidInput)
	case math.IsNaN(in.RiskFreeRate) || math.IsInf(in.RiskFreeRate, 0):
		return fmt.Errorf("risk-free rate %v: %w", in.RiskFreeRate, domain.ErrInvalidInput)
	}
	return nil
}

// ComputeGreeks returns the theoretical price and Greeks for in.
// At expiry (T == 0) it returns intrinsic value with degenerate sensitivities.
func ComputeGreeks(in Input) (domain.Greeks, error) {
	if err := in.Validate(); err != nil {
		return domain.Greeks{}, err
	}
	if in.TimeToExpiryYears == 0 {
		return atExpiry(in), nil
	}

	S, K, T, r, sigma := in.Spot, in.Strike, in.TimeToExpiryYears, in.RiskFreeRate, in.ImpliedVol
	sqrtT := math.Sqrt(T)
	d1 := (math.Log(S/K) + (r+0.5*sigma*sigma)*T) / (sigma * sqrtT)
	d2 := d1 - sigma*sqrtT
	pdf := NormPDF(d1)
	disc := K * math.Exp(-r*T)

	g := domain.Greeks{
		Gamma: pdf / (S * sigma * sqrtT),
		Vega:  S * pdf * sqrtT / 100,
	}
	decay := -S * pdf * sigma / (2 * sqrtT)

	if in.IsCall {
		nd1, nd2 := NormCDF(d1), NormCDF(d2)
		g.TheoreticalPrice = S*nd1 - disc*nd2
		g.Delta = nd1
		g.Theta = (decay - r*disc*nd2) / DaysPerYear
		g.Rho = disc * T * nd2 / 100
	} else {
		nd1, nd2 := NormCDF(-d1), NormCDF(-d2)
		g.TheoreticalPrice = disc*nd2 - S*nd1
		g.Delta = -nd1
		g.Theta = (decay + r*disc*nd2) / DaysPerYear
		g.Rho = -disc * T * nd2 / 100
	}
	return g, nil
}

func atExpiry(in Input) domain.Greeks {
	if in.IsCall {
		g := domain.Greeks{TheoreticalPrice: math.Max(in.Spot-in.Strike, 0)}
		if in.Spot > in.Strike {
			g.Delta = 1
		}
		return g
	}
	g := domain.Greeks{TheoreticalPrice: math.Max(in.Strike-in.Spot, 0)}
	if in.Spot < in.Strike {
		g.Delta = -1
	}
	return g
}

// Price is a convenience wrapper returning only the theoretical price.
func Price(in Input) (float64, error) {
	g, err := ComputeGreeks(in)
	if err != nil {
		return 0, err
	}
	return g.TheoreticalPrice, nil
}
