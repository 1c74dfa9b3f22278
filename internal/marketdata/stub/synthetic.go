package stub

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/pricing"
)

// SyntheticChain builds a deterministic call chain for symbol: weekly Friday
// expirations up to maxDays out and strikes every 2.5% from -10% to +15% of spot.
// Quotes are Black-Scholes prices around a flat volatility with a 4% spread.
func SyntheticChain(symbol string, spot float64, asOf time.Time, maxDays int) *domain.OptionChain {
	asOf = domain.Date(asOf)
	h := fnv.New32a()
	h.Write([]byte(symbol))
	seed := h.Sum32()
	vol := 0.18 + float64(seed%30)/100

	chain := &domain.OptionChain{Symbol: symbol, Spot: spot, AsOf: asOf}

	exp := asOf.AddDate(0, 0, 1)
	for exp.Weekday() != time.Friday {
		exp = exp.AddDate(0, 0, 1)
	}
	for ; domain.DaysBetween(asOf, exp) <= maxDays; exp = exp.AddDate(0, 0, 7) {
		years := domain.YearFraction(domain.DaysBetween(asOf, exp))
		for step := -4; step <= 6; step++ {
			strike := math.Round(spot*(1+0.025*float64(step))*2) / 2
			px, err := pricing.Price(pricing.Input{
				Spot:              spot,
				Strike:            strike,
				TimeToExpiryYears: years,
				RiskFreeRate:      0.04,
				ImpliedVol:        vol,
				IsCall:            true,
			})
			if err != nil || px < 0.01 {
				continue
			}
			volume := int64(50 + (seed+uint32(step+4)*97)%2000)
			chain.Quotes = append(chain.Quotes, domain.OptionQuote{
				Symbol:       symbol,
				Expiration:   exp,
				Strike:       strike,
				Type:         domain.OptionTypeCall,
				Bid:          math.Round(px*0.98*100) / 100,
				Ask:          math.Round(px*1.02*100) / 100,
				Last:         math.Round(px*100) / 100,
				Volume:       volume,
				OpenInterest: volume * 4,
				ImpliedVol:   vol,
			})
		}
	}
	return chain
}

// SyntheticSource serves SyntheticChain for any symbol as of the requested date.
type SyntheticSource struct {
	Spot    float64
	MaxDays int
}

// GetOptionChain implements marketdata.ChainSource.
func (s SyntheticSource) GetOptionChain(_ context.Context, symbol string, asOf time.Time) (*domain.OptionChain, error) {
	return SyntheticChain(symbol, s.Spot, asOf, s.MaxDays), nil
}
