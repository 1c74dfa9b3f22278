// Package marketdata declares the provider boundaries the pipeline consumes.
package marketdata

import (
	"context"
	"time"

	"covered-call-lab/internal/domain"
)

// ChainSource returns the option chain and spot price of one underlying.
type ChainSource interface {
	GetOptionChain(ctx context.Context, symbol string, asOf time.Time) (*domain.OptionChain, error)
}

// RateSource returns the annualized risk-free rate (decimal) for a run.
type RateSource interface {
	RiskFreeRate(ctx context.Context, asOf time.Time) (float64, error)
}

// ClosingPriceSource resolves historical closes.
// ok is false when the close is not published yet; that is not an error.
// Malformed provider data is reported as domain.ErrInputData,
// transport failures as domain.ErrExternalService.
type ClosingPriceSource interface {
	ClosingPrice(ctx context.Context, symbol string, date time.Time) (price float64, ok bool, err error)
}

// StaticRate is a RateSource returning a fixed rate.
type StaticRate float64

// RiskFreeRate implements RateSource.
func (r StaticRate) RiskFreeRate(context.Context, time.Time) (float64, error) {
	return float64(r), nil
}
