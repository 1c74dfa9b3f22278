package domain

import (
	"fmt"
	"strings"
	"time"
)

// OptionType is the right conveyed by an option contract.
type OptionType string

const (
	OptionTypeCall OptionType = "CALL"
	OptionTypePut  OptionType = "PUT"
)

// ParseOptionType accepts "call"/"put" in any case, plus the single-letter forms.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "C":
		return OptionTypeCall, nil
	case "PUT", "P":
		return OptionTypePut, nil
	default:
		return "", fmt.Errorf("option type %q: %w", s, ErrInputData)
	}
}

// OptionQuote is one contract row of an option chain as delivered by a market-data provider.
type OptionQuote struct {
	Symbol       string
	Expiration   time.Time // calendar date, UTC midnight
	Strike       float64
	Type         OptionType
	Bid          float64
	Ask          float64
	Last         float64
	Volume       int64
	OpenInterest int64
	ImpliedVol   float64 // annualized, decimal (0.25 = 25%)
}

// Key returns the contract identity of the quote.
func (q OptionQuote) Key() ContractKey {
	return ContractKey{
		Symbol:     q.Symbol,
		Expiration: Date(q.Expiration),
		Strike:     q.Strike,
		Type:       q.Type,
	}
}

// OptionChain is the snapshot for one underlying: its spot price and every listed contract.
type OptionChain struct {
	Symbol string
	Spot   float64
	AsOf   time.Time
	Quotes []OptionQuote
}

// Calls returns the call contracts of the chain in listing order.
func (c *OptionChain) Calls() []OptionQuote {
	out := make([]OptionQuote, 0, len(c.Quotes))
	for _, q := range c.Quotes {
		if q.Type == OptionTypeCall {
			out = append(out, q)
		}
	}
	return out
}

// ContractKey uniquely identifies a TradeRecord within a partition.
type ContractKey struct {
	Symbol     string
	Expiration time.Time
	Strike     float64
	Type       OptionType
}

// String renders the key as SYMBOL|YYYY-MM-DD|STRIKE|TYPE.
func (k ContractKey) String() string {
	return fmt.Sprintf("%s|%s|%.4f|%s", k.Symbol, k.Expiration.Format(DateLayout), k.Strike, k.Type)
}

// Less orders keys by symbol, expiration, strike, then type.
func (k ContractKey) Less(o ContractKey) bool {
	if k.Symbol != o.Symbol {
		return k.Symbol < o.Symbol
	}
	if !k.Expiration.Equal(o.Expiration) {
		return k.Expiration.Before(o.Expiration)
	}
	if k.Strike != o.Strike {
		return k.Strike < o.Strike
	}
	return k.Type < o.Type
}

// Greeks holds the Black-Scholes price and sensitivities of one contract, long-holder sign.
// Theta is per calendar day; Vega and Rho are per one percentage point.
type Greeks struct {
	Delta            float64
	Gamma            float64
	Theta            float64
	Vega             float64
	Rho              float64
	TheoreticalPrice float64
}

// Short returns the exposure of the written (short) leg.
func (g Greeks) Short() Greeks {
	return Greeks{
		Delta:            -g.Delta,
		Gamma:            -g.Gamma,
		Theta:            -g.Theta,
		Vega:             -g.Vega,
		Rho:              -g.Rho,
		TheoreticalPrice: g.TheoreticalPrice,
	}
}

// RiskReward holds the covered-call payoff figures for one share plus one written call.
type RiskReward struct {
	ReturnOnRisk     float64
	AnnualizedReturn float64
	MaxProfit        float64
	MaxLoss          float64
}
