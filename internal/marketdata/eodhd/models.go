package eodhd

import (
	"fmt"
	"sort"
	"time"

	"covered-call-lab/internal/domain"
)

// EODData is one daily bar.
type EODData struct {
	Date          time.Time `json:"-"`
	DateStr       string    `json:"date"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Close         float64   `json:"close"`
	AdjustedClose float64   `json:"adjusted_close"`
	Volume        int64     `json:"volume"`
}

// EODResponse is the /eod payload.
type EODResponse []EODData

// OptionsResponse is the /options payload: one block per expiration.
type OptionsResponse struct {
	Code           string             `json:"code"`
	Exchange       string             `json:"exchange"`
	LastTradeDate  string             `json:"lastTradeDate"`
	LastTradePrice float64            `json:"lastTradePrice"`
	Data           []OptionExpiration `json:"data"`
}

// OptionExpiration groups the contracts of one expiration date.
type OptionExpiration struct {
	ExpirationDate string                      `json:"expirationDate"`
	Options        map[string][]OptionContract `json:"options"` // "CALL", "PUT"
}

// OptionContract is one listed contract. Implied volatility is in percent.
type OptionContract struct {
	ContractName      string  `json:"contractName"`
	Strike            float64 `json:"strike"`
	LastPrice         float64 `json:"lastPrice"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	Volume            int64   `json:"volume"`
	OpenInterest      int64   `json:"openInterest"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
}

func (r *OptionsResponse) toChain(symbol string, asOf time.Time) (*domain.OptionChain, error) {
	chain := &domain.OptionChain{
		Symbol: symbol,
		Spot:   r.LastTradePrice,
		AsOf:   asOf,
	}

	for _, exp := range r.Data {
		expiration, err := domain.ParseDate(exp.ExpirationDate)
		if err != nil {
			return nil, fmt.Errorf("options %s expiration %q: %w", symbol, exp.ExpirationDate, domain.ErrInputData)
		}
		for side, contracts := range exp.Options {
			typ, err := domain.ParseOptionType(side)
			if err != nil {
				return nil, err
			}
			for _, oc := range contracts {
				chain.Quotes = append(chain.Quotes, domain.OptionQuote{
					Symbol:       symbol,
					Expiration:   expiration,
					Strike:       oc.Strike,
					Type:         typ,
					Bid:          oc.Bid,
					Ask:          oc.Ask,
					Last:         oc.LastPrice,
					Volume:       oc.Volume,
					OpenInterest: oc.OpenInterest,
					ImpliedVol:   oc.ImpliedVolatility / 100,
				})
			}
		}
	}

	// map iteration order is random
	sort.SliceStable(chain.Quotes, func(i, j int) bool {
		return chain.Quotes[i].Key().Less(chain.Quotes[j].Key())
	})
	return chain, nil
}
