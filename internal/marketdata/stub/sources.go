package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/marketdata"
)

// ChainSource implements marketdata.ChainSource for testing.
type ChainSource struct {
	mu     sync.Mutex
	Chains map[string]*domain.OptionChain
	Errors map[string]error
	Calls  map[string]int
}

// NewChainSource creates a new stub chain source.
func NewChainSource() *ChainSource {
	return &ChainSource{
		Chains: make(map[string]*domain.OptionChain),
		Errors: make(map[string]error),
		Calls:  make(map[string]int),
	}
}

// AddChain registers the chain returned for chain.Symbol.
func (s *ChainSource) AddChain(chain *domain.OptionChain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Chains[chain.Symbol] = chain
}

// FailSymbol makes every request for symbol return err.
func (s *ChainSource) FailSymbol(symbol string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors[symbol] = err
}

// GetOptionChain returns the registered chain or an ErrExternalService error.
func (s *ChainSource) GetOptionChain(_ context.Context, symbol string, _ time.Time) (*domain.OptionChain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls[symbol]++

	if err, ok := s.Errors[symbol]; ok {
		return nil, err
	}
	chain, ok := s.Chains[symbol]
	if !ok {
		return nil, fmt.Errorf("no chain for %s: %w", symbol, domain.ErrExternalService)
	}
	c := *chain
	c.Quotes = append([]domain.OptionQuote(nil), chain.Quotes...)
	return &c, nil
}

// ClosingPrices implements marketdata.ClosingPriceSource for testing.
type ClosingPrices struct {
	mu     sync.Mutex
	Prices map[string]float64
	Errors map[string]error
	Calls  int
}

// NewClosingPrices creates a new stub closing-price source.
func NewClosingPrices() *ClosingPrices {
	return &ClosingPrices{
		Prices: make(map[string]float64),
		Errors: make(map[string]error),
	}
}

func priceKey(symbol string, date time.Time) string {
	return symbol + "|" + domain.Date(date).Format(domain.DateLayout)
}

// Set registers the close of symbol on date.
func (s *ClosingPrices) Set(symbol string, date time.Time, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Prices[priceKey(symbol, date)] = price
}

// Fail makes lookups of symbol on date return err.
func (s *ClosingPrices) Fail(symbol string, date time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Errors[priceKey(symbol, date)] = err
}

// ClosingPrice returns the registered close; unknown dates are not yet published.
func (s *ClosingPrices) ClosingPrice(_ context.Context, symbol string, date time.Time) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls++

	k := priceKey(symbol, date)
	if err, ok := s.Errors[k]; ok {
		return 0, false, err
	}
	p, ok := s.Prices[k]
	return p, ok, nil
}

// CallCount returns the number of lookups served.
func (s *ClosingPrices) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}

// RateSource implements marketdata.RateSource for testing.
type RateSource struct {
	Rate float64
	Err  error
}

// RiskFreeRate returns Rate or Err.
func (s *RateSource) RiskFreeRate(context.Context, time.Time) (float64, error) {
	if s.Err != nil {
		return 0, s.Err
	}
	return s.Rate, nil
}

var (
	_ marketdata.ChainSource        = (*ChainSource)(nil)
	_ marketdata.ChainSource        = SyntheticSource{}
	_ marketdata.ClosingPriceSource = (*ClosingPrices)(nil)
	_ marketdata.RateSource         = (*RateSource)(nil)
)
