package stub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covered-call-lab/internal/domain"
)

func TestChainSource(t *testing.T) {
	s := NewChainSource()
	s.AddChain(&domain.OptionChain{Symbol: "AAPL", Spot: 100})

	c, err := s.GetOptionChain(context.Background(), "AAPL", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 100.0, c.Spot)

	_, err = s.GetOptionChain(context.Background(), "MSFT", time.Now())
	assert.ErrorIs(t, err, domain.ErrExternalService)
	assert.Equal(t, 1, s.Calls["MSFT"])
}

func TestClosingPrices(t *testing.T) {
	s := NewClosingPrices()
	d := time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)
	s.Set("AAPL", d, 182.3)

	p, ok, err := s.ClosingPrice(context.Background(), "AAPL", d.Add(15*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 182.3, p)

	_, ok, err = s.ClosingPrice(context.Background(), "AAPL", d.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, s.CallCount())
}

func TestSyntheticChain(t *testing.T) {
	asOf := time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC) // Wednesday
	a := SyntheticChain("AAPL", 185, asOf, 45)
	b := SyntheticChain("AAPL", 185, asOf, 45)
	assert.Equal(t, a, b)
	require.NotEmpty(t, a.Quotes)

	for _, q := range a.Quotes {
		assert.Equal(t, time.Friday, q.Expiration.Weekday())
		assert.LessOrEqual(t, domain.DaysBetween(asOf, q.Expiration), 45)
		assert.Greater(t, q.Ask, 0.0)
		assert.GreaterOrEqual(t, q.Ask, q.Bid)
	}
}
