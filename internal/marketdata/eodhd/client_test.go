package eodhd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covered-call-lab/internal/domain"
)

func newTestClient(url string) *Client {
	return NewClient("test-key",
		WithBaseURL(url),
		WithRateLimit(1000, 1000),
		WithRetry(2, time.Millisecond),
	)
}

func TestClient_ClosingPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/eod/AAPL.US", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("api_token"))
		assert.Equal(t, "2024-02-16", r.URL.Query().Get("from"))
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"date": "2024-02-16", "open": 183.0, "close": 182.31, "volume": 1000},
		})
	}))
	defer server.Close()

	price, ok, err := newTestClient(server.URL).ClosingPrice(context.Background(), "AAPL", time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 182.31, price)
}

func TestClient_ClosingPriceNotPublished(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	defer server.Close()

	_, ok, err := newTestClient(server.URL).ClosingPrice(context.Background(), "AAPL", time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_ClosingPriceMalformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"date":"2024-02-16","close":-1}]`))
	}))
	defer server.Close()

	_, _, err := newTestClient(server.URL).ClosingPrice(context.Background(), "AAPL", time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, domain.ErrInputData)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[{"date":"2024-02-16","close":10}]`))
	}))
	defer server.Close()

	price, ok, err := newTestClient(server.URL).ClosingPrice(context.Background(), "F", time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 10.0, price)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorIsExternalService(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	_, _, err := newTestClient(server.URL).ClosingPrice(context.Background(), "AAPL", time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrExternalService)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_GetOptionChain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/options/AAPL.US", r.URL.Path)
		w.Write([]byte(`{
			"code": "AAPL.US",
			"lastTradeDate": "2024-01-17",
			"lastTradePrice": 182.68,
			"data": [{
				"expirationDate": "2024-02-16",
				"options": {
					"CALL": [
						{"strike": 190, "bid": 1.9, "ask": 2.0, "volume": 1500, "openInterest": 8000, "impliedVolatility": 22.5},
						{"strike": 185, "bid": 3.1, "ask": 3.3, "volume": 900, "openInterest": 4000, "impliedVolatility": 23.0}
					],
					"PUT": [
						{"strike": 180, "bid": 2.5, "ask": 2.7, "volume": 100, "openInterest": 300, "impliedVolatility": 25.0}
					]
				}
			}]
		}`))
	}))
	defer server.Close()

	chain, err := newTestClient(server.URL).GetOptionChain(context.Background(), "AAPL", time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 182.68, chain.Spot)
	require.Len(t, chain.Quotes, 3)

	calls := chain.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 185.0, calls[0].Strike)
	assert.InDelta(t, 0.23, calls[0].ImpliedVol, 1e-12)
	assert.Equal(t, int64(900), calls[0].Volume)
}

func TestClient_GetOptionChainFallsBackToEODSpot(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/options/MSFT.US":
			w.Write([]byte(`{"code":"MSFT.US","data":[]}`))
		case "/eod/MSFT.US":
			assert.Equal(t, "d", r.URL.Query().Get("order"))
			w.Write([]byte(`[{"date":"2024-01-17","close":389.47},{"date":"2024-01-16","close":390.27}]`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	chain, err := newTestClient(server.URL).GetOptionChain(context.Background(), "MSFT", time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 389.47, chain.Spot)
	assert.Empty(t, chain.Quotes)
}

func TestClient_GetOptionChainBadExpiration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lastTradePrice": 10, "data":[{"expirationDate":"soon","options":{}}]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).GetOptionChain(context.Background(), "F", time.Now())
	assert.ErrorIs(t, err, domain.ErrInputData)
}
