// Package fred reads the risk-free rate from the FRED series observations API.
package fred

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/observability"
)

const (
	DefaultBaseURL  = "https://api.stlouisfed.org/fred"
	DefaultSeriesID = "DTB3" // 3-month treasury bill, secondary market, percent
	DefaultTimeout  = 15 * time.Second

	// observations fetched per request; DTB3 has gaps on holidays
	lookback = 10
)

// Client fetches the latest observation of a rate series.
type Client struct {
	baseURL    string
	apiKey     string
	seriesID   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

func WithBaseURL(u string) ClientOption        { return func(c *Client) { c.baseURL = u } }
func WithSeriesID(id string) ClientOption      { return func(c *Client) { c.seriesID = id } }
func WithTimeout(d time.Duration) ClientOption { return func(c *Client) { c.httpClient.Timeout = d } }

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a FRED client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		seriesID:   DefaultSeriesID,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type observationsResponse struct {
	Observations []observation `json:"observations"`
}

type observation struct {
	Date  string `json:"date"`
	Value string `json:"value"` // "." marks a missing value
}

// RiskFreeRate returns the most recent observation on or before asOf as a decimal rate.
func (c *Client) RiskFreeRate(ctx context.Context, asOf time.Time) (_ float64, err error) {
	start := time.Now()
	defer func() {
		observability.RecordProviderCall("fred", "series_observations", time.Since(start).Seconds(), err)
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("series_id", c.seriesID)
	q.Set("api_key", c.apiKey)
	q.Set("file_type", "json")
	q.Set("sort_order", "desc")
	q.Set("limit", strconv.Itoa(lookback))
	q.Set("observation_end", domain.Date(asOf).Format(domain.DateLayout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/series/observations?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fred request: %v: %w", err, domain.ErrExternalService)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("fred read: %v: %w", err, domain.ErrExternalService)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fred status %d: %s: %w", resp.StatusCode, string(body), domain.ErrExternalService)
	}

	var out observationsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("fred decode: %v: %w", err, domain.ErrInputData)
	}

	for _, o := range out.Observations {
		if o.Value == "." || o.Value == "" {
			continue
		}
		pct, err := strconv.ParseFloat(o.Value, 64)
		if err != nil {
			return 0, fmt.Errorf("fred %s value %q: %w", o.Date, o.Value, domain.ErrInputData)
		}
		c.logger.Debug("risk-free rate", zap.String("series", c.seriesID), zap.String("date", o.Date), zap.Float64("percent", pct))
		return pct / 100, nil
	}
	return 0, fmt.Errorf("fred %s: no observations: %w", c.seriesID, domain.ErrInputData)
}
