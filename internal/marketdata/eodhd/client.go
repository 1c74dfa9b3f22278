// Package eodhd is a client for the EODHD end-of-day and options APIs.
package eodhd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"covered-call-lab/internal/domain"
	"covered-call-lab/internal/observability"
)

const (
	// DefaultBaseURL is the base URL for the EODHD API.
	DefaultBaseURL = "https://eodhd.com/api"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5

	DefaultMaxRetries = 3
	DefaultRetryDelay = 1 * time.Second
	DefaultMaxDelay   = 10 * time.Second

	// Exchange suffix appended to bare US tickers.
	DefaultExchange = "US"
)

// Client is an EODHD API client.
type Client struct {
	baseURL    string
	apiKey     string
	exchange   string
	httpClient *http.Client
	logger     *zap.Logger
	limiter    *rate.Limiter
	maxRetries int
	retryDelay time.Duration
	maxDelay   time.Duration
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets a logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithRetry sets retry attempts and the initial backoff delay.
func WithRetry(maxRetries int, delay time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// WithExchange sets the exchange suffix (default "US").
func WithExchange(exchange string) ClientOption {
	return func(c *Client) {
		c.exchange = exchange
	}
}

// NewClient creates a new EODHD API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		exchange: DefaultExchange,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:     zap.NewNop(),
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		maxDelay:   DefaultMaxDelay,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) ticker(symbol string) string {
	if c.exchange == "" {
		return symbol
	}
	return symbol + "." + c.exchange
}

// get performs a rate-limited GET with retries and exponential backoff.
// 4xx responses other than 429 are not retried.
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) (err error) {
	start := time.Now()
	defer func() {
		observability.RecordProviderCall("eodhd", endpoint(path), time.Since(start).Seconds(), err)
	}()

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")
	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		c.logger.Debug("eodhd request", zap.String("path", path), zap.Int("attempt", attempt))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body), Endpoint: path}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				lastErr = apiErr
				continue
			}
			return apiErr
		}

		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("decode %s: %v: %w", path, err, domain.ErrInputData)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// endpoint returns the first path segment, used as the metrics method label.
func endpoint(path string) string {
	return strings.SplitN(strings.TrimPrefix(path, "/"), "/", 2)[0]
}

// classify maps transport failures onto the domain taxonomy.
func classify(err error) error {
	if err == nil || errors.Is(err, domain.ErrInputData) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrExternalService, err)
}

// GetEOD retrieves end-of-day price data for a symbol (bare ticker, exchange suffix is added).
func (c *Client) GetEOD(ctx context.Context, symbol string, opts ...QueryOption) (EODResponse, error) {
	params := &queryParams{
		Period: "d",
		Order:  "a",
	}
	for _, opt := range opts {
		opt(params)
	}

	query := url.Values{}
	if !params.From.IsZero() {
		query.Set("from", params.From.Format(domain.DateLayout))
	}
	if !params.To.IsZero() {
		query.Set("to", params.To.Format(domain.DateLayout))
	}
	if params.Period != "" {
		query.Set("period", params.Period)
	}
	if params.Order != "" {
		query.Set("order", params.Order)
	}

	var result EODResponse
	if err := c.get(ctx, "/eod/"+c.ticker(symbol), query, &result); err != nil {
		return nil, classify(err)
	}

	for i := range result {
		t, err := domain.ParseDate(result[i].DateStr)
		if err != nil {
			return nil, fmt.Errorf("eod %s date %q: %w", symbol, result[i].DateStr, domain.ErrInputData)
		}
		result[i].Date = t
	}

	return result, nil
}

// ClosingPrice returns the close on date. A date with no bar yet returns ok=false.
func (c *Client) ClosingPrice(ctx context.Context, symbol string, date time.Time) (float64, bool, error) {
	day := domain.Date(date)
	bars, err := c.GetEOD(ctx, symbol, WithDateRange(day, day))
	if err != nil {
		return 0, false, err
	}
	for _, b := range bars {
		if !b.Date.Equal(day) {
			continue
		}
		if !(b.Close > 0) {
			return 0, false, fmt.Errorf("eod %s %s close %v: %w", symbol, day.Format(domain.DateLayout), b.Close, domain.ErrInputData)
		}
		return b.Close, true, nil
	}
	return 0, false, nil
}

// GetOptionChain retrieves the call and put chain of symbol traded on asOf.
func (c *Client) GetOptionChain(ctx context.Context, symbol string, asOf time.Time) (*domain.OptionChain, error) {
	query := url.Values{}
	query.Set("trade_date_from", domain.Date(asOf).AddDate(0, 0, -5).Format(domain.DateLayout))

	var resp OptionsResponse
	if err := c.get(ctx, "/options/"+c.ticker(symbol), query, &resp); err != nil {
		return nil, classify(err)
	}

	chain, err := resp.toChain(symbol, domain.Date(asOf))
	if err != nil {
		return nil, err
	}

	if !(chain.Spot > 0) {
		spot, err := c.latestClose(ctx, symbol, asOf)
		if err != nil {
			return nil, err
		}
		chain.Spot = spot
	}
	return chain, nil
}

// latestClose returns the most recent close at or before asOf within a week.
func (c *Client) latestClose(ctx context.Context, symbol string, asOf time.Time) (float64, error) {
	day := domain.Date(asOf)
	bars, err := c.GetEOD(ctx, symbol, WithDateRange(day.AddDate(0, 0, -7), day), WithOrder("d"))
	if err != nil {
		return 0, err
	}
	for _, b := range bars {
		if b.Close > 0 {
			return b.Close, nil
		}
	}
	return 0, fmt.Errorf("no spot price for %s: %w", symbol, domain.ErrInputData)
}
