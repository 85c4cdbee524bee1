// Package eodhd provides a quote provider backed by the EODHD API
package eodhd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/papertrade/internal/common"
	"github.com/bobmcallan/papertrade/internal/interfaces"
	"github.com/bobmcallan/papertrade/internal/models"
)

// flexFloat64 handles JSON values that may be either a number or a string.
// EODHD returns "NA" for fields it has no value for.
type flexFloat64 float64

func (f *flexFloat64) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat64(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		num, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

// flexInt64 is the integer counterpart of flexFloat64.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(data []byte) error {
	var num int64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexInt64(num)
		return nil
	}
	var fl float64
	if err := json.Unmarshal(data, &fl); err == nil {
		*f = flexInt64(fl)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		num, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexInt64(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into int64", string(data))
}

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
	DefaultExchange  = "US"
)

// Client implements interfaces.QuoteProvider against EODHD
type Client struct {
	baseURL    string
	apiKey     string
	exchange   string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter

	namesMu sync.RWMutex
	names   map[string]string
}

var _ interfaces.QuoteProvider = (*Client)(nil)

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithExchange sets the exchange suffix appended to bare symbols.
func WithExchange(exchange string) ClientOption {
	return func(c *Client) {
		if exchange != "" {
			c.exchange = strings.ToUpper(exchange)
		}
	}
}

// NewClient creates a new EODHD client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		apiKey:   apiKey,
		exchange: DefaultExchange,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
		names:   make(map[string]string),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("EODHD API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// get performs a rate-limited GET request
func (c *Client) get(ctx context.Context, path string, params url.Values, result interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", "json")

	reqURL := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	c.logger.Debug().Str("url", c.baseURL+path).Msg("EODHD API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   path,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// RealTimeQuote is the (15-20 minute delayed) live price for one ticker.
type RealTimeQuote struct {
	Code          string
	Timestamp     time.Time
	Open          float64
	High          float64
	Low           float64
	Close         float64
	PreviousClose float64
	Volume        int64
}

type realTimeResponse struct {
	Code          string      `json:"code"`
	Timestamp     flexInt64   `json:"timestamp"`
	Open          flexFloat64 `json:"open"`
	High          flexFloat64 `json:"high"`
	Low           flexFloat64 `json:"low"`
	Close         flexFloat64 `json:"close"`
	PreviousClose flexFloat64 `json:"previousClose"`
	Volume        flexInt64   `json:"volume"`
}

// GetRealTimeQuote retrieves the live price for a fully qualified ticker
// such as "AAPL.US".
func (c *Client) GetRealTimeQuote(ctx context.Context, ticker string) (*RealTimeQuote, error) {
	var resp realTimeResponse
	if err := c.get(ctx, "/real-time/"+url.PathEscape(ticker), nil, &resp); err != nil {
		return nil, err
	}
	return &RealTimeQuote{
		Code:          resp.Code,
		Timestamp:     time.Unix(int64(resp.Timestamp), 0),
		Open:          float64(resp.Open),
		High:          float64(resp.High),
		Low:           float64(resp.Low),
		Close:         float64(resp.Close),
		PreviousClose: float64(resp.PreviousClose),
		Volume:        int64(resp.Volume),
	}, nil
}

// SearchResult is one instrument returned by the search endpoint.
type SearchResult struct {
	Code     string `json:"Code"`
	Exchange string `json:"Exchange"`
	Name     string `json:"Name"`
	Type     string `json:"Type"`
	Country  string `json:"Country"`
	Currency string `json:"Currency"`
}

// Search looks up instruments by code or name.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	var results []SearchResult
	if err := c.get(ctx, "/search/"+url.PathEscape(query), url.Values{"limit": {"10"}}, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Name implements interfaces.QuoteProvider.
func (c *Client) Name() string {
	return "eodhd"
}

// ticker qualifies a bare symbol with the configured exchange.
func (c *Client) ticker(symbol string) string {
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + "." + c.exchange
}

// GetQuote implements interfaces.QuoteProvider. A 404, a zero price or a
// missing timestamp all mean the symbol is not listed.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*models.Quote, error) {
	ticker := c.ticker(symbol)

	rt, err := c.GetRealTimeQuote(ctx, ticker)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrQuoteNotFound, symbol)
		}
		return nil, err
	}
	price := rt.Close
	if price <= 0 {
		price = rt.PreviousClose
	}
	if price <= 0 || rt.Timestamp.Unix() <= 0 {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrQuoteNotFound, symbol)
	}

	return &models.Quote{
		Symbol:    symbol,
		Name:      c.instrumentName(ctx, symbol, ticker),
		Price:     price,
		Source:    c.Name(),
		Timestamp: rt.Timestamp,
	}, nil
}

// instrumentName resolves and memoises the display name for a ticker,
// falling back to the symbol when search fails.
func (c *Client) instrumentName(ctx context.Context, symbol, ticker string) string {
	c.namesMu.RLock()
	name, ok := c.names[ticker]
	c.namesMu.RUnlock()
	if ok {
		return name
	}

	name = symbol
	results, err := c.Search(ctx, symbol)
	if err != nil {
		c.logger.Debug().Err(err).Str("ticker", ticker).Msg("EODHD name lookup failed")
		return name
	}
	for _, r := range results {
		if strings.EqualFold(r.Code+"."+r.Exchange, ticker) || strings.EqualFold(r.Code, symbol) {
			if r.Name != "" {
				name = r.Name
			}
			break
		}
	}

	c.namesMu.Lock()
	c.names[ticker] = name
	c.namesMu.Unlock()
	return name
}
