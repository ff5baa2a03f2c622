// Package macrostrat is a Go SDK for the macrostrat-server HTTP API.
package macrostrat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"macrostrat/internal/domain"
	"macrostrat/internal/strategy"
)

// Client provides a Go SDK for interacting with the macrostrat-server API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout. Comparison batches can take
// minutes.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// NewClient creates a new macrostrat API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// APIError is a non-2xx response. It unwraps to the domain error matching
// the status code, so errors.Is(err, domain.ErrNotFound) works on the client
// side.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("macrostrat: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return domain.ErrInvalidRequest
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnprocessableEntity:
		return domain.ErrInvalidPriceSeries
	case http.StatusGatewayTimeout:
		return context.DeadlineExceeded
	}
	return nil
}

// Health is the server's health report.
type Health struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// Health calls GET /api/v1/health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/api/v1/health", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Assets lists the catalog.
func (c *Client) Assets(ctx context.Context) ([]domain.Asset, error) {
	var out []domain.Asset
	if err := c.do(ctx, http.MethodGet, "/api/v1/assets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Asset looks up one asset by ID.
func (c *Client) Asset(ctx context.Context, id string) (*domain.Asset, error) {
	var a domain.Asset
	if err := c.do(ctx, http.MethodGet, "/api/v1/assets/"+url.PathEscape(id), nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// AssetsByMarket lists the assets of one market ("cn", "a_share", "us").
func (c *Client) AssetsByMarket(ctx context.Context, market string) ([]domain.Asset, error) {
	var out []domain.Asset
	if err := c.do(ctx, http.MethodGet, "/api/v1/assets/market/"+url.PathEscape(market), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Markets lists the supported markets.
func (c *Client) Markets(ctx context.Context) ([]domain.MarketInfo, error) {
	var out []domain.MarketInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/markets", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Strategies lists the registered strategy types and their parameters.
func (c *Client) Strategies(ctx context.Context) ([]strategy.Descriptor, error) {
	var out []strategy.Descriptor
	if err := c.do(ctx, http.MethodGet, "/api/v1/strategies", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunBacktest runs one strategy.
func (c *Client) RunBacktest(ctx context.Context, req domain.BacktestRequest) (*domain.BacktestResult, error) {
	var res domain.BacktestResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtest", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetBacktest fetches a stored backtest result.
func (c *Client) GetBacktest(ctx context.Context, id string) (*domain.BacktestResult, error) {
	var res domain.BacktestResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtest/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListBacktests lists stored backtests, newest first. A non-positive limit
// uses the server default.
func (c *Client) ListBacktests(ctx context.Context, limit int) ([]domain.BacktestSummary, error) {
	path := "/api/v1/backtests"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []domain.BacktestSummary
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Compare runs a multi-strategy comparison batch.
func (c *Client) Compare(ctx context.Context, req domain.MultiBacktestRequest) (*domain.MultiBacktestResult, error) {
	var res domain.MultiBacktestResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtest/multi", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetComparison fetches a stored comparison batch.
func (c *Client) GetComparison(ctx context.Context, id string) (*domain.MultiBacktestResult, error) {
	var res domain.MultiBacktestResult
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtest/multi/"+url.PathEscape(id), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Error}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
