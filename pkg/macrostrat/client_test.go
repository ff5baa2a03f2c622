package macrostrat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macrostrat/internal/api"
	"macrostrat/internal/backtest"
	"macrostrat/internal/catalog"
	"macrostrat/internal/compare"
	"macrostrat/internal/data"
	"macrostrat/internal/domain"
	"macrostrat/internal/store"
	"macrostrat/internal/strategy/builtins"
)

func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080/"
	c := NewClient(baseURL, WithTimeout(time.Second))

	if c.baseURL != "http://localhost:8080" {
		t.Errorf("expected trailing slash trimmed, got %q", c.baseURL)
	}
	if c.httpClient.Timeout != time.Second {
		t.Errorf("expected timeout 1s, got %v", c.httpClient.Timeout)
	}
}

func newTestAPI(t *testing.T) *Client {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cat := catalog.Default()
	mock := data.NewMockProvider()
	bars := data.NewManager(map[domain.Market]data.Provider{
		domain.MarketCN: mock,
		domain.MarketUS: mock,
	}, nil, data.ManagerConfig{MaxRetries: 1}, nil)

	svc, err := backtest.NewService(backtest.Options{
		Registry:       builtins.NewRegistry(),
		Assets:         cat,
		Bars:           bars,
		Results:        db,
		CommissionRate: 0.0003,
		MaxGapDays:     15,
	})
	require.NoError(t, err)

	srv, err := api.NewServer(api.Options{
		Backtests:   svc,
		Comparisons: compare.NewComparator(svc, compare.Options{Results: db}),
		Catalog:     cat,
		Version:     "sdk-test",
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL)
}

func TestClientCatalog(t *testing.T) {
	c := newTestAPI(t)
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "sdk-test", h.Version)

	assets, err := c.Assets(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, assets)

	us, err := c.AssetsByMarket(ctx, "us")
	require.NoError(t, err)
	for _, a := range us {
		assert.Equal(t, domain.MarketUS, a.Market)
	}

	a, err := c.Asset(ctx, "sse50")
	require.NoError(t, err)
	assert.Equal(t, "000016.SH", a.Symbol)

	_, err = c.Asset(ctx, "nikkei")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	strategies, err := c.Strategies(ctx)
	require.NoError(t, err)
	assert.Len(t, strategies, 3)
}

func TestClientBacktestRoundTrip(t *testing.T) {
	c := newTestAPI(t)
	ctx := context.Background()

	req := domain.BacktestRequest{
		AssetID:     "csi500",
		Strategy:    domain.StrategyConfig{Type: domain.StrategyBuyAndHold},
		StartDate:   time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC),
		InitialCash: 500_000,
	}
	res, err := c.RunBacktest(ctx, req)
	require.NoError(t, err)
	require.NotEmpty(t, res.ID)
	assert.Equal(t, "csi500", res.Request.AssetID)

	got, err := c.GetBacktest(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.PerformanceMetrics.TotalTrades, got.PerformanceMetrics.TotalTrades)

	list, err := c.ListBacktests(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.ID, list[0].ID)

	req.InitialCash = -1
	_, err = c.RunBacktest(ctx, req)
	assert.True(t, errors.Is(err, domain.ErrInvalidRequest), "got %v", err)
}

func TestClientCompare(t *testing.T) {
	c := newTestAPI(t)
	ctx := context.Background()

	res, err := c.Compare(ctx, domain.MultiBacktestRequest{
		AssetID: "csi300",
		Strategies: []domain.StrategyConfig{
			{Type: domain.StrategyBuyAndHold, Name: "hold"},
			{Type: domain.StrategyMonthlyRotation, Name: "rotate"},
		},
		StartDate:   time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		InitialCash: 1_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"hold", "rotate"}, res.Names)
	assert.Contains(t, []string{"hold", "rotate"}, res.Comparison.BestStrategy)

	got, err := c.GetComparison(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Comparison.RankedMetrics[0].Name, got.Comparison.RankedMetrics[0].Name)
}

func TestClientNonJSONError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL).Health(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream down", apiErr.Message)
}
