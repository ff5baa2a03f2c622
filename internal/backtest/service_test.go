package backtest

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macrostrat/internal/broker"
	"macrostrat/internal/catalog"
	"macrostrat/internal/domain"
	"macrostrat/internal/monitor"
	"macrostrat/internal/store"
	"macrostrat/internal/strategy/builtins"
	"macrostrat/internal/testutil"
)

// staticBars serves the same series for every asset, clipped to the range.
type staticBars struct {
	bars  []domain.Bar
	calls atomic.Int32
	err   error
}

func (s *staticBars) GetBars(_ context.Context, _ domain.Asset, start, end time.Time) ([]domain.Bar, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Bar
	for _, b := range s.bars {
		if !b.Date.Before(start) && !b.Date.After(end) {
			out = append(out, b)
		}
	}
	return out, nil
}

func newService(t *testing.T, src BarSource, results store.ResultStore) *Service {
	t.Helper()
	svc, err := NewService(Options{
		Registry:       builtins.NewRegistry(),
		Assets:         catalog.Default(),
		Bars:           src,
		Results:        results,
		Metrics:        monitor.New(),
		CommissionRate: broker.DefaultCommissionRate,
		MaxGapDays:     15,
	})
	require.NoError(t, err)
	return svc
}

func request(typ domain.StrategyType, params map[string]any, start, end time.Time) domain.BacktestRequest {
	return domain.BacktestRequest{
		AssetID:     "csi300",
		Strategy:    domain.StrategyConfig{Type: typ, Parameters: params},
		StartDate:   start,
		EndDate:     end,
		InitialCash: 1_000_000,
	}
}

func TestBuyAndHoldConstantPriceScenario(t *testing.T) {
	src := &staticBars{bars: testutil.ConstantBars("000300.SH", testutil.Date(2024, 1, 1), testutil.Date(2024, 12, 31), 3500)}
	svc := newService(t, src, nil)

	res, err := svc.Run(context.Background(), request(domain.StrategyBuyAndHold,
		map[string]any{"target_allocation": 1.0}, testutil.Date(2024, 1, 1), testutil.Date(2024, 6, 30)))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.OrderSideBuy, res.Trades[0].Action)
	assert.True(t, res.Trades[0].Date.Equal(res.DailyReturns[0].Date))

	m := res.PerformanceMetrics
	assert.Equal(t, 0.0, m.TotalReturn)
	assert.Equal(t, 0.0, m.MaxDrawdown)
	assert.Equal(t, 0.0, m.SharpeRatio)
	assert.Equal(t, 1, m.TotalTrades)

	assert.NotEmpty(t, res.ID)
	require.NotNil(t, res.Asset)
	assert.Equal(t, "000300.SH", res.Asset.Symbol)
	assert.Equal(t, int32(1), src.calls.Load(), "series is fetched once per run")
}

func TestMonthlyRotationScenario(t *testing.T) {
	src := &staticBars{bars: testutil.WeekdayBars("000300.SH", testutil.Date(2024, 1, 1), testutil.Date(2024, 12, 31),
		func(i int, _ time.Time) float64 { return 3400 + float64(i%11)*5 })}
	svc := newService(t, src, nil)

	res, err := svc.Run(context.Background(), request(domain.StrategyMonthlyRotation, map[string]any{
		"buy_days_before_month_end":   1,
		"sell_days_after_month_start": 1,
	}, testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 31)))
	require.NoError(t, err)

	var buys, sells int
	for _, tr := range res.Trades {
		if tr.Action == domain.OrderSideBuy {
			buys++
		} else {
			sells++
		}
	}
	assert.Equal(t, 3, buys)
	assert.Equal(t, 3, sells)
	assert.Equal(t, 3, res.PerformanceMetrics.RoundTrips)
}

func TestRunIsDeterministic(t *testing.T) {
	src := &staticBars{bars: testutil.WeekdayBars("000300.SH", testutil.Date(2023, 1, 2), testutil.Date(2023, 12, 29),
		func(i int, _ time.Time) float64 { return 3000 + 200*float64((i*7)%13) })}
	svc := newService(t, src, nil)
	req := request(domain.StrategySMACross, map[string]any{"short_period": 3, "long_period": 8},
		testutil.Date(2023, 1, 1), testutil.Date(2023, 12, 31))

	a, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	b, err := svc.Run(context.Background(), req)
	require.NoError(t, err)

	ja, _ := json.Marshal(a.Trades)
	jb, _ := json.Marshal(b.Trades)
	assert.Equal(t, string(ja), string(jb))
	ja, _ = json.Marshal(a.DailyReturns)
	jb, _ = json.Marshal(b.DailyReturns)
	assert.Equal(t, string(ja), string(jb))
	assert.NotEqual(t, a.ID, b.ID)
}

func TestInsufficientCashScenario(t *testing.T) {
	src := &staticBars{bars: testutil.ConstantBars("000300.SH", testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 31), 3500)}
	svc := newService(t, src, nil)

	req := request(domain.StrategyBuyAndHold, nil, testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 31))
	req.InitialCash = 1000
	res, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 0, res.PerformanceMetrics.TotalTrades)
	assert.NotNil(t, res.Trades)
	assert.NotEmpty(t, res.SkippedSignals)
}

func TestValidateRejectsBadRequests(t *testing.T) {
	svc := newService(t, &staticBars{}, nil)
	good := request(domain.StrategyBuyAndHold, nil, testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 31))

	cases := map[string]func(r *domain.BacktestRequest){
		"missing asset":     func(r *domain.BacktestRequest) { r.AssetID = "" },
		"unknown asset":     func(r *domain.BacktestRequest) { r.AssetID = "nasdaq9000" },
		"reversed range":    func(r *domain.BacktestRequest) { r.StartDate, r.EndDate = r.EndDate, r.StartDate },
		"missing start":     func(r *domain.BacktestRequest) { r.StartDate = time.Time{} },
		"zero cash":         func(r *domain.BacktestRequest) { r.InitialCash = 0 },
		"negative cash":     func(r *domain.BacktestRequest) { r.InitialCash = -5 },
		"unknown strategy":  func(r *domain.BacktestRequest) { r.Strategy.Type = "martingale" },
		"bad parameter":     func(r *domain.BacktestRequest) { r.Strategy.Parameters = map[string]any{"target_allocation": 2.0} },
		"bad risk settings": func(r *domain.BacktestRequest) { r.RiskManagement = &domain.RiskManagement{StopLoss: 1.5} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := good
			mutate(&req)
			_, err := svc.Validate(req)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		})
	}

	_, err := svc.Validate(good)
	assert.NoError(t, err)
}

func TestUnsupportedStrategyFailsBeforeFetching(t *testing.T) {
	src := &staticBars{}
	svc := newService(t, src, nil)

	_, err := svc.Run(context.Background(), request("martingale", nil, testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 31)))
	assert.ErrorIs(t, err, domain.ErrUnsupportedStrategy)
	assert.Equal(t, int32(0), src.calls.Load())
}

func TestCoverageFailures(t *testing.T) {
	src := &staticBars{bars: testutil.ConstantBars("000300.SH", testutil.Date(2024, 3, 1), testutil.Date(2024, 6, 28), 3500)}
	svc := newService(t, src, nil)

	// Data starts two months after the requested start.
	_, err := svc.Run(context.Background(), request(domain.StrategyBuyAndHold, nil, testutil.Date(2024, 1, 1), testutil.Date(2024, 6, 30)))
	assert.ErrorIs(t, err, domain.ErrInvalidPriceSeries)

	// Data stops eleven months before the requested end.
	short := newService(t, &staticBars{bars: testutil.ConstantBars("000300.SH", testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 31), 3500)}, nil)
	_, err = short.Run(context.Background(), request(domain.StrategyBuyAndHold, nil, testutil.Date(2024, 1, 1), testutil.Date(2024, 12, 31)))
	assert.ErrorIs(t, err, domain.ErrInvalidPriceSeries)
	assert.ErrorContains(t, err, "data ends 2024-01-31")

	// An end date past today is checked against today.
	short.now = func() time.Time { return testutil.Date(2024, 2, 5) }
	res, err := short.Run(context.Background(), request(domain.StrategyBuyAndHold, nil, testutil.Date(2024, 1, 1), testutil.Date(2024, 12, 31)))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-31", res.DailyReturns[len(res.DailyReturns)-1].Date.Format("2006-01-02"))

	// No data at all.
	_, err = svc.Run(context.Background(), request(domain.StrategyBuyAndHold, nil, testutil.Date(2020, 1, 1), testutil.Date(2020, 6, 30)))
	assert.ErrorIs(t, err, domain.ErrInvalidPriceSeries)

	fail := &staticBars{err: errors.New("provider down")}
	_, err = newService(t, fail, nil).Run(context.Background(), request(domain.StrategyBuyAndHold, nil, testutil.Date(2024, 3, 1), testutil.Date(2024, 6, 30)))
	assert.Error(t, err)
}

func TestResultsArePersisted(t *testing.T) {
	results, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer results.Close()

	src := &staticBars{bars: testutil.WeekdayBars("000300.SH", testutil.Date(2024, 1, 1), testutil.Date(2024, 6, 28),
		func(i int, _ time.Time) float64 { return 3500 + float64(i) })}
	svc := newService(t, src, results)
	ctx := context.Background()

	res, err := svc.Run(ctx, request(domain.StrategyBuyAndHold, nil, testutil.Date(2024, 1, 1), testutil.Date(2024, 6, 30)))
	require.NoError(t, err)

	got, err := svc.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.PerformanceMetrics, got.PerformanceMetrics)
	assert.Len(t, got.DailyReturns, len(res.DailyReturns))

	list, err := svc.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.ID, list[0].ID)

	_, err = svc.Get(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetWithoutStore(t *testing.T) {
	svc := newService(t, &staticBars{}, nil)
	_, err := svc.Get(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := svc.List(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestNewServiceRequiresCollaborators(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)

	_, err = NewService(Options{
		Registry:       builtins.NewRegistry(),
		Assets:         catalog.Default(),
		Bars:           &staticBars{},
		CommissionRate: -1,
	})
	assert.Error(t, err)
}
