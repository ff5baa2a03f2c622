package builtins

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macrostrat/internal/domain"
	"macrostrat/internal/strategy"
	"macrostrat/internal/testutil"
	"macrostrat/internal/util"
)

func build(t *testing.T, typ domain.StrategyType, params map[string]any, bars []domain.Bar) strategy.Strategy {
	t.Helper()
	s, err := NewRegistry().New(domain.StrategyConfig{Type: typ, Parameters: params})
	require.NoError(t, err)
	require.NoError(t, s.Init(context.Background(), util.NewTradingCalendar(testutil.Dates(bars))))
	return s
}

// replay feeds the strategy a toy all-or-nothing book and returns the dates of
// buy and sell signals.
func replay(s strategy.Strategy, bars []domain.Bar) (buys, sells []time.Time) {
	var qty float64
	for i, b := range bars {
		state := domain.PortfolioState{Date: b.Date, Position: domain.Position{Quantity: qty}}
		switch sig := s.Decide(i, bars[:i+1], state); sig.Action {
		case domain.SignalBuy:
			buys = append(buys, b.Date)
			qty = 1
		case domain.SignalSell:
			sells = append(sells, b.Date)
			qty = 0
		}
	}
	return buys, sells
}

func TestRegistryHasBuiltins(t *testing.T) {
	r := NewRegistry()
	var types []domain.StrategyType
	for _, d := range r.List() {
		types = append(types, d.Type)
		assert.NotEmpty(t, d.Parameters, "descriptor %s has no parameters", d.Type)
	}
	assert.Equal(t, []domain.StrategyType{
		domain.StrategyBuyAndHold, domain.StrategyMonthlyRotation, domain.StrategySMACross,
	}, types)
}

func TestMonthlyRotationMonthBoundaries(t *testing.T) {
	bars := testutil.ConstantBars("X", testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 31), 10)
	s := build(t, domain.StrategyMonthlyRotation, map[string]any{
		"buy_days_before_month_end":   1,
		"sell_days_after_month_start": 1,
	}, bars)

	buys, sells := replay(s, bars)
	assert.Equal(t, []time.Time{
		testutil.Date(2024, 1, 31), testutil.Date(2024, 2, 29), testutil.Date(2024, 3, 29),
	}, buys)
	assert.Equal(t, []time.Time{testutil.Date(2024, 2, 1), testutil.Date(2024, 3, 1)}, sells)
	assert.True(t, s.(strategy.Liquidator).LiquidateAtEnd())
}

func TestMonthlyRotationOffsets(t *testing.T) {
	bars := testutil.ConstantBars("X", testutil.Date(2024, 1, 1), testutil.Date(2024, 2, 29), 10)
	s := build(t, domain.StrategyMonthlyRotation, map[string]any{
		"buy_days_before_month_end":   3,
		"sell_days_after_month_start": 2,
		"close_at_end":                false,
	}, bars)

	buys, sells := replay(s, bars)
	// Jan 29 is the third-to-last weekday of January; Feb 2 is February's
	// second trading day.
	assert.Equal(t, []time.Time{testutil.Date(2024, 1, 29), testutil.Date(2024, 2, 27)}, buys)
	assert.Equal(t, []time.Time{testutil.Date(2024, 2, 2)}, sells)
	assert.False(t, s.(strategy.Liquidator).LiquidateAtEnd())
}

func TestMonthlyRotationPartialMonthUsesSeriesRows(t *testing.T) {
	// Series ends on Wed Mar 13, which is therefore March's last row.
	bars := testutil.ConstantBars("X", testutil.Date(2024, 2, 26), testutil.Date(2024, 3, 13), 10)
	s := build(t, domain.StrategyMonthlyRotation, nil, bars)

	buys, _ := replay(s, bars)
	assert.Equal(t, []time.Time{testutil.Date(2024, 2, 29), testutil.Date(2024, 3, 13)}, buys)
}

func TestMonthlyRotationRejectsBadParams(t *testing.T) {
	r := NewRegistry()
	for _, params := range []map[string]any{
		{"buy_days_before_month_end": 0},
		{"sell_days_after_month_start": 1.5},
		{"target_allocation": 2},
		{"close_at_end": "yes"},
	} {
		_, err := r.New(domain.StrategyConfig{Type: domain.StrategyMonthlyRotation, Parameters: params})
		assert.ErrorIs(t, err, domain.ErrInvalidRequest, "params %v", params)
	}
}

func TestBuyAndHoldBuysOnceThenHolds(t *testing.T) {
	bars := testutil.ConstantBars("X", testutil.Date(2024, 1, 1), testutil.Date(2024, 6, 28), 10)
	s := build(t, domain.StrategyBuyAndHold, map[string]any{"target_allocation": 0.8}, bars)

	first := s.Decide(0, bars[:1], domain.PortfolioState{})
	assert.Equal(t, domain.SignalBuy, first.Action)
	assert.Equal(t, 0.8, first.TargetAllocation)

	buys, sells := replay(s, bars)
	assert.Len(t, buys, 1)
	assert.Empty(t, sells)
}

func TestBuyAndHoldRebalance(t *testing.T) {
	bars := testutil.ConstantBars("X", testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 29), 10)
	s := build(t, domain.StrategyBuyAndHold, map[string]any{
		"target_allocation":   0.5,
		"rebalance_frequency": "monthly",
	}, bars)

	feb1 := 23 // first weekday of February 2024 in a series starting Jan 1
	require.Equal(t, testutil.Date(2024, 2, 1), bars[feb1].Date)

	overweight := domain.PortfolioState{
		PortfolioValue: 100,
		Position:       domain.Position{Quantity: 8, MarketValue: 80},
	}
	sig := s.Decide(feb1, bars[:feb1+1], overweight)
	require.Equal(t, domain.SignalSell, sig.Action)
	assert.InDelta(t, 0.375, sig.Fraction, 1e-12)

	underweight := domain.PortfolioState{
		PortfolioValue: 100,
		Position:       domain.Position{Quantity: 3, MarketValue: 30},
	}
	sig = s.Decide(feb1, bars[:feb1+1], underweight)
	assert.Equal(t, domain.SignalBuy, sig.Action)

	// Within threshold, or not a period start: hold.
	near := domain.PortfolioState{PortfolioValue: 100, Position: domain.Position{Quantity: 5, MarketValue: 52}}
	assert.Equal(t, domain.SignalHold, s.Decide(feb1, bars[:feb1+1], near).Action)
	assert.Equal(t, domain.SignalHold, s.Decide(feb1+1, bars[:feb1+2], overweight).Action)
}

func TestBuyAndHoldRejectsUnknownFrequency(t *testing.T) {
	_, err := NewRegistry().New(domain.StrategyConfig{
		Type:       domain.StrategyBuyAndHold,
		Parameters: map[string]any{"rebalance_frequency": "weekly"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSMACrossSignals(t *testing.T) {
	// Falling, then rising, then falling closes.
	closes := []float64{10, 9, 8, 7, 6, 7, 8, 9, 10, 11, 10, 9, 8, 7, 6}
	bars := testutil.BarsFromCloses("X", testutil.Date(2024, 1, 1), closes...)
	s := build(t, domain.StrategySMACross, map[string]any{"short_period": 2, "long_period": 4}, bars)

	buys, sells := replay(s, bars)
	require.Len(t, buys, 1)
	require.Len(t, sells, 1)
	assert.True(t, buys[0].Before(sells[0]))
	assert.Equal(t, bars[6].Date, buys[0])
	assert.Equal(t, bars[11].Date, sells[0])
}

func TestSMACrossRejectsBadWindows(t *testing.T) {
	_, err := NewRegistry().New(domain.StrategyConfig{
		Type:       domain.StrategySMACross,
		Parameters: map[string]any{"short_period": 10, "long_period": 5},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestBenchmarkConfigBuilds(t *testing.T) {
	_, err := NewRegistry().New(BenchmarkConfig())
	assert.NoError(t, err)
}
