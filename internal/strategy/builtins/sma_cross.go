package builtins

import (
	"context"

	"macrostrat/internal/domain"
	"macrostrat/internal/strategy"
	"macrostrat/internal/util"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

var smaCrossDescriptor = strategy.Descriptor{
	Type:        domain.StrategySMACross,
	Name:        "SMA Crossover",
	Description: "Buy when the short moving average crosses above the long one, sell when it crosses below.",
	Parameters: []strategy.ParamSpec{
		{Name: "short_period", Type: "integer", Default: 5, Description: "short moving average window in trading days"},
		{Name: "long_period", Type: "integer", Default: 20, Description: "long moving average window in trading days"},
		{Name: "target_allocation", Type: "number", Default: 1.0, Description: "fraction of portfolio value to buy, in (0, 1]"},
	},
}

// SMACross implements a simple moving average crossover strategy. It
// generates a buy signal when the short-period SMA crosses above the
// long-period SMA, and a sell signal when it crosses below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	target      float64
}

// NewSMACross builds an SMACross from parameters.
func NewSMACross(p strategy.Params) (*SMACross, error) {
	short, err := p.Int("short_period", 5)
	if err != nil {
		return nil, err
	}
	long, err := p.Int("long_period", 20)
	if err != nil {
		return nil, err
	}
	if short < 1 || long <= short {
		return nil, domain.Invalidf("sma_cross needs 1 <= short_period < long_period, got %d and %d", short, long)
	}
	target, err := p.Allocation("target_allocation", 1.0)
	if err != nil {
		return nil, err
	}
	return &SMACross{shortPeriod: short, longPeriod: long, target: target}, nil
}

// Name returns "sma_cross".
func (s *SMACross) Name() string { return string(domain.StrategySMACross) }

// Init is a no-op; the strategy only needs price history.
func (s *SMACross) Init(_ context.Context, _ *util.TradingCalendar) error { return nil }

// Decide compares today's and yesterday's averages.
func (s *SMACross) Decide(day int, history []domain.Bar, state domain.PortfolioState) domain.Signal {
	if day < s.longPeriod {
		return domain.Hold()
	}
	shortNow, longNow := sma(history, day, s.shortPeriod), sma(history, day, s.longPeriod)
	shortPrev, longPrev := sma(history, day-1, s.shortPeriod), sma(history, day-1, s.longPeriod)

	holding := state.Position.Quantity > 0
	switch {
	case !holding && shortPrev <= longPrev && shortNow > longNow:
		return domain.Buy(s.target, "golden cross")
	case holding && shortPrev >= longPrev && shortNow < longNow:
		return domain.Sell(1, "death cross")
	}
	return domain.Hold()
}

// sma averages the closes of the n bars ending at index end.
func sma(history []domain.Bar, end, n int) float64 {
	var sum float64
	for i := end - n + 1; i <= end; i++ {
		sum += history[i].Close
	}
	return sum / float64(n)
}
