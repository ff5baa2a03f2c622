package builtins

import (
	"context"
	"math"

	"macrostrat/internal/domain"
	"macrostrat/internal/strategy"
	"macrostrat/internal/util"
)

var _ strategy.Strategy = (*BuyAndHold)(nil)

var buyAndHoldDescriptor = strategy.Descriptor{
	Type:        domain.StrategyBuyAndHold,
	Name:        "Buy and Hold",
	Description: "Invest target_allocation of the portfolio on the first tradable day and hold, optionally rebalancing on period starts.",
	Parameters: []strategy.ParamSpec{
		{Name: "target_allocation", Type: "number", Default: 1.0, Description: "fraction of portfolio value to hold, in (0, 1]"},
		{Name: "rebalance_frequency", Type: "string", Default: "never", Description: "never, monthly, quarterly or yearly"},
		{Name: "rebalance_threshold", Type: "number", Default: 0.05, Description: "weight drift that triggers a rebalance"},
	},
}

// BuyAndHold buys once and holds. With a rebalance frequency it restores the
// target weight on the first trading day of each period when the weight has
// drifted past the threshold.
type BuyAndHold struct {
	target    float64
	frequency string
	threshold float64
	cal       *util.TradingCalendar
	entered   bool
}

// NewBuyAndHold builds a BuyAndHold from parameters.
func NewBuyAndHold(p strategy.Params) (*BuyAndHold, error) {
	target, err := p.Allocation("target_allocation", 1.0)
	if err != nil {
		return nil, err
	}
	freq, err := p.String("rebalance_frequency", "never")
	if err != nil {
		return nil, err
	}
	switch freq {
	case "never", string(util.PeriodMonth), string(util.PeriodQuarter), string(util.PeriodYear):
	default:
		return nil, domain.Invalidf("rebalance_frequency %q is not one of never, monthly, quarterly, yearly", freq)
	}
	threshold, err := p.Float("rebalance_threshold", 0.05)
	if err != nil {
		return nil, err
	}
	if threshold < 0 {
		return nil, domain.Invalidf("rebalance_threshold must not be negative")
	}
	return &BuyAndHold{target: target, frequency: freq, threshold: threshold}, nil
}

// Name returns "buy_and_hold".
func (s *BuyAndHold) Name() string { return string(domain.StrategyBuyAndHold) }

// Init stores the calendar used for rebalance dates.
func (s *BuyAndHold) Init(_ context.Context, cal *util.TradingCalendar) error {
	s.cal = cal
	s.entered = false
	return nil
}

// Decide buys on the first day it can fill and holds afterwards, except on
// rebalance days. A position closed by the risk overlay stays closed.
func (s *BuyAndHold) Decide(day int, _ []domain.Bar, state domain.PortfolioState) domain.Signal {
	if state.Position.Quantity == 0 {
		if s.entered {
			return domain.Hold()
		}
		return domain.Buy(s.target, "initial allocation")
	}
	s.entered = true
	if s.frequency == "never" || day == 0 || !s.cal.StartsPeriod(day, util.Period(s.frequency)) {
		return domain.Hold()
	}
	if state.PortfolioValue <= 0 {
		return domain.Hold()
	}

	weight := state.Position.MarketValue / state.PortfolioValue
	if math.Abs(weight-s.target) <= s.threshold {
		return domain.Hold()
	}
	if weight > s.target {
		return domain.Sell((weight-s.target)/weight, "rebalance down")
	}
	return domain.Buy(s.target, "rebalance up")
}
