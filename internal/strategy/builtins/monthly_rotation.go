package builtins

import (
	"context"

	"macrostrat/internal/domain"
	"macrostrat/internal/strategy"
	"macrostrat/internal/util"
)

var (
	_ strategy.Strategy   = (*MonthlyRotation)(nil)
	_ strategy.Liquidator = (*MonthlyRotation)(nil)
)

var monthlyRotationDescriptor = strategy.Descriptor{
	Type:        domain.StrategyMonthlyRotation,
	Name:        "Monthly Rotation",
	Description: "Buy near each month end and sell shortly after the next month starts, using the series' own trading days.",
	Parameters: []strategy.ParamSpec{
		{Name: "buy_days_before_month_end", Type: "integer", Default: 1, Description: "trading day counted back from the month's last row (1 = last row)"},
		{Name: "sell_days_after_month_start", Type: "integer", Default: 1, Description: "trading day counted from the month's first row (1 = first row)"},
		{Name: "target_allocation", Type: "number", Default: 1.0, Description: "fraction of portfolio value to buy, in (0, 1]"},
		{Name: "close_at_end", Type: "boolean", Default: true, Description: "liquidate an open position on the final trading day"},
	},
}

// MonthlyRotation holds the asset across month boundaries. It buys on the
// buyBefore-th trading day counted back from a month's last row and sells on
// the sellAfter-th trading day of the month. Month rows are those of the
// price series, so a partial first or last month is measured by the rows it
// actually has.
type MonthlyRotation struct {
	buyBefore  int
	sellAfter  int
	target     float64
	closeAtEnd bool
	cal        *util.TradingCalendar
}

// NewMonthlyRotation builds a MonthlyRotation from parameters.
func NewMonthlyRotation(p strategy.Params) (*MonthlyRotation, error) {
	buyBefore, err := p.Int("buy_days_before_month_end", 1)
	if err != nil {
		return nil, err
	}
	sellAfter, err := p.Int("sell_days_after_month_start", 1)
	if err != nil {
		return nil, err
	}
	if buyBefore < 1 || sellAfter < 1 {
		return nil, domain.Invalidf("buy_days_before_month_end and sell_days_after_month_start must be at least 1")
	}
	target, err := p.Allocation("target_allocation", 1.0)
	if err != nil {
		return nil, err
	}
	closeAtEnd, err := p.Bool("close_at_end", true)
	if err != nil {
		return nil, err
	}
	return &MonthlyRotation{
		buyBefore:  buyBefore,
		sellAfter:  sellAfter,
		target:     target,
		closeAtEnd: closeAtEnd,
	}, nil
}

// Name returns "monthly_rotation".
func (s *MonthlyRotation) Name() string { return string(domain.StrategyMonthlyRotation) }

// Init stores the calendar used to locate month boundaries.
func (s *MonthlyRotation) Init(_ context.Context, cal *util.TradingCalendar) error {
	s.cal = cal
	return nil
}

// LiquidateAtEnd reports whether the run should close the position on the
// last trading day.
func (s *MonthlyRotation) LiquidateAtEnd() bool { return s.closeAtEnd }

// Decide sells on the exit day when holding and buys on the entry day when
// flat.
func (s *MonthlyRotation) Decide(day int, _ []domain.Bar, state domain.PortfolioState) domain.Signal {
	holding := state.Position.Quantity > 0
	if holding && s.cal.DayOfMonth(day) == s.sellAfter {
		return domain.Sell(1, "month start exit")
	}
	if !holding && s.cal.DaysToMonthEnd(day) == s.buyBefore {
		return domain.Buy(s.target, "month end entry")
	}
	return domain.Hold()
}
