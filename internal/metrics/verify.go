package metrics

import (
	"fmt"
	"math"

	"macrostrat/internal/domain"
)

// Tolerances used by Verify.
const (
	valueTolerance  = 1e-6
	returnTolerance = 1e-4
	winTolerance    = 1e-3
)

// Verify re-derives the checked properties of a stored run and reports the
// first violation: day-0 return is exactly zero, every day's value equals
// cash plus position value, and the stored total return and win rate match
// a fresh computation from the same states and trades.
func Verify(states []domain.PortfolioState, trades []domain.Trade, m domain.PerformanceMetrics) error {
	if len(states) == 0 {
		return fmt.Errorf("%w: no portfolio states", domain.ErrInvalidPriceSeries)
	}
	if states[0].DailyReturn != 0 {
		return fmt.Errorf("%w: day 0 return is %v", domain.ErrNumericInstability, states[0].DailyReturn)
	}
	for i, s := range states {
		if diff := math.Abs(s.PortfolioValue - (s.Cash + s.Position.MarketValue)); !(diff < valueTolerance) {
			return fmt.Errorf("%w: day %d value %v differs from cash+position by %v",
				domain.ErrNumericInstability, i, s.PortfolioValue, diff)
		}
	}

	fresh, err := Compute(states, trades)
	if err != nil {
		return err
	}
	if d := math.Abs(fresh.TotalReturn - m.TotalReturn); !(d < returnTolerance) {
		return fmt.Errorf("%w: total return %v drifted from %v", domain.ErrNumericInstability, m.TotalReturn, fresh.TotalReturn)
	}
	if d := math.Abs(fresh.WinRate - m.WinRate); !(d < winTolerance) {
		return fmt.Errorf("%w: win rate %v drifted from %v", domain.ErrNumericInstability, m.WinRate, fresh.WinRate)
	}
	if fresh.TotalTrades != m.TotalTrades {
		return fmt.Errorf("%w: total trades %d, log has %d", domain.ErrNumericInstability, m.TotalTrades, fresh.TotalTrades)
	}
	return nil
}
