// Package metrics derives performance statistics from a finished run. Every
// figure is recomputed from the daily states and the trade log; nothing is
// accumulated during simulation.
package metrics

import (
	"fmt"
	"math"

	"macrostrat/internal/domain"
)

// TradingDaysPerYear annualises daily statistics.
const TradingDaysPerYear = 252

// RoundTrip is a buy matched with a later sell.
type RoundTrip struct {
	Buy  domain.Trade
	Sell domain.Trade
	PnL  float64
}

// RoundTrips pairs trades first-in first-out: the i-th buy with the i-th
// sell, in the order each occurred. Unmatched trailing buys are dropped.
// PnL is (sell price - buy price) × buy quantity less both commissions.
func RoundTrips(trades []domain.Trade) []RoundTrip {
	var buys, sells []domain.Trade
	for _, t := range trades {
		switch t.Action {
		case domain.OrderSideBuy:
			buys = append(buys, t)
		case domain.OrderSideSell:
			sells = append(sells, t)
		}
	}
	n := min(len(buys), len(sells))
	trips := make([]RoundTrip, n)
	for i := 0; i < n; i++ {
		b, s := buys[i], sells[i]
		trips[i] = RoundTrip{
			Buy:  b,
			Sell: s,
			PnL:  (s.Price-b.Price)*b.Quantity - b.Commission - s.Commission,
		}
	}
	return trips
}

// Compute derives PerformanceMetrics from a run's daily states and trades.
func Compute(states []domain.PortfolioState, trades []domain.Trade) (domain.PerformanceMetrics, error) {
	var m domain.PerformanceMetrics
	if len(states) == 0 {
		return m, fmt.Errorf("%w: no portfolio states", domain.ErrInvalidPriceSeries)
	}
	first, last := states[0], states[len(states)-1]
	if first.PortfolioValue <= 0 {
		return m, fmt.Errorf("%w: starting portfolio value %v", domain.ErrNumericInstability, first.PortfolioValue)
	}

	m.TradingDays = len(states)
	m.StartValue = first.PortfolioValue
	m.EndValue = last.PortfolioValue
	m.TotalReturn = last.PortfolioValue/first.PortfolioValue - 1
	m.AnnualizedReturn = annualize(m.TotalReturn, calendarDays(first, last))
	m.MaxDrawdown, m.MaxDrawdownDuration = drawdown(states)

	returns := make([]float64, 0, len(states)-1)
	for _, s := range states[1:] {
		returns = append(returns, s.DailyReturn)
	}
	mean, sd := meanStd(returns)
	if sd > 0 {
		m.SharpeRatio = mean / sd * math.Sqrt(TradingDaysPerYear)
	}
	m.Volatility = sd * math.Sqrt(TradingDaysPerYear)
	if dd := downsideDeviation(returns); dd > 0 {
		m.SortinoRatio = mean / dd * math.Sqrt(TradingDaysPerYear)
	}
	if m.MaxDrawdown > 0 {
		m.CalmarRatio = m.AnnualizedReturn / m.MaxDrawdown
	}

	m.TotalTrades = len(trades)
	tradeStats(&m, RoundTrips(trades))

	if !domain.Finite(m.TotalReturn, m.AnnualizedReturn, m.MaxDrawdown, m.SharpeRatio, m.WinRate,
		m.Volatility, m.SortinoRatio, m.CalmarRatio, m.ProfitFactor, m.AvgWin, m.AvgLoss,
		m.LargestWin, m.LargestLoss, m.StartValue, m.EndValue) {
		return m, fmt.Errorf("%w: performance metrics", domain.ErrNumericInstability)
	}
	return m, nil
}

func tradeStats(m *domain.PerformanceMetrics, trips []RoundTrip) {
	m.RoundTrips = len(trips)
	if len(trips) == 0 {
		return
	}
	var grossProfit, grossLoss float64
	for _, rt := range trips {
		switch {
		case rt.PnL > 0:
			m.WinningTrades++
			grossProfit += rt.PnL
			m.LargestWin = math.Max(m.LargestWin, rt.PnL)
		case rt.PnL < 0:
			m.LosingTrades++
			grossLoss -= rt.PnL
			m.LargestLoss = math.Min(m.LargestLoss, rt.PnL)
		}
	}
	m.WinRate = float64(m.WinningTrades) / float64(len(trips))
	if m.WinningTrades > 0 {
		m.AvgWin = grossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = -grossLoss / float64(m.LosingTrades)
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	}
}

// annualize compounds totalReturn over a year of calendar days.
func annualize(totalReturn float64, days int) float64 {
	if days <= 0 {
		return 0
	}
	return math.Pow(1+totalReturn, 365/float64(days)) - 1
}

// drawdown returns the largest peak-to-trough decline and the longest span,
// in trading days, spent below a previous peak.
func drawdown(states []domain.PortfolioState) (maxDD float64, longest int) {
	peak := states[0].PortfolioValue
	peakIdx := 0
	for i, s := range states {
		if s.PortfolioValue >= peak {
			peak = s.PortfolioValue
			peakIdx = i
			continue
		}
		if dd := 1 - s.PortfolioValue/peak; dd > maxDD {
			maxDD = dd
		}
		if span := i - peakIdx; span > longest {
			longest = span
		}
	}
	return maxDD, longest
}

// meanStd returns the mean and the sample standard deviation.
func meanStd(xs []float64) (mean, sd float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}

func downsideDeviation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var ss float64
	for _, x := range xs {
		if x < 0 {
			ss += x * x
		}
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func calendarDays(a, b domain.PortfolioState) int {
	return int(math.Round(b.Date.Sub(a.Date).Hours() / 24))
}

// Correlation returns the Pearson correlation of two equally long series, or
// 0 when either is constant.
func Correlation(x, y []float64) float64 {
	n := min(len(x), len(y))
	if n < 2 {
		return 0
	}
	mx, sx := meanStd(x[:n])
	my, sy := meanStd(y[:n])
	if sx == 0 || sy == 0 {
		return 0
	}
	var cov float64
	for i := 0; i < n; i++ {
		cov += (x[i] - mx) * (y[i] - my)
	}
	cov /= float64(n - 1)
	return cov / (sx * sy)
}
