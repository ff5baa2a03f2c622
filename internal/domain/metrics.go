package domain

// Metric names accepted by ranking and reporting options.
const (
	MetricTotalReturn         = "total_return"
	MetricAnnualizedReturn    = "annualized_return"
	MetricMaxDrawdown         = "max_drawdown"
	MetricSharpeRatio         = "sharpe_ratio"
	MetricWinRate             = "win_rate"
	MetricTotalTrades         = "total_trades"
	MetricVolatility          = "volatility"
	MetricSortinoRatio        = "sortino_ratio"
	MetricCalmarRatio         = "calmar_ratio"
	MetricProfitFactor        = "profit_factor"
	MetricMaxDrawdownDuration = "max_drawdown_duration"
)

// DefaultComparisonMetrics is used when a comparison names no metrics.
var DefaultComparisonMetrics = []string{
	MetricTotalReturn,
	MetricAnnualizedReturn,
	MetricMaxDrawdown,
	MetricSharpeRatio,
}

// Value returns the named metric.
func (m PerformanceMetrics) Value(name string) (float64, bool) {
	switch name {
	case MetricTotalReturn:
		return m.TotalReturn, true
	case MetricAnnualizedReturn:
		return m.AnnualizedReturn, true
	case MetricMaxDrawdown:
		return m.MaxDrawdown, true
	case MetricSharpeRatio:
		return m.SharpeRatio, true
	case MetricWinRate:
		return m.WinRate, true
	case MetricTotalTrades:
		return float64(m.TotalTrades), true
	case MetricVolatility:
		return m.Volatility, true
	case MetricSortinoRatio:
		return m.SortinoRatio, true
	case MetricCalmarRatio:
		return m.CalmarRatio, true
	case MetricProfitFactor:
		return m.ProfitFactor, true
	case MetricMaxDrawdownDuration:
		return float64(m.MaxDrawdownDuration), true
	}
	return 0, false
}

// LowerIsBetter reports whether smaller values of the metric rank higher.
func LowerIsBetter(name string) bool {
	switch name {
	case MetricMaxDrawdown, MetricVolatility, MetricMaxDrawdownDuration:
		return true
	}
	return false
}

// IsPercentMetric reports whether the metric is a fraction best shown as a
// percentage.
func IsPercentMetric(name string) bool {
	switch name {
	case MetricTotalReturn, MetricAnnualizedReturn, MetricMaxDrawdown, MetricWinRate, MetricVolatility:
		return true
	}
	return false
}
