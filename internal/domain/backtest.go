package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// StrategyType tags a strategy variant.
type StrategyType string

const (
	StrategyBuyAndHold      StrategyType = "buy_and_hold"
	StrategyMonthlyRotation StrategyType = "monthly_rotation"
	StrategySMACross        StrategyType = "sma_cross"
)

// StrategyConfig selects a strategy variant and its parameters.
type StrategyConfig struct {
	Type        StrategyType   `json:"type"`
	Name        string         `json:"name,omitempty"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// RiskManagement is an optional per-request overlay applied by the simulator.
type RiskManagement struct {
	MaxPositionSize float64 `json:"max_position_size,omitempty"`
	StopLoss        float64 `json:"stop_loss,omitempty"`
	TakeProfit      float64 `json:"take_profit,omitempty"`
}

// BacktestRequest describes one single-strategy run.
type BacktestRequest struct {
	AssetID        string          `json:"asset_id"`
	Strategy       StrategyConfig  `json:"strategy"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	InitialCash    float64         `json:"initial_cash"`
	RiskManagement *RiskManagement `json:"risk_management,omitempty"`
}

// UnmarshalJSON accepts YYYY-MM-DD or RFC 3339 dates and the index_id alias.
func (r *BacktestRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		AssetID        string          `json:"asset_id"`
		IndexID        string          `json:"index_id"`
		Strategy       StrategyConfig  `json:"strategy"`
		StartDate      string          `json:"start_date"`
		EndDate        string          `json:"end_date"`
		InitialCash    float64         `json:"initial_cash"`
		RiskManagement *RiskManagement `json:"risk_management"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := ParseDate(raw.StartDate)
	if err != nil {
		return fmt.Errorf("start_date: %w", err)
	}
	end, err := ParseDate(raw.EndDate)
	if err != nil {
		return fmt.Errorf("end_date: %w", err)
	}
	*r = BacktestRequest{
		AssetID:        firstNonEmpty(raw.AssetID, raw.IndexID),
		Strategy:       raw.Strategy,
		StartDate:      start,
		EndDate:        end,
		InitialCash:    raw.InitialCash,
		RiskManagement: raw.RiskManagement,
	}
	return nil
}

// PerformanceMetrics are derived from a finished run's trades and daily
// states. Round-trip figures use FIFO pairing of buys and sells.
type PerformanceMetrics struct {
	TotalReturn         float64 `json:"total_return"`
	AnnualizedReturn    float64 `json:"annualized_return"`
	MaxDrawdown         float64 `json:"max_drawdown"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
	WinRate             float64 `json:"win_rate"`
	TotalTrades         int     `json:"total_trades"`
	Volatility          float64 `json:"volatility"`
	SortinoRatio        float64 `json:"sortino_ratio"`
	CalmarRatio         float64 `json:"calmar_ratio"`
	ProfitFactor        float64 `json:"profit_factor"`
	RoundTrips          int     `json:"round_trips"`
	WinningTrades       int     `json:"winning_trades"`
	LosingTrades        int     `json:"losing_trades"`
	AvgWin              float64 `json:"avg_win"`
	AvgLoss             float64 `json:"avg_loss"`
	LargestWin          float64 `json:"largest_win"`
	LargestLoss         float64 `json:"largest_loss"`
	MaxDrawdownDuration int     `json:"max_drawdown_duration"`
	TradingDays         int     `json:"trading_days"`
	StartValue          float64 `json:"start_value"`
	EndValue            float64 `json:"end_value"`
}

// BacktestResult is the immutable outcome of one simulation pass.
type BacktestResult struct {
	ID                 string             `json:"id"`
	Request            BacktestRequest    `json:"request"`
	Asset              *Asset             `json:"asset,omitempty"`
	Trades             []Trade            `json:"trades"`
	DailyReturns       []PortfolioState   `json:"daily_returns"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	SkippedSignals     []SkippedSignal    `json:"skipped_signals,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	DurationMS         int64              `json:"duration_ms"`
}

// ---------------------------------------------------------------------------
// Multi-strategy comparison
// ---------------------------------------------------------------------------

// ComparisonOptions tunes ranking and reporting for a comparison.
type ComparisonOptions struct {
	RankBy            string   `json:"rank_by,omitempty"`
	Metrics           []string `json:"metrics,omitempty"`
	ShowBenchmark     *bool    `json:"show_benchmark,omitempty"`
	BenchmarkEligible bool     `json:"benchmark_eligible,omitempty"`
	ShowCorrelation   bool     `json:"show_correlation,omitempty"`
}

// BenchmarkShown reports whether the benchmark enters the ranking. It
// defaults to true when unset.
func (o *ComparisonOptions) BenchmarkShown() bool {
	if o == nil || o.ShowBenchmark == nil {
		return true
	}
	return *o.ShowBenchmark
}

// MultiBacktestRequest runs several strategies over one asset and period.
type MultiBacktestRequest struct {
	AssetID       string             `json:"asset_id"`
	Strategies    []StrategyConfig   `json:"strategies"`
	StartDate     time.Time          `json:"start_date"`
	EndDate       time.Time          `json:"end_date"`
	InitialCash   float64            `json:"initial_cash"`
	Benchmark     string             `json:"benchmark,omitempty"`
	ComparisonOpt *ComparisonOptions `json:"comparison_opt,omitempty"`
}

// UnmarshalJSON accepts YYYY-MM-DD or RFC 3339 dates and the index_id alias.
func (r *MultiBacktestRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		AssetID       string             `json:"asset_id"`
		IndexID       string             `json:"index_id"`
		Strategies    []StrategyConfig   `json:"strategies"`
		StartDate     string             `json:"start_date"`
		EndDate       string             `json:"end_date"`
		InitialCash   float64            `json:"initial_cash"`
		Benchmark     string             `json:"benchmark"`
		ComparisonOpt *ComparisonOptions `json:"comparison_opt"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	start, err := ParseDate(raw.StartDate)
	if err != nil {
		return fmt.Errorf("start_date: %w", err)
	}
	end, err := ParseDate(raw.EndDate)
	if err != nil {
		return fmt.Errorf("end_date: %w", err)
	}
	*r = MultiBacktestRequest{
		AssetID:       firstNonEmpty(raw.AssetID, raw.IndexID),
		Strategies:    raw.Strategies,
		StartDate:     start,
		EndDate:       end,
		InitialCash:   raw.InitialCash,
		Benchmark:     raw.Benchmark,
		ComparisonOpt: raw.ComparisonOpt,
	}
	return nil
}

// RankedEntry is one row of the ranked comparison.
type RankedEntry struct {
	Rank         int                `json:"rank"`
	Name         string             `json:"name"`
	StrategyType StrategyType       `json:"strategy_type"`
	Benchmark    bool               `json:"benchmark,omitempty"`
	Value        float64            `json:"value"`
	Metrics      PerformanceMetrics `json:"metrics"`
}

// CorrelationMatrix holds pairwise Pearson correlations of daily returns.
type CorrelationMatrix struct {
	Names  []string    `json:"names"`
	Values [][]float64 `json:"values"`
}

// Comparison is the ranked synopsis of a multi-strategy batch.
type Comparison struct {
	RankBy            string                        `json:"rank_by"`
	BestStrategy      string                        `json:"best_strategy"`
	WorstStrategy     string                        `json:"worst_strategy"`
	Summary           string                        `json:"summary"`
	RankedMetrics     []RankedEntry                 `json:"ranked_metrics"`
	MetricsTable      map[string]map[string]float64 `json:"metrics_table,omitempty"`
	Rankings          map[string][]string           `json:"rankings,omitempty"`
	CorrelationMatrix *CorrelationMatrix            `json:"correlation_matrix,omitempty"`
}

// MultiBacktestResult is the outcome of a comparison batch. Results keep the
// order of the requested strategies.
type MultiBacktestResult struct {
	ID         string               `json:"id"`
	Request    MultiBacktestRequest `json:"request"`
	Results    []BacktestResult     `json:"results"`
	Names      []string             `json:"names"`
	Benchmark  *BacktestResult      `json:"benchmark,omitempty"`
	Comparison Comparison           `json:"comparison"`
	CreatedAt  time.Time            `json:"created_at"`
	DurationMS int64                `json:"duration_ms"`
}

// ---------------------------------------------------------------------------
// Dates
// ---------------------------------------------------------------------------

// ParseDate parses YYYY-MM-DD, YYYYMMDD, or RFC 3339. An empty string yields
// the zero time.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02", "20060102", time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q", ErrInvalidRequest, s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// BacktestSummary is the listing view of a stored single-strategy run.
type BacktestSummary struct {
	ID           string       `json:"id"`
	AssetID      string       `json:"asset_id"`
	StrategyType StrategyType `json:"strategy_type"`
	StartDate    time.Time    `json:"start_date"`
	EndDate      time.Time    `json:"end_date"`
	TotalReturn  float64      `json:"total_return"`
	CreatedAt    time.Time    `json:"created_at"`
}
