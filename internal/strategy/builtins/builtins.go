// Package builtins provides the strategy implementations that ship with
// macrostrat.
package builtins

import (
	"macrostrat/internal/domain"
	"macrostrat/internal/strategy"
)

// Register adds every built-in strategy to r.
func Register(r *strategy.Registry) {
	r.Register(buyAndHoldDescriptor, func(p strategy.Params) (strategy.Strategy, error) {
		return NewBuyAndHold(p)
	})
	r.Register(monthlyRotationDescriptor, func(p strategy.Params) (strategy.Strategy, error) {
		return NewMonthlyRotation(p)
	})
	r.Register(smaCrossDescriptor, func(p strategy.Params) (strategy.Strategy, error) {
		return NewSMACross(p)
	})
}

// NewRegistry returns a Registry holding all built-in strategies.
func NewRegistry() *strategy.Registry {
	r := strategy.NewRegistry()
	Register(r)
	return r
}

// BenchmarkConfig is the configuration used for benchmark runs: buy and hold
// the whole portfolio, never rebalance.
func BenchmarkConfig() domain.StrategyConfig {
	return domain.StrategyConfig{
		Type: domain.StrategyBuyAndHold,
		Name: "benchmark",
		Parameters: map[string]any{
			"target_allocation":   1.0,
			"rebalance_frequency": "never",
		},
	}
}
