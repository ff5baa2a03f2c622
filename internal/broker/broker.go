// Package broker defines the Broker interface the simulator fills orders
// through, and the simulated implementation used for backtests.
package broker

import (
	"macrostrat/internal/domain"
)

// Broker turns sized orders into trades.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// CommissionRate returns the fraction of traded amount charged per fill.
	CommissionRate() float64

	// Execute fills order against bar and returns the resulting trade.
	Execute(order domain.Order, bar domain.Bar) (domain.Trade, error)
}
