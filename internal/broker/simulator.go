package broker

import (
	"fmt"

	"macrostrat/internal/domain"
)

// DefaultCommissionRate is the commission charged when none is configured.
const DefaultCommissionRate = 0.0003

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker fills every order in full at the bar's close and charges a
// fixed commission rate. It holds no state, so one instance can serve many
// concurrent runs.
type SimulatorBroker struct {
	commissionRate float64
}

// NewSimulatorBroker creates a SimulatorBroker. A negative rate is rejected.
func NewSimulatorBroker(commissionRate float64) (*SimulatorBroker, error) {
	if commissionRate < 0 || !domain.Finite(commissionRate) {
		return nil, fmt.Errorf("commission rate must be a non-negative number, got %v", commissionRate)
	}
	return &SimulatorBroker{commissionRate: commissionRate}, nil
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// CommissionRate returns the configured commission rate.
func (b *SimulatorBroker) CommissionRate() float64 {
	return b.commissionRate
}

// Execute fills the order at bar.Close.
func (b *SimulatorBroker) Execute(order domain.Order, bar domain.Bar) (domain.Trade, error) {
	if order.Qty <= 0 {
		return domain.Trade{}, fmt.Errorf("order quantity must be positive, got %v", order.Qty)
	}
	if bar.Close <= 0 {
		return domain.Trade{}, fmt.Errorf("cannot fill at non-positive price %v", bar.Close)
	}
	return domain.NewTrade(bar.Date, order.Side, bar.Close, order.Qty, b.commissionRate, order.Reason), nil
}
