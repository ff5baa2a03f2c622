package engine

import (
	"errors"
	"fmt"
	"math"

	"macrostrat/internal/domain"
)

// Reasons a signal is skipped rather than executed. They never fail a run.
var (
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrNoPosition       = errors.New("no position to sell")
	ErrAtTarget         = errors.New("position already at target")
)

// RiskManager sizes orders, enforces affordability, and applies the optional
// per-request overlay: a cap on position size and stop-loss / take-profit
// exits measured against the average entry price.
type RiskManager struct {
	maxPositionPct float64
	stopLoss       float64
	takeProfit     float64
}

// NewRiskManager builds a RiskManager from an optional overlay. A nil overlay
// allows full allocation and never forces exits.
func NewRiskManager(rm *domain.RiskManagement) (*RiskManager, error) {
	m := &RiskManager{maxPositionPct: 1}
	if rm == nil {
		return m, nil
	}
	if !domain.Finite(rm.MaxPositionSize, rm.StopLoss, rm.TakeProfit) {
		return nil, domain.Invalidf("risk_management values must be finite")
	}
	if rm.MaxPositionSize < 0 || rm.MaxPositionSize > 1 {
		return nil, domain.Invalidf("max_position_size must be in (0, 1], got %v", rm.MaxPositionSize)
	}
	if rm.StopLoss < 0 || rm.StopLoss >= 1 {
		return nil, domain.Invalidf("stop_loss must be in [0, 1), got %v", rm.StopLoss)
	}
	if rm.TakeProfit < 0 {
		return nil, domain.Invalidf("take_profit must not be negative, got %v", rm.TakeProfit)
	}
	if rm.MaxPositionSize > 0 {
		m.maxPositionPct = rm.MaxPositionSize
	}
	m.stopLoss = rm.StopLoss
	m.takeProfit = rm.TakeProfit
	return m, nil
}

// Review adjusts a strategy signal: buy targets are capped, and a hold turns
// into a full exit when the close breaches the stop-loss or take-profit
// level.
func (rm *RiskManager) Review(sig domain.Signal, acct domain.AccountInfo, price float64) domain.Signal {
	switch sig.Action {
	case domain.SignalBuy:
		if sig.TargetAllocation > rm.maxPositionPct {
			sig.TargetAllocation = rm.maxPositionPct
		}
	case domain.SignalHold:
		pos := acct.Position
		if pos.Quantity <= 0 || pos.AvgPrice <= 0 {
			return sig
		}
		if rm.stopLoss > 0 && price <= pos.AvgPrice*(1-rm.stopLoss) {
			return domain.Sell(1, "stop loss")
		}
		if rm.takeProfit > 0 && price >= pos.AvgPrice*(1+rm.takeProfit) {
			return domain.Sell(1, "take profit")
		}
	}
	return sig
}

// SizeBuy returns the whole quantity that brings the position up to target
// of account equity, shrunk so that amount plus commission fits in the
// outlay and in available cash.
func (rm *RiskManager) SizeBuy(target float64, acct domain.AccountInfo, price, commissionRate float64) (float64, error) {
	outlay := target*acct.Equity - acct.Position.MarketValue
	if outlay <= 0 {
		return 0, ErrAtTarget
	}
	if outlay > acct.Cash {
		outlay = acct.Cash
	}
	unit := price * (1 + commissionRate)
	qty := math.Floor(outlay / unit)
	if qty >= 1 && qty*unit > acct.Cash {
		qty--
	}
	if qty < 1 {
		return 0, fmt.Errorf("%w: outlay %.2f buys no whole unit at %.4f", ErrInsufficientCash, outlay, price)
	}
	return qty, nil
}

// SizeSell returns the quantity to sell for fraction of the held position.
// A fraction of one or more sells everything.
func (rm *RiskManager) SizeSell(fraction float64, acct domain.AccountInfo) (float64, error) {
	held := acct.Position.Quantity
	if held <= 0 {
		return 0, ErrNoPosition
	}
	if fraction >= 1 {
		return held, nil
	}
	qty := math.Floor(held * fraction)
	if qty < 1 {
		return 0, fmt.Errorf("%w: fraction %.4f of %.0f is below one unit", ErrNoPosition, fraction, held)
	}
	return qty, nil
}

// CheckOrder verifies that a filled trade is affordable for the account.
func (rm *RiskManager) CheckOrder(tr domain.Trade, acct domain.AccountInfo) error {
	switch tr.Action {
	case domain.OrderSideBuy:
		if tr.Amount+tr.Commission > acct.Cash {
			return fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, tr.Amount+tr.Commission, acct.Cash)
		}
	case domain.OrderSideSell:
		if tr.Quantity > acct.Position.Quantity {
			return fmt.Errorf("%w: selling %.0f of %.0f", ErrNoPosition, tr.Quantity, acct.Position.Quantity)
		}
	}
	return nil
}

// skippable reports whether err only means the signal cannot be executed
// today.
func skippable(err error) bool {
	return errors.Is(err, ErrInsufficientCash) || errors.Is(err, ErrNoPosition) || errors.Is(err, ErrAtTarget)
}
