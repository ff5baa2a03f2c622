// Package domain holds the core data model shared by the simulator, the
// comparator, storage, and the service layer.
package domain

import (
	"math"
	"time"
)

// ---------------------------------------------------------------------------
// Markets and assets
// ---------------------------------------------------------------------------

// Market identifies the exchange group an asset trades on.
type Market string

const (
	MarketCN Market = "cn"
	MarketUS Market = "us"
)

// ParseMarket accepts the canonical market names plus the "a_share" alias.
func ParseMarket(s string) (Market, bool) {
	switch s {
	case "cn", "a_share":
		return MarketCN, true
	case "us":
		return MarketUS, true
	}
	return "", false
}

// AssetClass categorises an asset.
type AssetClass string

const (
	AssetClassIndex  AssetClass = "index"
	AssetClassETF    AssetClass = "etf"
	AssetClassEquity AssetClass = "equity"
)

// Asset is a tradable instrument known to the catalog.
type Asset struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Symbol      string     `json:"symbol"`
	Market      Market     `json:"market_type"`
	AssetClass  AssetClass `json:"asset_class"`
	Currency    string     `json:"currency"`
	Description string     `json:"description,omitempty"`
}

// MarketInfo describes a market served by the catalog.
type MarketInfo struct {
	Type      Market `json:"type"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
	Timezone  string `json:"timezone"`
	OpenTime  string `json:"open_time"`
	CloseTime string `json:"close_time"`
}

// ---------------------------------------------------------------------------
// Price data
// ---------------------------------------------------------------------------

// Bar is one daily OHLCV row of a price series.
type Bar struct {
	Symbol string    `json:"symbol,omitempty"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
	Amount float64   `json:"amount,omitempty"`
}

// ---------------------------------------------------------------------------
// Signals, orders, and trades
// ---------------------------------------------------------------------------

// SignalAction is the kind of decision a strategy makes for a day.
type SignalAction string

const (
	SignalHold SignalAction = "hold"
	SignalBuy  SignalAction = "buy"
	SignalSell SignalAction = "sell"
)

// Signal is a strategy's decision for one trading day. A buy carries the
// fraction of portfolio value to hold in the asset; a sell carries the
// fraction of the held quantity to dispose of.
type Signal struct {
	Action           SignalAction `json:"action"`
	TargetAllocation float64      `json:"target_allocation,omitempty"`
	Fraction         float64      `json:"fraction,omitempty"`
	Reason           string       `json:"reason,omitempty"`
}

// Hold returns the no-op signal.
func Hold() Signal { return Signal{Action: SignalHold} }

// Buy returns a signal to hold target of portfolio value in the asset.
func Buy(target float64, reason string) Signal {
	return Signal{Action: SignalBuy, TargetAllocation: target, Reason: reason}
}

// Sell returns a signal to dispose of fraction of the held quantity.
func Sell(fraction float64, reason string) Signal {
	return Signal{Action: SignalSell, Fraction: fraction, Reason: reason}
}

// OrderSide is the direction of an order or trade.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Order is a sized instruction handed from the simulator to the broker.
type Order struct {
	Side   OrderSide
	Qty    float64
	Reason string
}

// Trade is an executed fill. Amount and Commission are derived from price,
// quantity, and the commission rate by NewTrade.
type Trade struct {
	Date       time.Time `json:"date"`
	Action     OrderSide `json:"action"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	Amount     float64   `json:"amount"`
	Commission float64   `json:"commission"`
	Reason     string    `json:"reason,omitempty"`
}

// NewTrade builds a trade with amount = price × quantity and
// commission = amount × commissionRate.
func NewTrade(date time.Time, side OrderSide, price, qty, commissionRate float64, reason string) Trade {
	amount := price * qty
	return Trade{
		Date:       date,
		Action:     side,
		Price:      price,
		Quantity:   qty,
		Amount:     amount,
		Commission: amount * commissionRate,
		Reason:     reason,
	}
}

// ---------------------------------------------------------------------------
// Portfolio state
// ---------------------------------------------------------------------------

// Position is the holding in the simulated asset.
type Position struct {
	Quantity      float64 `json:"quantity"`
	AvgPrice      float64 `json:"avg_price"`
	MarketValue   float64 `json:"market_value"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// AccountInfo is the pre-trade view of the simulated account used by risk
// checks.
type AccountInfo struct {
	Cash     float64
	Equity   float64
	Position Position
}

// PortfolioState is the end-of-day snapshot of one run.
type PortfolioState struct {
	Date             time.Time `json:"date"`
	Cash             float64   `json:"cash"`
	Position         Position  `json:"position"`
	PortfolioValue   float64   `json:"portfolio_value"`
	DailyReturn      float64   `json:"daily_return"`
	CumulativeReturn float64   `json:"cumulative_return"`
	Drawdown         float64   `json:"drawdown"`
}

// SkippedSignal records a signal that could not be executed.
type SkippedSignal struct {
	Date   time.Time    `json:"date"`
	Action SignalAction `json:"action"`
	Reason string       `json:"reason"`
}

// Finite reports whether every value is neither NaN nor infinite.
func Finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
