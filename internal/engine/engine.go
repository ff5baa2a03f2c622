// Package engine is the portfolio simulator: it replays a price series
// through a strategy, turns signals into affordable trades, and records one
// portfolio state per trading day.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"macrostrat/internal/broker"
	"macrostrat/internal/domain"
	"macrostrat/internal/strategy"
	"macrostrat/internal/util"
)

// Run is the raw output of one simulation pass.
type Run struct {
	Trades  []domain.Trade
	States  []domain.PortfolioState
	Skipped []domain.SkippedSignal
}

// Simulator executes single-asset, long-only simulations. It holds only
// configuration, so one Simulator may run many simulations concurrently.
type Simulator struct {
	broker     broker.Broker
	maxGapDays int
	log        *slog.Logger
}

// NewSimulator creates a Simulator filling through b. maxGapDays bounds the
// calendar gap tolerated between consecutive bars (0 disables the check).
func NewSimulator(b broker.Broker, maxGapDays int, log *slog.Logger) *Simulator {
	if log == nil {
		log = util.Discard()
	}
	return &Simulator{
		broker:     b,
		maxGapDays: maxGapDays,
		log:        log.With("component", "simulator"),
	}
}

// book is the mutable cash and position of one run.
type book struct {
	cash     float64
	qty      float64
	avgPrice float64
}

func (b *book) account(price float64) domain.AccountInfo {
	mv := b.qty * price
	return domain.AccountInfo{
		Cash:   b.cash,
		Equity: b.cash + mv,
		Position: domain.Position{
			Quantity:      b.qty,
			AvgPrice:      b.avgPrice,
			MarketValue:   mv,
			UnrealizedPnL: (price - b.avgPrice) * b.qty,
		},
	}
}

// Run simulates strat over bars starting from initialCash. The series is
// validated before any trade is recorded. risk may be nil.
func (s *Simulator) Run(ctx context.Context, strat strategy.Strategy, bars []domain.Bar, initialCash float64, risk *RiskManager) (*Run, error) {
	if err := ValidateSeries(bars, s.maxGapDays); err != nil {
		return nil, err
	}
	if initialCash <= 0 || !domain.Finite(initialCash) {
		return nil, domain.Invalidf("initial cash must be positive, got %v", initialCash)
	}
	if risk == nil {
		risk, _ = NewRiskManager(nil)
	}

	cal := util.NewTradingCalendar(barDates(bars))
	if err := strat.Init(ctx, cal); err != nil {
		return nil, fmt.Errorf("initialising %s: %w", strat.Name(), err)
	}
	var liquidate bool
	if l, ok := strat.(strategy.Liquidator); ok {
		liquidate = l.LiquidateAtEnd()
	}

	run := &Run{States: make([]domain.PortfolioState, 0, len(bars))}
	bk := &book{cash: initialCash}
	var peak float64

	for i, bar := range bars {
		acct := bk.account(bar.Close)
		pre := domain.PortfolioState{
			Date:           bar.Date,
			Cash:           acct.Cash,
			Position:       acct.Position,
			PortfolioValue: acct.Equity,
		}

		// The capped slice keeps later bars out of reach.
		sig := strat.Decide(i, bars[:i+1:i+1], pre)
		sig = risk.Review(sig, acct, bar.Close)
		if err := s.apply(run, bk, risk, strat.Name(), sig, bar); err != nil {
			return nil, err
		}

		if liquidate && i == len(bars)-1 && bk.qty > 0 {
			if err := s.apply(run, bk, risk, strat.Name(), domain.Sell(1, "end of period"), bar); err != nil {
				return nil, err
			}
		}

		state, err := s.snapshot(run, bk, bar, &peak)
		if err != nil {
			return nil, err
		}
		run.States = append(run.States, state)
	}

	s.log.Debug("simulation finished",
		"strategy", strat.Name(),
		"days", len(run.States),
		"trades", len(run.Trades),
		"skipped", len(run.Skipped),
	)
	return run, nil
}

// apply executes one signal against the book. Unaffordable or empty orders
// are recorded as skipped; anything else that goes wrong fails the run.
func (s *Simulator) apply(run *Run, bk *book, risk *RiskManager, name string, sig domain.Signal, bar domain.Bar) error {
	if sig.Action == domain.SignalHold || sig.Action == "" {
		return nil
	}
	acct := bk.account(bar.Close)

	var order domain.Order
	switch sig.Action {
	case domain.SignalBuy:
		if !domain.Finite(sig.TargetAllocation) {
			return fmt.Errorf("%w: %s buy target %v on %s", domain.ErrNumericInstability, name, sig.TargetAllocation, bar.Date.Format("2006-01-02"))
		}
		if sig.TargetAllocation <= 0 || sig.TargetAllocation > 1 {
			return fmt.Errorf("%s emitted buy target %v outside (0, 1]", name, sig.TargetAllocation)
		}
		qty, err := risk.SizeBuy(sig.TargetAllocation, acct, bar.Close, s.broker.CommissionRate())
		if err != nil {
			return s.skip(run, name, sig, bar, err)
		}
		order = domain.Order{Side: domain.OrderSideBuy, Qty: qty, Reason: sig.Reason}
	case domain.SignalSell:
		if !domain.Finite(sig.Fraction) {
			return fmt.Errorf("%w: %s sell fraction %v on %s", domain.ErrNumericInstability, name, sig.Fraction, bar.Date.Format("2006-01-02"))
		}
		if sig.Fraction <= 0 {
			return fmt.Errorf("%s emitted non-positive sell fraction %v", name, sig.Fraction)
		}
		qty, err := risk.SizeSell(sig.Fraction, acct)
		if err != nil {
			return s.skip(run, name, sig, bar, err)
		}
		order = domain.Order{Side: domain.OrderSideSell, Qty: qty, Reason: sig.Reason}
	default:
		return fmt.Errorf("%s emitted unknown signal %q", name, sig.Action)
	}

	tr, err := s.broker.Execute(order, bar)
	if err != nil {
		return fmt.Errorf("executing %s order on %s: %w", order.Side, bar.Date.Format("2006-01-02"), err)
	}
	if err := risk.CheckOrder(tr, acct); err != nil {
		return s.skip(run, name, sig, bar, err)
	}

	switch tr.Action {
	case domain.OrderSideBuy:
		bk.cash -= tr.Amount + tr.Commission
		bk.avgPrice = (bk.avgPrice*bk.qty + tr.Amount) / (bk.qty + tr.Quantity)
		bk.qty += tr.Quantity
	case domain.OrderSideSell:
		bk.cash += tr.Amount - tr.Commission
		bk.qty -= tr.Quantity
		if bk.qty == 0 {
			bk.avgPrice = 0
		}
	}
	run.Trades = append(run.Trades, tr)
	return nil
}

func (s *Simulator) skip(run *Run, name string, sig domain.Signal, bar domain.Bar, reason error) error {
	if !skippable(reason) {
		return reason
	}
	run.Skipped = append(run.Skipped, domain.SkippedSignal{
		Date:   bar.Date,
		Action: sig.Action,
		Reason: reason.Error(),
	})
	s.log.Debug("signal skipped",
		"strategy", name,
		"date", bar.Date.Format("2006-01-02"),
		"action", sig.Action,
		"reason", reason,
	)
	return nil
}

// snapshot values the book at the bar's close.
func (s *Simulator) snapshot(run *Run, bk *book, bar domain.Bar, peak *float64) (domain.PortfolioState, error) {
	acct := bk.account(bar.Close)
	state := domain.PortfolioState{
		Date:           bar.Date,
		Cash:           acct.Cash,
		Position:       acct.Position,
		PortfolioValue: acct.Equity,
	}

	if n := len(run.States); n > 0 {
		prev := run.States[n-1].PortfolioValue
		first := run.States[0].PortfolioValue
		if prev <= 0 || first <= 0 {
			return state, fmt.Errorf("%w: non-positive portfolio value before %s", domain.ErrNumericInstability, bar.Date.Format("2006-01-02"))
		}
		state.DailyReturn = state.PortfolioValue/prev - 1
		state.CumulativeReturn = state.PortfolioValue/first - 1
	}
	if state.PortfolioValue > *peak {
		*peak = state.PortfolioValue
	}
	if *peak > 0 {
		state.Drawdown = 1 - state.PortfolioValue/(*peak)
	}

	if !domain.Finite(state.Cash, state.PortfolioValue, state.DailyReturn, state.CumulativeReturn,
		state.Drawdown, state.Position.MarketValue, state.Position.UnrealizedPnL) {
		return state, fmt.Errorf("%w: portfolio state on %s", domain.ErrNumericInstability, bar.Date.Format("2006-01-02"))
	}
	if state.PortfolioValue <= 0 {
		return state, fmt.Errorf("%w: portfolio value %v on %s", domain.ErrNumericInstability, state.PortfolioValue, bar.Date.Format("2006-01-02"))
	}
	return state, nil
}

func barDates(bars []domain.Bar) []time.Time {
	out := make([]time.Time, len(bars))
	for i, b := range bars {
		out[i] = b.Date
	}
	return out
}
