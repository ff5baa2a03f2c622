// Package backtest orchestrates single-strategy runs: it validates a request,
// loads the price series once, builds the strategy, simulates, derives
// metrics, and optionally persists the result.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"macrostrat/internal/broker"
	"macrostrat/internal/domain"
	"macrostrat/internal/engine"
	"macrostrat/internal/metrics"
	"macrostrat/internal/monitor"
	"macrostrat/internal/store"
	"macrostrat/internal/strategy"
	"macrostrat/internal/util"
)

// BarSource supplies daily price series. *data.Manager satisfies it.
type BarSource interface {
	GetBars(ctx context.Context, asset domain.Asset, start, end time.Time) ([]domain.Bar, error)
}

// AssetLookup resolves asset IDs. *catalog.Catalog satisfies it.
type AssetLookup interface {
	Get(id string) (domain.Asset, error)
}

// Options configures a Service. Results and Metrics are optional.
type Options struct {
	Registry       *strategy.Registry
	Assets         AssetLookup
	Bars           BarSource
	Results        store.ResultStore
	Metrics        *monitor.Metrics
	CommissionRate float64
	MaxGapDays     int
	Logger         *slog.Logger
}

// Service runs single-strategy backtests. It is safe for concurrent use.
type Service struct {
	registry   *strategy.Registry
	assets     AssetLookup
	bars       BarSource
	results    store.ResultStore
	metrics    *monitor.Metrics
	sim        *engine.Simulator
	maxGapDays int
	log        *slog.Logger
	now        func() time.Time
}

// NewService creates a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Registry == nil || opts.Assets == nil || opts.Bars == nil {
		return nil, errors.New("backtest: registry, assets, and bars are required")
	}
	b, err := broker.NewSimulatorBroker(opts.CommissionRate)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = util.Discard()
	}
	return &Service{
		registry:   opts.Registry,
		assets:     opts.Assets,
		bars:       opts.Bars,
		results:    opts.Results,
		metrics:    opts.Metrics,
		sim:        engine.NewSimulator(b, opts.MaxGapDays, log),
		maxGapDays: opts.MaxGapDays,
		log:        log.With("component", "backtest"),
		now:        time.Now,
	}, nil
}

// Registry returns the strategy registry the service builds from.
func (s *Service) Registry() *strategy.Registry { return s.registry }

// Validate checks everything about req that does not need price data and
// resolves its asset. Every failure wraps domain.ErrInvalidRequest.
func (s *Service) Validate(req domain.BacktestRequest) (domain.Asset, error) {
	if err := ValidateWindow(req.StartDate, req.EndDate, req.InitialCash); err != nil {
		return domain.Asset{}, err
	}
	asset, err := s.Asset(req.AssetID)
	if err != nil {
		return domain.Asset{}, err
	}
	if _, err := s.registry.New(req.Strategy); err != nil {
		return domain.Asset{}, err
	}
	if _, err := engine.NewRiskManager(req.RiskManagement); err != nil {
		return domain.Asset{}, err
	}
	return asset, nil
}

// ValidateWindow checks the date range and starting cash shared by single
// and multi-strategy requests.
func ValidateWindow(start, end time.Time, initialCash float64) error {
	if start.IsZero() || end.IsZero() {
		return domain.Invalidf("start_date and end_date are required")
	}
	if start.After(end) {
		return domain.Invalidf("start_date %s is after end_date %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	if !(initialCash > 0) || !domain.Finite(initialCash) {
		return domain.Invalidf("initial_cash must be positive, got %v", initialCash)
	}
	return nil
}

// Asset resolves an asset ID for a request. Unknown IDs are invalid requests.
func (s *Service) Asset(id string) (domain.Asset, error) {
	if id == "" {
		return domain.Asset{}, domain.Invalidf("asset_id is required")
	}
	a, err := s.assets.Get(id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Asset{}, domain.Invalidf("unknown asset %q", id)
	}
	return a, err
}

// LoadBars fetches the asset's series for [start, end] and checks that it
// covers the range. Coverage failures wrap domain.ErrInvalidPriceSeries.
func (s *Service) LoadBars(ctx context.Context, asset domain.Asset, start, end time.Time) ([]domain.Bar, error) {
	bars, err := s.bars.GetBars(ctx, asset, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: no price data for %s in range", domain.ErrInvalidPriceSeries, asset.ID)
	}
	if s.maxGapDays > 0 {
		first, last := bars[0].Date, bars[len(bars)-1].Date
		if engine.CalendarDays(start, first) > s.maxGapDays {
			return nil, fmt.Errorf("%w: %s data starts %s, after requested start %s", domain.ErrInvalidPriceSeries,
				asset.ID, first.Format("2006-01-02"), start.Format("2006-01-02"))
		}
		// A range running into the future only needs data up to today.
		if today := s.now().UTC().Truncate(24 * time.Hour); end.After(today) {
			end = today
		}
		if engine.CalendarDays(last, end) > s.maxGapDays {
			return nil, fmt.Errorf("%w: %s data ends %s, before requested end %s", domain.ErrInvalidPriceSeries,
				asset.ID, last.Format("2006-01-02"), end.Format("2006-01-02"))
		}
	}
	return bars, nil
}

// Run validates req, loads its series, simulates, and persists the result
// when a result store is configured.
func (s *Service) Run(ctx context.Context, req domain.BacktestRequest) (*domain.BacktestResult, error) {
	asset, err := s.Validate(req)
	if err != nil {
		return nil, err
	}
	bars, err := s.LoadBars(ctx, asset, req.StartDate, req.EndDate)
	if err != nil {
		return nil, err
	}
	res, err := s.Simulate(ctx, req, asset, bars)
	if err != nil {
		return nil, err
	}
	if s.results != nil {
		if err := s.results.SaveResult(ctx, res); err != nil {
			return nil, fmt.Errorf("saving result: %w", err)
		}
	}
	return res, nil
}

// Simulate runs req's strategy over bars, which must already belong to asset
// and req's range. It builds a fresh strategy instance per call, so the same
// bars may be simulated concurrently by several callers.
func (s *Service) Simulate(ctx context.Context, req domain.BacktestRequest, asset domain.Asset, bars []domain.Bar) (*domain.BacktestResult, error) {
	began := time.Now()
	res, err := s.simulate(ctx, req, asset, bars)
	elapsed := time.Since(began)

	var buys, sells, skipped int
	if res != nil {
		res.DurationMS = elapsed.Milliseconds()
		skipped = len(res.SkippedSignals)
		for _, t := range res.Trades {
			if t.Action == domain.OrderSideBuy {
				buys++
			} else {
				sells++
			}
		}
	}
	s.metrics.ObserveRun(string(req.Strategy.Type), monitor.Status(err), elapsed, buys, sells, skipped)
	if err != nil {
		s.log.Warn("backtest failed", "asset", req.AssetID, "strategy", req.Strategy.Type, "error", err)
		return nil, err
	}
	s.log.Info("backtest complete", "id", res.ID, "asset", asset.ID, "strategy", req.Strategy.Type,
		"trades", len(res.Trades), "skipped", skipped,
		"total_return", res.PerformanceMetrics.TotalReturn, "elapsed", elapsed.Round(time.Millisecond))
	return res, nil
}

func (s *Service) simulate(ctx context.Context, req domain.BacktestRequest, asset domain.Asset, bars []domain.Bar) (*domain.BacktestResult, error) {
	strat, err := s.registry.New(req.Strategy)
	if err != nil {
		return nil, err
	}
	risk, err := engine.NewRiskManager(req.RiskManagement)
	if err != nil {
		return nil, err
	}

	run, err := s.sim.Run(ctx, strat, bars, req.InitialCash, risk)
	if err != nil {
		return nil, err
	}
	m, err := metrics.Compute(run.States, run.Trades)
	if err != nil {
		return nil, err
	}
	if err := metrics.Verify(run.States, run.Trades, m); err != nil {
		return nil, err
	}

	a := asset
	return &domain.BacktestResult{
		ID:                 uuid.NewString(),
		Request:            req,
		Asset:              &a,
		Trades:             nonNil(run.Trades),
		DailyReturns:       run.States,
		PerformanceMetrics: m,
		SkippedSignals:     run.Skipped,
		CreatedAt:          s.now().UTC(),
	}, nil
}

// Get loads a stored result.
func (s *Service) Get(ctx context.Context, id string) (*domain.BacktestResult, error) {
	if s.results == nil {
		return nil, fmt.Errorf("%w: result %q (results are not persisted)", domain.ErrNotFound, id)
	}
	return s.results.GetResult(ctx, id)
}

// List returns summaries of the most recent stored runs.
func (s *Service) List(ctx context.Context, limit int) ([]domain.BacktestSummary, error) {
	if s.results == nil {
		return []domain.BacktestSummary{}, nil
	}
	return s.results.ListResults(ctx, limit)
}

func nonNil(trades []domain.Trade) []domain.Trade {
	if trades == nil {
		return []domain.Trade{}
	}
	return trades
}
