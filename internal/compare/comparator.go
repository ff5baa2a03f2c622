// Package compare runs several strategies, plus an optional benchmark, over
// one asset and period and ranks the results.
package compare

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"macrostrat/internal/backtest"
	"macrostrat/internal/domain"
	"macrostrat/internal/monitor"
	"macrostrat/internal/store"
	"macrostrat/internal/strategy/builtins"
	"macrostrat/internal/util"
)

// Runner validates, loads, and simulates single runs. *backtest.Service
// satisfies it.
type Runner interface {
	Validate(req domain.BacktestRequest) (domain.Asset, error)
	Asset(id string) (domain.Asset, error)
	LoadBars(ctx context.Context, asset domain.Asset, start, end time.Time) ([]domain.Bar, error)
	Simulate(ctx context.Context, req domain.BacktestRequest, asset domain.Asset, bars []domain.Bar) (*domain.BacktestResult, error)
}

var _ Runner = (*backtest.Service)(nil)

// Defaults applied by NewComparator.
const (
	DefaultWorkers       = 4
	DefaultMaxStrategies = 10
)

// Options configures a Comparator. Results and Metrics are optional. A zero
// Timeout disables the batch deadline.
type Options struct {
	Workers       int
	Timeout       time.Duration
	MaxStrategies int
	Results       store.ResultStore
	Metrics       *monitor.Metrics
	Logger        *slog.Logger
}

// Comparator runs comparison batches. It is safe for concurrent use.
type Comparator struct {
	runner        Runner
	workers       int
	timeout       time.Duration
	maxStrategies int
	results       store.ResultStore
	metrics       *monitor.Metrics
	log           *slog.Logger
	now           func() time.Time
}

// NewComparator creates a Comparator on top of runner.
func NewComparator(runner Runner, opts Options) *Comparator {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.MaxStrategies <= 0 {
		opts.MaxStrategies = DefaultMaxStrategies
	}
	log := opts.Logger
	if log == nil {
		log = util.Discard()
	}
	return &Comparator{
		runner:        runner,
		workers:       opts.Workers,
		timeout:       opts.Timeout,
		maxStrategies: opts.MaxStrategies,
		results:       opts.Results,
		metrics:       opts.Metrics,
		log:           log.With("component", "compare"),
		now:           time.Now,
	}
}

// job is one run of the batch.
type job struct {
	name      string
	req       domain.BacktestRequest
	asset     domain.Asset
	benchmark bool
}

// plan is a validated batch.
type plan struct {
	jobs    []job
	rankBy  string
	metrics []string
	opts    *domain.ComparisonOptions
}

// Compare runs every strategy in req and the benchmark, then ranks them.
// Any failed run fails the whole batch, and a batch that outlives the
// timeout is discarded; no partial comparison is ever returned.
func (c *Comparator) Compare(ctx context.Context, req domain.MultiBacktestRequest) (*domain.MultiBacktestResult, error) {
	began := time.Now()
	p, err := c.plan(req)
	if err != nil {
		c.metrics.ObserveBatch("invalid", time.Since(began))
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	type outcome struct {
		results []domain.BacktestResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := c.execute(ctx, p)
		done <- outcome{results, err}
	}()

	var out outcome
	select {
	case <-ctx.Done():
		c.metrics.ObserveBatch("timeout", time.Since(began))
		c.log.Warn("comparison discarded", "asset", req.AssetID, "error", ctx.Err())
		return nil, fmt.Errorf("comparison batch: %w", ctx.Err())
	case out = <-done:
	}
	if out.err != nil {
		c.metrics.ObserveBatch("error", time.Since(began))
		return nil, out.err
	}

	res := c.assemble(req, p, out.results)
	res.DurationMS = time.Since(began).Milliseconds()
	if c.results != nil {
		if err := c.results.SaveMultiResult(ctx, res); err != nil {
			c.metrics.ObserveBatch("error", time.Since(began))
			return nil, fmt.Errorf("saving comparison: %w", err)
		}
	}
	c.metrics.ObserveBatch("ok", time.Since(began))
	c.log.Info("comparison complete", "id", res.ID, "asset", req.AssetID, "strategies", len(req.Strategies),
		"best", res.Comparison.BestStrategy, "elapsed", time.Since(began).Round(time.Millisecond))
	return res, nil
}

// Get loads a stored comparison.
func (c *Comparator) Get(ctx context.Context, id string) (*domain.MultiBacktestResult, error) {
	if c.results == nil {
		return nil, fmt.Errorf("%w: comparison %q (results are not persisted)", domain.ErrNotFound, id)
	}
	return c.results.GetMultiResult(ctx, id)
}

func (c *Comparator) plan(req domain.MultiBacktestRequest) (*plan, error) {
	if len(req.Strategies) == 0 {
		return nil, domain.Invalidf("at least one strategy is required")
	}
	if len(req.Strategies) > c.maxStrategies {
		return nil, domain.Invalidf("at most %d strategies per comparison, got %d", c.maxStrategies, len(req.Strategies))
	}
	if err := backtest.ValidateWindow(req.StartDate, req.EndDate, req.InitialCash); err != nil {
		return nil, err
	}

	p := &plan{opts: req.ComparisonOpt, rankBy: domain.MetricTotalReturn, metrics: domain.DefaultComparisonMetrics}
	if o := req.ComparisonOpt; o != nil {
		if o.RankBy != "" {
			p.rankBy = o.RankBy
		}
		if len(o.Metrics) > 0 {
			p.metrics = o.Metrics
		}
	}
	for _, m := range append([]string{p.rankBy}, p.metrics...) {
		if _, ok := (domain.PerformanceMetrics{}).Value(m); !ok {
			return nil, domain.Invalidf("unknown metric %q", m)
		}
	}

	seen := make(map[string]bool, len(req.Strategies)+1)
	for i, cfg := range req.Strategies {
		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("%s_%d", cfg.Type, i+1)
		}
		if seen[name] {
			return nil, domain.Invalidf("duplicate strategy name %q", name)
		}
		seen[name] = true

		br := domain.BacktestRequest{
			AssetID:     req.AssetID,
			Strategy:    cfg,
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
			InitialCash: req.InitialCash,
		}
		asset, err := c.runner.Validate(br)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", name, err)
		}
		p.jobs = append(p.jobs, job{name: name, req: br, asset: asset})
	}

	if req.Benchmark != "" {
		asset, err := c.runner.Asset(req.Benchmark)
		if err != nil {
			return nil, fmt.Errorf("benchmark: %w", err)
		}
		name := "benchmark_" + asset.ID
		if seen[name] {
			return nil, domain.Invalidf("duplicate strategy name %q", name)
		}
		p.jobs = append(p.jobs, job{
			name:      name,
			benchmark: true,
			asset:     asset,
			req: domain.BacktestRequest{
				AssetID:     asset.ID,
				Strategy:    builtins.BenchmarkConfig(),
				StartDate:   req.StartDate,
				EndDate:     req.EndDate,
				InitialCash: req.InitialCash,
			},
		})
	}
	return p, nil
}

// execute loads each distinct asset's series once and then fans the runs out
// over the worker pool. Results keep job order.
func (c *Comparator) execute(ctx context.Context, p *plan) ([]domain.BacktestResult, error) {
	series := make(map[string][]domain.Bar)
	for _, j := range p.jobs {
		if _, ok := series[j.asset.ID]; ok {
			continue
		}
		bars, err := c.runner.LoadBars(ctx, j.asset, j.req.StartDate, j.req.EndDate)
		if err != nil {
			if j.benchmark {
				return nil, fmt.Errorf("benchmark: %w", err)
			}
			return nil, err
		}
		series[j.asset.ID] = bars
	}

	results := make([]domain.BacktestResult, len(p.jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, j := range p.jobs {
		i, j := i, j
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := c.runner.Simulate(gctx, j.req, j.asset, series[j.asset.ID])
			if err != nil {
				return fmt.Errorf("strategy %q: %w", j.name, err)
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Comparator) assemble(req domain.MultiBacktestRequest, p *plan, results []domain.BacktestResult) *domain.MultiBacktestResult {
	res := &domain.MultiBacktestResult{
		ID:        uuid.NewString(),
		Request:   req,
		CreatedAt: c.now().UTC(),
	}
	var entries []Entry
	for i, j := range p.jobs {
		e := Entry{
			Name:      j.name,
			Type:      j.req.Strategy.Type,
			Benchmark: j.benchmark,
			Metrics:   results[i].PerformanceMetrics,
			States:    results[i].DailyReturns,
		}
		if j.benchmark {
			b := results[i]
			res.Benchmark = &b
			if !p.opts.BenchmarkShown() {
				continue
			}
		} else {
			res.Results = append(res.Results, results[i])
			res.Names = append(res.Names, j.name)
		}
		entries = append(entries, e)
	}
	res.Comparison = Build(entries, p.rankBy, p.metrics, p.opts)
	return res
}
