package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"macrostrat/internal/domain"
	"macrostrat/internal/util"
)

var _ Gatherer = (*Prefetcher)(nil)

// BarLoader loads and caches a series. *data.Manager satisfies it.
type BarLoader interface {
	GetBars(ctx context.Context, asset domain.Asset, start, end time.Time) ([]domain.Bar, error)
}

// Report summarises one prefetch pass.
type Report struct {
	Range  DateRange
	Assets int
	Bars   int
	Failed []string
}

// Prefetcher loads the last lookbackDays of bars for each asset so later
// backtests hit the cache.
type Prefetcher struct {
	loader   BarLoader
	assets   []domain.Asset
	lookback int
	workers  int
	log      *slog.Logger
	now      func() time.Time
}

// NewPrefetcher creates a Prefetcher. workers bounds concurrent fetches.
func NewPrefetcher(loader BarLoader, assets []domain.Asset, lookbackDays, workers int, log *slog.Logger) *Prefetcher {
	if workers <= 0 {
		workers = 2
	}
	if lookbackDays <= 0 {
		lookbackDays = 365
	}
	if log == nil {
		log = util.Discard()
	}
	return &Prefetcher{
		loader:   loader,
		assets:   assets,
		lookback: lookbackDays,
		workers:  workers,
		log:      log.With("gatherer", "prefetch"),
		now:      time.Now,
	}
}

// Name returns the gatherer identifier.
func (p *Prefetcher) Name() string { return "prefetch" }

// Run performs one prefetch pass.
func (p *Prefetcher) Run(ctx context.Context) error {
	_, err := p.RunOnce(ctx)
	return err
}

// RunOnce fetches every asset. One asset failing does not stop the others;
// all failures are joined into the returned error.
func (p *Prefetcher) RunOnce(ctx context.Context) (Report, error) {
	rng := Lookback(p.now(), p.lookback)
	rep := Report{Range: rng, Assets: len(p.assets)}
	began := time.Now()

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(p.workers)
	for _, a := range p.assets {
		a := a
		g.Go(func() error {
			bars, err := p.loader.GetBars(ctx, a, rng.Start, rng.End)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rep.Failed = append(rep.Failed, a.ID)
				errs = append(errs, fmt.Errorf("%s: %w", a.ID, err))
				p.log.Warn("prefetch failed", "asset", a.ID, "error", err)
				return nil
			}
			rep.Bars += len(bars)
			return nil
		})
	}
	_ = g.Wait()

	p.log.Info("prefetch complete",
		"assets", rep.Assets,
		"bars", rep.Bars,
		"failed", len(rep.Failed),
		"start", rng.Start.Format("2006-01-02"),
		"end", rng.End.Format("2006-01-02"),
		"elapsed", time.Since(began).Round(time.Millisecond),
	)
	return rep, errors.Join(errs...)
}
