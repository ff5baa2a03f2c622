package data

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"macrostrat/internal/domain"
	"macrostrat/internal/monitor"
	"macrostrat/internal/store"
	"macrostrat/internal/util"
)

// ManagerConfig tunes provider access.
type ManagerConfig struct {
	MaxRetries        int
	RetryDelay        time.Duration
	RequestsPerMinute int // <= 0 disables rate limiting

	// CoverageGapDays is how far the first and last cached bars may sit from
	// the requested range before the provider is asked again.
	CoverageGapDays int

	// FetchTimeout bounds one shared provider fetch. It is not tied to any
	// single caller, so a cancelled request does not fail the others waiting
	// on the same series.
	FetchTimeout time.Duration

	Logger *slog.Logger
}

// DefaultFetchTimeout applies when ManagerConfig.FetchTimeout is unset.
const DefaultFetchTimeout = 2 * time.Minute

// Manager routes series requests to the provider for the asset's market and
// keeps a read-through cache of what it fetched.
type Manager struct {
	providers map[domain.Market]Provider
	cache     store.BarStore
	cfg       ManagerConfig
	limiter   *util.RateLimiter
	flight    singleflight.Group
	metrics   *monitor.Metrics
	log       *slog.Logger
	now       func() time.Time
}

// NewManager creates a Manager. cache and m may be nil.
func NewManager(providers map[domain.Market]Provider, cache store.BarStore, cfg ManagerConfig, m *monitor.Metrics) *Manager {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = util.Discard()
	}
	return &Manager{
		providers: providers,
		cache:     cache,
		cfg:       cfg,
		limiter:   util.NewRateLimiter(cfg.RequestsPerMinute),
		metrics:   m,
		log:       log.With("component", "data"),
		now:       time.Now,
	}
}

// Provider returns the provider serving a market.
func (m *Manager) Provider(market domain.Market) (Provider, bool) {
	p, ok := m.providers[market]
	return p, ok
}

// GetBars returns the asset's daily bars within [start, end], from the cache
// when it covers the range and from the provider otherwise. An empty result
// is reported as domain.ErrInvalidPriceSeries.
func (m *Manager) GetBars(ctx context.Context, asset domain.Asset, start, end time.Time) ([]domain.Bar, error) {
	start, end = day(start), day(end)
	p, ok := m.providers[asset.Market]
	if !ok {
		return nil, fmt.Errorf("no data provider for market %q", asset.Market)
	}

	if m.cache != nil {
		cached, err := m.cache.ReadBars(ctx, asset.Market, asset.Symbol, start, end)
		if err != nil {
			m.log.Warn("cache read failed", "symbol", asset.Symbol, "error", err)
		} else if Covers(cached, start, end, m.now(), m.cfg.CoverageGapDays) {
			m.metrics.ObserveFetch(p.Name(), "cache", "ok", 0)
			return cached, nil
		}
	}

	key := fmt.Sprintf("%s/%s/%s/%s", asset.Market, asset.Symbol, start.Format("20060102"), end.Format("20060102"))
	ch := m.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.FetchTimeout)
		defer cancel()
		return m.fetch(fctx, p, asset, start, end)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	bars := res.Val.([]domain.Bar)
	if res.Shared {
		// Callers may mutate what they receive.
		bars = append([]domain.Bar(nil), bars...)
	}
	return bars, nil
}

func (m *Manager) fetch(ctx context.Context, p Provider, asset domain.Asset, start, end time.Time) ([]domain.Bar, error) {
	began := time.Now()
	var bars []domain.Bar
	err := util.RetryNotify(ctx, m.cfg.MaxRetries, m.cfg.RetryDelay, func() error {
		if err := m.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		bars, err = p.FetchDailyBars(ctx, asset.Symbol, start, end)
		if errors.Is(err, domain.ErrInvalidRequest) {
			return util.Permanent(err)
		}
		return err
	}, func(attempt int, err error) {
		m.log.Warn("fetch failed, retrying", "provider", p.Name(), "symbol", asset.Symbol, "attempt", attempt, "error", err)
	})
	m.metrics.ObserveFetch(p.Name(), "provider", monitor.Status(err), time.Since(began))
	if err != nil {
		return nil, fmt.Errorf("fetching %s from %s: %w", asset.Symbol, p.Name(), err)
	}

	bars = normalize(bars, start, end)
	if len(bars) == 0 {
		return nil, noData(asset.Symbol, start, end)
	}
	for i := range bars {
		bars[i].Symbol = asset.Symbol
	}

	if m.cache != nil {
		if err := m.cache.WriteBars(ctx, asset.Market, bars); err != nil {
			m.log.Warn("cache write failed", "symbol", asset.Symbol, "error", err)
		}
	}
	m.log.Debug("fetched bars", "provider", p.Name(), "symbol", asset.Symbol, "bars", len(bars),
		"elapsed", time.Since(began).Round(time.Millisecond))
	return bars, nil
}
