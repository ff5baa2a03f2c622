// Package app wires configuration into the running services shared by the
// macrostrat binaries.
package app

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"macrostrat/internal/backtest"
	"macrostrat/internal/catalog"
	"macrostrat/internal/compare"
	"macrostrat/internal/config"
	"macrostrat/internal/data"
	"macrostrat/internal/domain"
	"macrostrat/internal/gather"
	"macrostrat/internal/monitor"
	"macrostrat/internal/store"
	"macrostrat/internal/strategy/builtins"
	"macrostrat/internal/util"
)

// App holds the long-lived services built from a Config.
type App struct {
	Config     *config.Config
	Log        *slog.Logger
	Catalog    *catalog.Catalog
	Metrics    *monitor.Metrics
	Bars       *data.Manager
	Results    *store.SQLiteStore
	Backtests  *backtest.Service
	Comparator *compare.Comparator
}

// NewLogger builds the application logger from the logging section.
func NewLogger(cfg config.Logging) *slog.Logger {
	return util.NewLogger(util.LogOptions{
		Level:      cfg.Level,
		Format:     cfg.Format,
		File:       cfg.File,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAgeDays: cfg.MaxAgeDays,
	})
}

// New builds every service. Call Close when done.
func New(cfg *config.Config, log *slog.Logger) (*App, error) {
	if log == nil {
		log = util.Discard()
	}
	a := &App{
		Config:  cfg,
		Log:     log,
		Catalog: catalog.Default(),
		Metrics: monitor.New(),
	}

	var cache store.BarStore
	if cfg.Data.CacheEnabled {
		cache = store.NewParquetStore(cfg.Storage.DataDir)
	}
	a.Bars = data.NewManager(Providers(cfg, a.Catalog, log), cache, data.ManagerConfig{
		MaxRetries:        cfg.Data.MaxRetries,
		RetryDelay:        cfg.Data.RetryDelay,
		RequestsPerMinute: cfg.Data.RateLimitPerMin,
		CoverageGapDays:   cfg.Backtest.MaxGapDays,
		Logger:            log,
	}, a.Metrics)

	if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	results, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening results store: %w", err)
	}
	a.Results = results

	a.Backtests, err = backtest.NewService(backtest.Options{
		Registry:       builtins.NewRegistry(),
		Assets:         a.Catalog,
		Bars:           a.Bars,
		Results:        results,
		Metrics:        a.Metrics,
		CommissionRate: cfg.Backtest.CommissionRate,
		MaxGapDays:     cfg.Backtest.MaxGapDays,
		Logger:         log,
	})
	if err != nil {
		results.Close()
		return nil, err
	}
	a.Comparator = compare.NewComparator(a.Backtests, compare.Options{
		Workers:       cfg.Backtest.Workers,
		Timeout:       cfg.Backtest.BatchTimeout,
		MaxStrategies: cfg.Backtest.MaxStrategies,
		Results:       results,
		Metrics:       a.Metrics,
		Logger:        log,
	})
	return a, nil
}

// Close releases the results database.
func (a *App) Close() error {
	return a.Results.Close()
}

// Providers builds one data provider per catalog market from
// cfg.Data.Providers. A provider that cannot work with the given settings
// (no Alpaca credentials, missing AKShare script) falls back to the mock
// provider with a warning.
func Providers(cfg *config.Config, cat *catalog.Catalog, log *slog.Logger) map[domain.Market]data.Provider {
	out := make(map[domain.Market]data.Provider)
	for _, m := range cat.Markets() {
		name := cfg.Data.Providers[string(m.Type)]
		switch name {
		case config.ProviderAlpaca:
			if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
				log.Warn("alpaca credentials missing, using mock data", "market", m.Type)
				name = config.ProviderMock
			}
		case config.ProviderAKShare:
			if _, err := os.Stat(cfg.Data.AKShareScript); errors.Is(err, fs.ErrNotExist) {
				log.Warn("akshare script not found, using mock data", "market", m.Type, "script", cfg.Data.AKShareScript)
				name = config.ProviderMock
			}
		case "":
			name = config.ProviderMock
		}

		switch name {
		case config.ProviderAlpaca:
			out[m.Type] = data.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed)
		case config.ProviderAKShare:
			out[m.Type] = data.NewAKShareProvider(cfg.Data.PythonPath, cfg.Data.AKShareScript, log)
		default:
			out[m.Type] = data.NewMockProvider()
		}
		log.Info("data provider", "market", m.Type, "provider", out[m.Type].Name())
	}
	return out
}

// GatherAssets resolves cfg.Gather.Assets against the catalog. An empty list
// selects every asset.
func (a *App) GatherAssets() ([]domain.Asset, error) {
	ids := a.Config.Gather.Assets
	if len(ids) == 0 {
		return a.Catalog.List(), nil
	}
	out := make([]domain.Asset, 0, len(ids))
	for _, id := range ids {
		asset, err := a.Catalog.Get(id)
		if err != nil {
			return nil, fmt.Errorf("gather.assets: %w", err)
		}
		out = append(out, asset)
	}
	return out, nil
}

// Prefetcher builds the cache warmer for the configured gather assets.
func (a *App) Prefetcher() (*gather.Prefetcher, error) {
	assets, err := a.GatherAssets()
	if err != nil {
		return nil, err
	}
	return gather.NewPrefetcher(a.Bars, assets, a.Config.Gather.LookbackDays, a.Config.Gather.Workers, a.Log), nil
}
