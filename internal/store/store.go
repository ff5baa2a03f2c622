// Package store defines storage interfaces for cached price series and
// finished backtest results.
package store

import (
	"context"
	"time"

	"macrostrat/internal/domain"
)

// BarStore persists and retrieves daily bar data.
type BarStore interface {
	// WriteBars persists a batch of bars for the given market, merging with
	// anything already stored for the same symbol and date.
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within [start, end],
	// sorted by date.
	ReadBars(ctx context.Context, market domain.Market, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// ResultStore persists finished single-strategy and comparison results.
// Lookups of unknown IDs return an error wrapping domain.ErrNotFound.
type ResultStore interface {
	SaveResult(ctx context.Context, r *domain.BacktestResult) error
	GetResult(ctx context.Context, id string) (*domain.BacktestResult, error)
	// ListResults returns the most recent runs first, up to limit.
	ListResults(ctx context.Context, limit int) ([]domain.BacktestSummary, error)

	SaveMultiResult(ctx context.Context, r *domain.MultiBacktestResult) error
	GetMultiResult(ctx context.Context, id string) (*domain.MultiBacktestResult, error)
}
