// Package data fetches daily price series from market data providers and
// caches them in a BarStore.
package data

import (
	"context"
	"fmt"
	"sort"
	"time"

	"macrostrat/internal/domain"
)

// Provider fetches daily bars for one symbol.
type Provider interface {
	Name() string
	// FetchDailyBars returns bars within [start, end] sorted by date.
	FetchDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// day truncates t to midnight UTC of its calendar date.
func day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// normalize sorts bars by date, keeps the last row for duplicate dates, and
// drops rows outside [start, end].
func normalize(bars []domain.Bar, start, end time.Time) []domain.Bar {
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })

	out := bars[:0]
	for _, b := range bars {
		if b.Date.Before(start) || b.Date.After(end) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Date.Equal(b.Date) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}

func calendarDays(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// Covers reports whether bars span [start, end] to within maxGapDays at both
// ends. end is clamped to asOf so a range reaching into the future is judged
// against the last day that could have data. A non-positive maxGapDays only
// requires bars to be present.
func Covers(bars []domain.Bar, start, end, asOf time.Time, maxGapDays int) bool {
	if len(bars) == 0 {
		return false
	}
	if maxGapDays <= 0 {
		return true
	}
	if asOf := day(asOf); end.After(asOf) {
		end = asOf
	}
	first, last := bars[0].Date, bars[len(bars)-1].Date
	return calendarDays(start, first) <= maxGapDays && calendarDays(last, end) <= maxGapDays
}

func noData(symbol string, start, end time.Time) error {
	return fmt.Errorf("%w: no price data for %s between %s and %s", domain.ErrInvalidPriceSeries,
		symbol, start.Format("2006-01-02"), end.Format("2006-01-02"))
}
