// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"time"

	"macrostrat/internal/domain"
)

// Date returns midnight UTC of the given day.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// WeekdayBars returns one bar per weekday in [start, end]. price receives the
// bar index and date and returns the close; open, high, and low are derived
// from it.
func WeekdayBars(symbol string, start, end time.Time, price func(i int, d time.Time) float64) []domain.Bar {
	var bars []domain.Bar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		c := price(len(bars), d)
		bars = append(bars, domain.Bar{
			Symbol: symbol,
			Date:   d,
			Open:   c,
			High:   c * 1.01,
			Low:    c * 0.99,
			Close:  c,
			Volume: 1_000_000,
		})
	}
	return bars
}

// ConstantBars returns weekday bars that all close at price.
func ConstantBars(symbol string, start, end time.Time, price float64) []domain.Bar {
	return WeekdayBars(symbol, start, end, func(int, time.Time) float64 { return price })
}

// BarsFromCloses returns consecutive weekday bars starting at start with the
// given closes.
func BarsFromCloses(symbol string, start time.Time, closes ...float64) []domain.Bar {
	bars := make([]domain.Bar, 0, len(closes))
	d := start
	for _, c := range closes {
		for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			d = d.AddDate(0, 0, 1)
		}
		bars = append(bars, domain.Bar{Symbol: symbol, Date: d, Open: c, High: c, Low: c, Close: c, Volume: 1000})
		d = d.AddDate(0, 0, 1)
	}
	return bars
}

// Dates extracts the bar dates.
func Dates(bars []domain.Bar) []time.Time {
	out := make([]time.Time, len(bars))
	for i, b := range bars {
		out[i] = b.Date
	}
	return out
}
