package util

import (
	"time"
)

// Period is a calendar grouping used for rebalancing schedules.
type Period string

const (
	PeriodMonth   Period = "monthly"
	PeriodQuarter Period = "quarterly"
	PeriodYear    Period = "yearly"
)

// TradingCalendar is the schedule of trading days implied by a price series.
// It only knows which dates are trading days, never prices, so strategies can
// locate month boundaries without looking ahead at data.
type TradingCalendar struct {
	dates      []time.Time
	monthStart []int // index of the first row in the same month
	monthEnd   []int // index of the last row in the same month
}

// NewTradingCalendar builds a calendar from ascending trading dates.
func NewTradingCalendar(dates []time.Time) *TradingCalendar {
	n := len(dates)
	tc := &TradingCalendar{
		dates:      dates,
		monthStart: make([]int, n),
		monthEnd:   make([]int, n),
	}

	start := 0
	for i := 0; i < n; i++ {
		if i > 0 && !sameMonth(dates[i], dates[i-1]) {
			start = i
		}
		tc.monthStart[i] = start
	}
	end := n - 1
	for i := n - 1; i >= 0; i-- {
		if i < n-1 && !sameMonth(dates[i], dates[i+1]) {
			end = i
		}
		tc.monthEnd[i] = end
	}
	return tc
}

// Len returns the number of trading days.
func (tc *TradingCalendar) Len() int { return len(tc.dates) }

// Date returns the date of trading day i.
func (tc *TradingCalendar) Date(i int) time.Time { return tc.dates[i] }

// DayOfMonth returns the 1-based position of day i among the month's trading
// days: 1 for the month's first row in the series.
func (tc *TradingCalendar) DayOfMonth(i int) int {
	return i - tc.monthStart[i] + 1
}

// DaysToMonthEnd returns the 1-based position of day i counted back from the
// month's last row in the series: 1 for the last row.
func (tc *TradingCalendar) DaysToMonthEnd(i int) int {
	return tc.monthEnd[i] - i + 1
}

// TradingDaysInMonth returns how many rows share day i's month.
func (tc *TradingCalendar) TradingDaysInMonth(i int) int {
	return tc.monthEnd[i] - tc.monthStart[i] + 1
}

// IsLastDay reports whether i is the final row of the series.
func (tc *TradingCalendar) IsLastDay(i int) bool {
	return i == len(tc.dates)-1
}

// StartsPeriod reports whether day i is the first trading day of a new
// period relative to the previous row. Day 0 always starts a period.
func (tc *TradingCalendar) StartsPeriod(i int, p Period) bool {
	if i == 0 {
		return true
	}
	prev, cur := tc.dates[i-1], tc.dates[i]
	switch p {
	case PeriodYear:
		return prev.Year() != cur.Year()
	case PeriodQuarter:
		return prev.Year() != cur.Year() || quarter(prev) != quarter(cur)
	default:
		return !sameMonth(prev, cur)
	}
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func quarter(t time.Time) int {
	return (int(t.Month()) - 1) / 3
}
