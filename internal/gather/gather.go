// Package gather keeps the bar cache warm: a Prefetcher loads recent history
// for a set of assets and a Scheduler repeats it on a cron schedule.
package gather

import (
	"context"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs the gathering work. Long-running gatherers block until ctx
	// is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Lookback returns the range of days ending at the calendar date of now.
func Lookback(now time.Time, days int) DateRange {
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return DateRange{Start: end.AddDate(0, 0, -days), End: end}
}
