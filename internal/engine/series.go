package engine

import (
	"fmt"
	"math"
	"time"

	"macrostrat/internal/domain"
)

// ValidateSeries checks that bars are usable for simulation: non-empty,
// strictly ascending dates, positive finite closes, and no gap between
// consecutive rows longer than maxGapDays calendar days (0 disables the gap
// check).
func ValidateSeries(bars []domain.Bar, maxGapDays int) error {
	if len(bars) == 0 {
		return fmt.Errorf("%w: no bars", domain.ErrInvalidPriceSeries)
	}
	for i, b := range bars {
		if !domain.Finite(b.Open, b.High, b.Low, b.Close) || b.Close <= 0 {
			return fmt.Errorf("%w: bad prices on %s (close %v)", domain.ErrInvalidPriceSeries, b.Date.Format("2006-01-02"), b.Close)
		}
		if i == 0 {
			continue
		}
		prev := bars[i-1].Date
		if !b.Date.After(prev) {
			return fmt.Errorf("%w: dates not strictly ascending at %s after %s",
				domain.ErrInvalidPriceSeries, b.Date.Format("2006-01-02"), prev.Format("2006-01-02"))
		}
		if gap := CalendarDays(prev, b.Date); maxGapDays > 0 && gap > maxGapDays {
			return fmt.Errorf("%w: %d-day gap between %s and %s exceeds %d",
				domain.ErrInvalidPriceSeries, gap, prev.Format("2006-01-02"), b.Date.Format("2006-01-02"), maxGapDays)
		}
	}
	return nil
}

// CalendarDays returns the whole number of days from a to b.
func CalendarDays(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}
