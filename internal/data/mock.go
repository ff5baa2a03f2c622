package data

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"macrostrat/internal/domain"
)

var _ Provider = (*MockProvider)(nil)

// mockEpoch anchors every generated series so overlapping ranges agree.
var mockEpoch = time.Date(2005, 1, 3, 0, 0, 0, 0, time.UTC)

// MockProvider generates a deterministic weekday random walk per symbol. The
// same symbol always yields the same prices for the same dates.
type MockProvider struct{}

// NewMockProvider returns a MockProvider.
func NewMockProvider() *MockProvider { return &MockProvider{} }

// Name returns the provider identifier.
func (p *MockProvider) Name() string { return "mock" }

// FetchDailyBars walks from a fixed epoch up to end and returns the rows
// within [start, end].
func (p *MockProvider) FetchDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	start, end = day(start), day(end)
	if end.Before(mockEpoch) || end.Before(start) {
		return nil, nil
	}

	seed := symbolSeed(symbol)
	rng := rand.New(rand.NewSource(int64(seed)))
	price := 1000 + float64(seed%4000)

	var bars []domain.Bar
	for d := mockEpoch; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		open := price
		// Slight upward drift, about 1.2% daily volatility.
		ret := 0.0002 + rng.NormFloat64()*0.012
		closePx := math.Max(open*(1+ret), 1)
		spread := math.Abs(rng.NormFloat64()) * 0.006
		high := math.Max(open, closePx) * (1 + spread)
		low := math.Min(open, closePx) * (1 - spread)
		vol := int64(5e7 + rng.Float64()*1e8)
		price = closePx

		if d.Before(start) {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol: symbol,
			Date:   d,
			Open:   round2(open),
			High:   round2(high),
			Low:    round2(low),
			Close:  round2(closePx),
			Volume: vol,
			Amount: round2(float64(vol) * closePx),
		})
	}
	return bars, nil
}

func symbolSeed(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return h.Sum64() >> 1
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
