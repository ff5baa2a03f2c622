package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"macrostrat/internal/domain"
)

var _ Provider = (*AlpacaProvider)(nil)

// AlpacaProvider fetches US daily bars from the Alpaca market-data API.
type AlpacaProvider struct {
	client *marketdata.Client
	feed   string
}

// NewAlpacaProvider creates a provider with the given credentials. dataURL
// and feed may be empty to use the client defaults.
func NewAlpacaProvider(apiKey, apiSecret, dataURL, feed string) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaProvider{
		client: marketdata.NewClient(opts),
		feed:   feed,
	}
}

// Name returns the provider identifier.
func (p *AlpacaProvider) Name() string { return "alpaca" }

// FetchDailyBars requests one-day bars for symbol. The client does not take a
// context, so cancellation is only checked before the call.
func (p *AlpacaProvider) FetchDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	req := marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     day(start),
		End:       day(end).Add(24*time.Hour - time.Second),
	}
	if p.feed != "" {
		req.Feed = marketdata.Feed(p.feed)
	}
	raw, err := p.client.GetBars(symbol, req)
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}
	return normalize(fromAlpacaBars(symbol, raw), day(start), day(end)), nil
}

// fromAlpacaBars converts API bars. Daily bar timestamps fall on New York
// midnight, which is still the same calendar date in UTC.
func fromAlpacaBars(symbol string, raw []marketdata.Bar) []domain.Bar {
	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol: strings.ToUpper(symbol),
			Date:   day(ab.Timestamp.UTC()),
			Open:   ab.Open,
			High:   ab.High,
			Low:    ab.Low,
			Close:  ab.Close,
			Volume: int64(ab.Volume),
			Amount: ab.VWAP * float64(ab.Volume),
		})
	}
	return bars
}
