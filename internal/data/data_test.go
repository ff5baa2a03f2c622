package data

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macrostrat/internal/domain"
	"macrostrat/internal/store"
	"macrostrat/internal/testutil"
)

func TestMockProviderDeterministic(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()

	a, err := p.FetchDailyBars(ctx, "000300.SH", testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 31))
	require.NoError(t, err)
	b, err := p.FetchDailyBars(ctx, "000300.SH", testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 31))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	require.NotEmpty(t, a)

	// A narrower range is a slice of the wider one.
	narrow, err := p.FetchDailyBars(ctx, "000300.SH", testutil.Date(2024, 2, 1), testutil.Date(2024, 2, 29))
	require.NoError(t, err)
	require.NotEmpty(t, narrow)
	for _, bar := range narrow {
		var match bool
		for _, w := range a {
			if w.Date.Equal(bar.Date) {
				assert.Equal(t, w, bar)
				match = true
			}
		}
		assert.True(t, match, "date %v missing from wide range", bar.Date)
	}

	other, err := p.FetchDailyBars(ctx, "SPY", testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 31))
	require.NoError(t, err)
	assert.NotEqual(t, a[0].Close, other[0].Close)

	for _, bar := range a {
		assert.Greater(t, bar.Close, 0.0)
		assert.NotEqual(t, time.Saturday, bar.Date.Weekday())
		assert.NotEqual(t, time.Sunday, bar.Date.Weekday())
	}
}

func TestNormalize(t *testing.T) {
	bars := testutil.BarsFromCloses("X", testutil.Date(2024, 1, 1), 1, 2, 3, 4)
	in := []domain.Bar{bars[2], bars[0], bars[1], bars[3]}
	dup := bars[1]
	dup.Close = 20
	in = append(in, dup)

	got := normalize(in, bars[1].Date, bars[2].Date)
	require.Len(t, got, 2)
	assert.Equal(t, 20.0, got[0].Close)
	assert.Equal(t, 3.0, got[1].Close)
}

func TestCovers(t *testing.T) {
	bars := testutil.ConstantBars("X", testutil.Date(2024, 1, 2), testutil.Date(2024, 3, 29), 10)
	now := testutil.Date(2024, 10, 1)

	assert.True(t, Covers(bars, testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 31), now, 5))
	assert.False(t, Covers(bars, testutil.Date(2023, 12, 1), testutil.Date(2024, 3, 31), now, 5))
	assert.False(t, Covers(bars, testutil.Date(2024, 1, 1), testutil.Date(2024, 6, 30), now, 5))
	assert.False(t, Covers(nil, testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 31), now, 5))

	// A range ending in the future is judged against asOf.
	assert.True(t, Covers(bars, testutil.Date(2024, 1, 1), testutil.Date(2025, 1, 1), testutil.Date(2024, 3, 31), 5))
	assert.True(t, Covers(bars, testutil.Date(2020, 1, 1), testutil.Date(2025, 1, 1), now, 0))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "akshare_client.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o755))
	return path
}

const fakeAKShare = `#!/bin/sh
if [ "$3" != "20240101" ] || [ "$4" != "20240131" ]; then
	echo '{"error":"unexpected dates '"$3 $4"'"}'
	exit 1
fi
case "$1 $2" in
"get_stock_zh_index_daily sh000300")
	echo '[{"日期":"2024-01-03","开盘":3400.1,"最高":3410,"最低":3390,"收盘":3405.5,"成交量":1000,"成交额":3.4e6},{"日期":"2024-01-02","收盘":"3390.2","成交量":900},{"日期":"bad","收盘":1},{"date":"2024-01-04","close":3410}]'
	;;
"get_stock_zh_a_hist sh600519")
	echo '[]'
	;;
*)
	echo '{"error":"symbol not found"}'
	exit 1
	;;
esac
`

func TestAKShareProvider(t *testing.T) {
	p := NewAKShareProvider("/bin/sh", writeScript(t, fakeAKShare), nil)
	ctx := context.Background()

	bars, err := p.FetchDailyBars(ctx, "000300.SH", testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 31))
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, testutil.Date(2024, 1, 2), bars[0].Date)
	assert.Equal(t, 3390.2, bars[0].Close)
	assert.Equal(t, int64(900), bars[0].Volume)
	assert.Equal(t, 3405.5, bars[1].Close)
	assert.Equal(t, 3400.1, bars[1].Open)
	assert.Equal(t, 3.4e6, bars[1].Amount)
	assert.Equal(t, 3410.0, bars[2].Close)
	assert.Equal(t, "000300.SH", bars[2].Symbol)

	// Stocks use the history command.
	bars, err = p.FetchDailyBars(ctx, "600519.SH", testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 31))
	require.NoError(t, err)
	assert.Empty(t, bars)

	_, err = p.FetchDailyBars(ctx, "399006.SZ", testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 31))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symbol not found")

	_, err = p.FetchDailyBars(ctx, "SPY", testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 31))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestCNSymbols(t *testing.T) {
	code, ex, err := splitCNSymbol("000300.sh")
	require.NoError(t, err)
	assert.Equal(t, "000300", code)
	assert.Equal(t, "SH", ex)

	assert.True(t, isCNIndex("000300", "SH"))
	assert.True(t, isCNIndex("399006", "SZ"))
	assert.False(t, isCNIndex("000001", "SZ"))
	assert.False(t, isCNIndex("600519", "SH"))

	for _, bad := range []string{"000300", "00030.SH", "000300.HK", "00A300.SH"} {
		_, _, err := splitCNSymbol(bad)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest, bad)
	}
}

func TestFromAlpacaBars(t *testing.T) {
	ny := time.FixedZone("EST", -5*3600)
	raw := []marketdata.Bar{
		{Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, ny), Open: 472, High: 474, Low: 470, Close: 473, Volume: 100, VWAP: 472.5},
	}
	bars := fromAlpacaBars("spy", raw)
	require.Len(t, bars, 1)
	assert.Equal(t, testutil.Date(2024, 1, 2), bars[0].Date)
	assert.Equal(t, "SPY", bars[0].Symbol)
	assert.Equal(t, int64(100), bars[0].Volume)
	assert.Equal(t, 47250.0, bars[0].Amount)
}

type fakeProvider struct {
	calls atomic.Int32
	fail  int32 // fail this many calls first
	err   error
	bars  []domain.Bar
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) FetchDailyBars(_ context.Context, _ string, _, _ time.Time) ([]domain.Bar, error) {
	n := f.calls.Add(1)
	if n <= f.fail {
		return nil, f.err
	}
	return append([]domain.Bar(nil), f.bars...), nil
}

var spy = domain.Asset{ID: "spy", Symbol: "SPY", Market: domain.MarketUS}

func TestManagerCachesFetchedBars(t *testing.T) {
	bars := testutil.ConstantBars("", testutil.Date(2024, 1, 2), testutil.Date(2024, 3, 29), 100)
	fp := &fakeProvider{bars: bars}
	m := NewManager(map[domain.Market]Provider{domain.MarketUS: fp},
		store.NewParquetStore(t.TempDir()), ManagerConfig{MaxRetries: 1, CoverageGapDays: 5}, nil)
	ctx := context.Background()

	got, err := m.GetBars(ctx, spy, testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 31))
	require.NoError(t, err)
	require.Len(t, got, len(bars))
	assert.Equal(t, "SPY", got[0].Symbol)

	again, err := m.GetBars(ctx, spy, testutil.Date(2024, 1, 1), testutil.Date(2024, 3, 31))
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, int32(1), fp.calls.Load(), "second request should come from cache")

	// A sub-range is also served from the cache.
	sub, err := m.GetBars(ctx, spy, testutil.Date(2024, 2, 1), testutil.Date(2024, 2, 29))
	require.NoError(t, err)
	assert.Len(t, sub, 21)
	assert.Equal(t, int32(1), fp.calls.Load())
}

func TestManagerRetriesTransientErrors(t *testing.T) {
	fp := &fakeProvider{
		fail: 2,
		err:  errors.New("connection reset"),
		bars: testutil.ConstantBars("", testutil.Date(2024, 1, 2), testutil.Date(2024, 1, 31), 100),
	}
	m := NewManager(map[domain.Market]Provider{domain.MarketUS: fp}, nil,
		ManagerConfig{MaxRetries: 3, RetryDelay: time.Millisecond}, nil)

	got, err := m.GetBars(context.Background(), spy, testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 31))
	require.NoError(t, err)
	assert.NotEmpty(t, got)
	assert.Equal(t, int32(3), fp.calls.Load())
}

func TestManagerDoesNotRetryInvalidRequests(t *testing.T) {
	fp := &fakeProvider{fail: 5, err: domain.Invalidf("bad symbol")}
	m := NewManager(map[domain.Market]Provider{domain.MarketUS: fp}, nil,
		ManagerConfig{MaxRetries: 3, RetryDelay: time.Millisecond}, nil)

	_, err := m.GetBars(context.Background(), spy, testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 31))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Equal(t, int32(1), fp.calls.Load())
}

func TestManagerEmptySeries(t *testing.T) {
	m := NewManager(map[domain.Market]Provider{domain.MarketUS: &fakeProvider{}}, nil, ManagerConfig{}, nil)

	_, err := m.GetBars(context.Background(), spy, testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 31))
	assert.ErrorIs(t, err, domain.ErrInvalidPriceSeries)
}

// gatedProvider blocks every fetch until release is closed.
type gatedProvider struct {
	started  chan struct{}
	release  chan struct{}
	fetchCtx atomic.Value
	bars     []domain.Bar
}

func (g *gatedProvider) Name() string { return "gated" }

func (g *gatedProvider) FetchDailyBars(ctx context.Context, _ string, _, _ time.Time) ([]domain.Bar, error) {
	if g.fetchCtx.CompareAndSwap(nil, ctx) {
		close(g.started)
	}
	select {
	case <-g.release:
		return append([]domain.Bar(nil), g.bars...), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestManagerSharedFetchOutlivesCancelledCaller(t *testing.T) {
	gp := &gatedProvider{
		started: make(chan struct{}),
		release: make(chan struct{}),
		bars:    testutil.ConstantBars("", testutil.Date(2024, 1, 2), testutil.Date(2024, 1, 31), 100),
	}
	m := NewManager(map[domain.Market]Provider{domain.MarketUS: gp}, nil, ManagerConfig{}, nil)
	start, end := testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 31)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := m.GetBars(ctx, spy, start, end)
		first <- err
	}()
	<-gp.started

	type result struct {
		bars []domain.Bar
		err  error
	}
	second := make(chan result, 1)
	go func() {
		bars, err := m.GetBars(context.Background(), spy, start, end)
		second <- result{bars, err}
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	fetchCtx := gp.fetchCtx.Load().(context.Context)
	assert.NoError(t, fetchCtx.Err(), "the shared fetch must not inherit the caller's cancellation")
	_, hasDeadline := fetchCtx.Deadline()
	assert.True(t, hasDeadline)

	close(gp.release)
	res := <-second
	require.NoError(t, res.err)
	assert.Len(t, res.bars, len(gp.bars))
}

func TestManagerUsesInjectedLogger(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	fp := &fakeProvider{bars: testutil.ConstantBars("", testutil.Date(2024, 1, 2), testutil.Date(2024, 1, 31), 100)}
	m := NewManager(map[domain.Market]Provider{domain.MarketUS: fp}, nil, ManagerConfig{Logger: log}, nil)

	_, err := m.GetBars(context.Background(), spy, testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 31))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "fetched bars")
	assert.Contains(t, buf.String(), "component=data")
}

func TestManagerUnknownMarket(t *testing.T) {
	m := NewManager(nil, nil, ManagerConfig{}, nil)
	_, err := m.GetBars(context.Background(), spy, testutil.Date(2024, 1, 1), testutil.Date(2024, 1, 31))
	assert.Error(t, err)
}
