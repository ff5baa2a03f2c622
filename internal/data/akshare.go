package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"macrostrat/internal/domain"
	"macrostrat/internal/util"
)

var _ Provider = (*AKShareProvider)(nil)

// Script commands understood by the akshare helper.
const (
	akIndexDaily = "get_stock_zh_index_daily"
	akStockHist  = "get_stock_zh_a_hist"
)

// Column names emitted by akshare, localized first.
var akColumns = map[string][]string{
	"date":   {"日期", "date"},
	"open":   {"开盘", "open"},
	"high":   {"最高", "high"},
	"low":    {"最低", "low"},
	"close":  {"收盘", "close"},
	"volume": {"成交量", "volume"},
	"amount": {"成交额", "amount"},
}

// AKShareProvider fetches China A-share daily bars by running the akshare
// helper script in a Python subprocess. The script prints a JSON array of
// rows on success and {"error": "..."} with a non-zero exit on failure.
type AKShareProvider struct {
	python string
	script string
	log    *slog.Logger
}

// NewAKShareProvider creates a provider that runs script with the given
// Python interpreter. log may be nil.
func NewAKShareProvider(python, script string, log *slog.Logger) *AKShareProvider {
	if python == "" {
		python = "python3"
	}
	if log == nil {
		log = util.Discard()
	}
	return &AKShareProvider{
		python: python,
		script: script,
		log:    log.With("provider", "akshare"),
	}
}

// Name returns the provider identifier.
func (p *AKShareProvider) Name() string { return "akshare" }

// FetchDailyBars runs the helper for symbol (e.g. "000300.SH") and parses its
// output.
func (p *AKShareProvider) FetchDailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	code, exchange, err := splitCNSymbol(symbol)
	if err != nil {
		return nil, util.Permanent(err)
	}
	command := akStockHist
	if isCNIndex(code, exchange) {
		command = akIndexDaily
	}

	cmd := exec.CommandContext(ctx, p.python, p.script, command,
		strings.ToLower(exchange)+code, start.Format("20060102"), end.Format("20060102"))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(stdout.Bytes(), &failure) == nil && failure.Error != "" {
			return nil, fmt.Errorf("akshare %s %s: %s", command, symbol, failure.Error)
		}
		return nil, fmt.Errorf("akshare %s %s: %w: %s", command, symbol, err, strings.TrimSpace(stderr.String()))
	}

	bars, skipped, err := parseAKShareRows(stdout.Bytes(), symbol)
	if err != nil {
		return nil, fmt.Errorf("akshare %s %s: %w", command, symbol, err)
	}
	if skipped > 0 {
		p.log.Debug("skipped unparsable rows", "symbol", symbol, "rows", skipped)
	}
	return normalize(bars, day(start), day(end)), nil
}

// parseAKShareRows decodes the helper's JSON array. Rows without a parsable
// date or close are counted and skipped.
func parseAKShareRows(data []byte, symbol string) ([]domain.Bar, int, error) {
	var rows []map[string]any
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, 0, fmt.Errorf("decoding output: %w", err)
	}

	bars := make([]domain.Bar, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		date, ok := parseAKDate(column(row, "date"))
		if !ok {
			skipped++
			continue
		}
		closePx, ok := toFloat(column(row, "close"))
		if !ok {
			skipped++
			continue
		}
		b := domain.Bar{Symbol: symbol, Date: date, Close: closePx}
		b.Open, _ = toFloat(column(row, "open"))
		b.High, _ = toFloat(column(row, "high"))
		b.Low, _ = toFloat(column(row, "low"))
		b.Amount, _ = toFloat(column(row, "amount"))
		if v, ok := toFloat(column(row, "volume")); ok {
			b.Volume = int64(v)
		}
		bars = append(bars, b)
	}
	return bars, skipped, nil
}

func column(row map[string]any, field string) any {
	for _, k := range akColumns[field] {
		if v, ok := row[k]; ok {
			return v
		}
	}
	return nil
}

func parseAKDate(v any) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", "20060102", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return day(t), true
		}
	}
	return time.Time{}, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// splitCNSymbol splits "000300.SH" into its six-digit code and exchange.
func splitCNSymbol(symbol string) (code, exchange string, err error) {
	code, exchange, ok := strings.Cut(strings.ToUpper(symbol), ".")
	if !ok || len(code) != 6 || (exchange != "SH" && exchange != "SZ") {
		return "", "", fmt.Errorf("%w: %q is not a CN symbol like 000300.SH", domain.ErrInvalidRequest, symbol)
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return "", "", fmt.Errorf("%w: %q is not a CN symbol like 000300.SH", domain.ErrInvalidRequest, symbol)
		}
	}
	return code, exchange, nil
}

// isCNIndex reports whether a six-digit code names an index rather than a
// stock. Index codes start with 000 on SSE and 399 on SZSE.
func isCNIndex(code, exchange string) bool {
	if exchange == "SH" {
		return strings.HasPrefix(code, "000")
	}
	return strings.HasPrefix(code, "399")
}
