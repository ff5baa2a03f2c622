package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"macrostrat/internal/domain"
	"macrostrat/internal/strategy"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")
	table.SetAutoWrapText(false)
	return table
}

func pct(v float64) string   { return strconv.FormatFloat(v*100, 'f', 2, 64) + "%" }
func ratio(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }

func writeAssets(w io.Writer, assets []domain.Asset) {
	table := newTable(w, "ID", "Symbol", "Name", "Market", "Class", "Currency")
	for _, a := range assets {
		table.Append([]string{a.ID, a.Symbol, a.Name, string(a.Market), string(a.AssetClass), a.Currency})
	}
	table.Render()
}

func writeStrategies(w io.Writer, descs []strategy.Descriptor) {
	table := newTable(w, "Type", "Parameter", "Default", "Description")
	for _, d := range descs {
		if len(d.Parameters) == 0 {
			table.Append([]string{string(d.Type), "", "", d.Description})
			continue
		}
		for i, p := range d.Parameters {
			typ := ""
			if i == 0 {
				typ = string(d.Type)
			}
			table.Append([]string{typ, p.Name, fmt.Sprint(p.Default), p.Description})
		}
	}
	table.Render()
}

func writeResult(w io.Writer, res *domain.BacktestResult) {
	m := res.PerformanceMetrics
	fmt.Fprintf(w, "Backtest %s: %s on %s, %s to %s\n", res.ID, res.Request.Strategy.Type, res.Request.AssetID,
		res.Request.StartDate.Format("2006-01-02"), res.Request.EndDate.Format("2006-01-02"))

	table := newTable(w, "Metric", "Value")
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.Append([]string{"Start Value", strconv.FormatFloat(m.StartValue, 'f', 2, 64)})
	table.Append([]string{"End Value", strconv.FormatFloat(m.EndValue, 'f', 2, 64)})
	table.Append([]string{"Total Return", pct(m.TotalReturn)})
	table.Append([]string{"Annualized Return", pct(m.AnnualizedReturn)})
	table.Append([]string{"Max Drawdown", pct(m.MaxDrawdown)})
	table.Append([]string{"Volatility", pct(m.Volatility)})
	table.Append([]string{"Sharpe", ratio(m.SharpeRatio)})
	table.Append([]string{"Sortino", ratio(m.SortinoRatio)})
	table.Append([]string{"Calmar", ratio(m.CalmarRatio)})
	table.Append([]string{"Trades", strconv.Itoa(m.TotalTrades)})
	table.Append([]string{"Win Rate", pct(m.WinRate)})
	table.Append([]string{"Trading Days", strconv.Itoa(m.TradingDays)})
	table.Render()

	if len(res.SkippedSignals) > 0 {
		fmt.Fprintf(w, "%d signals skipped\n", len(res.SkippedSignals))
	}
}

func writeComparison(w io.Writer, res *domain.MultiBacktestResult) {
	cmp := res.Comparison
	table := newTable(w, "Rank", "Name", "Total Return", "Ann. Return", "Max DD", "Sharpe", "Trades", "Win Rate")
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, e := range cmp.RankedMetrics {
		name := e.Name
		if e.Benchmark {
			name += " (benchmark)"
		}
		m := e.Metrics
		table.Append([]string{
			strconv.Itoa(e.Rank), name, pct(m.TotalReturn), pct(m.AnnualizedReturn),
			pct(m.MaxDrawdown), ratio(m.SharpeRatio), strconv.Itoa(m.TotalTrades), pct(m.WinRate),
		})
	}
	table.Render()

	fmt.Fprintf(w, "Ranked by %s. Best: %s. Worst: %s.\n", cmp.RankBy, cmp.BestStrategy, cmp.WorstStrategy)
	if cmp.Summary != "" {
		fmt.Fprintln(w, cmp.Summary)
	}

	if c := cmp.CorrelationMatrix; c != nil {
		corr := newTable(w, append([]string{""}, c.Names...)...)
		corr.SetAlignment(tablewriter.ALIGN_RIGHT)
		for i, row := range c.Values {
			cells := []string{c.Names[i]}
			for _, v := range row {
				cells = append(cells, ratio(v))
			}
			corr.Append(cells)
		}
		corr.Render()
	}
}

func writeSummaries(w io.Writer, list []domain.BacktestSummary) {
	table := newTable(w, "ID", "Asset", "Strategy", "Period", "Total Return", "Created")
	for _, s := range list {
		table.Append([]string{
			s.ID, s.AssetID, string(s.StrategyType),
			strings.Join([]string{s.StartDate.Format("2006-01-02"), s.EndDate.Format("2006-01-02")}, " to "),
			pct(s.TotalReturn), s.CreatedAt.Format("2006-01-02 15:04"),
		})
	}
	table.Render()
}
