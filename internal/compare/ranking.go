package compare

import (
	"fmt"
	"sort"
	"strings"

	"macrostrat/internal/domain"
	"macrostrat/internal/metrics"
)

// Entry is one finished run entering the ranking.
type Entry struct {
	Name      string
	Type      domain.StrategyType
	Benchmark bool
	Metrics   domain.PerformanceMetrics
	States    []domain.PortfolioState
}

// Build ranks entries by rankBy and derives the rest of the comparison.
// metrics names the columns of the tables and the summary. The benchmark is
// never best or worst unless opts allows it.
func Build(entries []Entry, rankBy string, metricNames []string, opts *domain.ComparisonOptions) domain.Comparison {
	cmp := domain.Comparison{
		RankBy:        rankBy,
		RankedMetrics: Rank(entries, rankBy),
		MetricsTable:  make(map[string]map[string]float64, len(metricNames)),
		Rankings:      make(map[string][]string, len(metricNames)+1),
	}

	eligible := func(e domain.RankedEntry) bool {
		return !e.Benchmark || (opts != nil && opts.BenchmarkEligible)
	}
	for _, e := range cmp.RankedMetrics {
		if eligible(e) {
			cmp.BestStrategy = e.Name
			break
		}
	}
	for i := len(cmp.RankedMetrics) - 1; i >= 0; i-- {
		if e := cmp.RankedMetrics[i]; eligible(e) {
			cmp.WorstStrategy = e.Name
			break
		}
	}

	for _, m := range metricNames {
		row := make(map[string]float64, len(entries))
		for _, e := range entries {
			row[e.Name], _ = e.Metrics.Value(m)
		}
		cmp.MetricsTable[m] = row
	}
	for _, m := range append([]string{rankBy}, metricNames...) {
		if _, done := cmp.Rankings[m]; done {
			continue
		}
		ranked := Rank(entries, m)
		names := make([]string, len(ranked))
		for i, r := range ranked {
			names[i] = r.Name
		}
		cmp.Rankings[m] = names
	}

	if opts != nil && opts.ShowCorrelation {
		cmp.CorrelationMatrix = Correlations(entries)
	}
	cmp.Summary = summarize(cmp, entries, metricNames)
	return cmp
}

// Rank orders entries by metric, best first. Higher is better except for
// metrics where domain.LowerIsBetter holds. Ties go to the lower max
// drawdown, then to input order.
func Rank(entries []Entry, metric string) []domain.RankedEntry {
	lower := domain.LowerIsBetter(metric)
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	value := func(i int) float64 {
		v, _ := entries[i].Metrics.Value(metric)
		return v
	}
	sort.SliceStable(idx, func(a, b int) bool {
		va, vb := value(idx[a]), value(idx[b])
		if va != vb {
			if lower {
				return va < vb
			}
			return va > vb
		}
		return entries[idx[a]].Metrics.MaxDrawdown < entries[idx[b]].Metrics.MaxDrawdown
	})

	out := make([]domain.RankedEntry, len(idx))
	for rank, i := range idx {
		e := entries[i]
		out[rank] = domain.RankedEntry{
			Rank:         rank + 1,
			Name:         e.Name,
			StrategyType: e.Type,
			Benchmark:    e.Benchmark,
			Value:        value(i),
			Metrics:      e.Metrics,
		}
	}
	return out
}

// Correlations returns the pairwise Pearson correlation of daily returns,
// aligned on shared dates with day 0 of every run excluded.
func Correlations(entries []Entry) *domain.CorrelationMatrix {
	n := len(entries)
	cm := &domain.CorrelationMatrix{Names: make([]string, n), Values: make([][]float64, n)}
	byDate := make([]map[int64]float64, n)
	for i, e := range entries {
		cm.Names[i] = e.Name
		cm.Values[i] = make([]float64, n)
		byDate[i] = make(map[int64]float64, len(e.States))
		for d, s := range e.States {
			if d == 0 {
				continue
			}
			byDate[i][s.Date.Unix()] = s.DailyReturn
		}
	}

	for i := 0; i < n; i++ {
		cm.Values[i][i] = 1
		for j := i + 1; j < n; j++ {
			var x, y []float64
			for _, s := range entries[i].States[min(1, len(entries[i].States)):] {
				if r, ok := byDate[j][s.Date.Unix()]; ok {
					x = append(x, s.DailyReturn)
					y = append(y, r)
				}
			}
			c := metrics.Correlation(x, y)
			cm.Values[i][j], cm.Values[j][i] = c, c
		}
	}
	return cm
}

func summarize(cmp domain.Comparison, entries []Entry, metricNames []string) string {
	find := func(name string) (Entry, bool) {
		for _, e := range entries {
			if e.Name == name {
				return e, true
			}
		}
		return Entry{}, false
	}

	var b strings.Builder
	best, ok := find(cmp.BestStrategy)
	if !ok {
		return "No eligible strategies to compare."
	}
	fmt.Fprintf(&b, "%s ranked first by %s among %d entries with a total return of %s",
		best.Name, cmp.RankBy, len(entries), formatMetric(domain.MetricTotalReturn, best.Metrics.TotalReturn))
	if parts := describe(best.Metrics, metricNames); parts != "" {
		fmt.Fprintf(&b, " (%s)", parts)
	}
	b.WriteString(".")

	if worst, ok := find(cmp.WorstStrategy); ok && worst.Name != best.Name {
		fmt.Fprintf(&b, " %s ranked last with a total return of %s.",
			worst.Name, formatMetric(domain.MetricTotalReturn, worst.Metrics.TotalReturn))
	}
	for _, e := range entries {
		if e.Benchmark {
			fmt.Fprintf(&b, " Benchmark %s returned %s.", e.Name, formatMetric(domain.MetricTotalReturn, e.Metrics.TotalReturn))
		}
	}
	return b.String()
}

func describe(m domain.PerformanceMetrics, names []string) string {
	parts := make([]string, 0, len(names))
	for _, n := range names {
		v, _ := m.Value(n)
		parts = append(parts, n+" "+formatMetric(n, v))
	}
	return strings.Join(parts, ", ")
}

func formatMetric(name string, v float64) string {
	switch {
	case domain.IsPercentMetric(name):
		return fmt.Sprintf("%.2f%%", v*100)
	case name == domain.MetricTotalTrades || name == domain.MetricMaxDrawdownDuration:
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
