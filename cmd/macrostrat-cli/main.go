package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"macrostrat/internal/domain"
	"macrostrat/pkg/macrostrat"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: macrostrat-cli <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  version      Print the CLI version\n")
	fmt.Fprintf(os.Stderr, "  health       Show macrostrat-server status\n")
	fmt.Fprintf(os.Stderr, "  assets       List available assets (-market cn|us)\n")
	fmt.Fprintf(os.Stderr, "  strategies   List strategy types and parameters\n")
	fmt.Fprintf(os.Stderr, "  backtest     Run one strategy\n")
	fmt.Fprintf(os.Stderr, "  compare      Run and rank several strategies\n")
	fmt.Fprintf(os.Stderr, "  get <id>     Show a stored backtest\n")
	fmt.Fprintf(os.Stderr, "  list         List stored backtests\n")
	fmt.Fprintf(os.Stderr, "\nThe server URL comes from MACROSTRAT_URL (default http://localhost:8080).\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	serverURL := "http://localhost:8080"
	if u := os.Getenv("MACROSTRAT_URL"); u != "" {
		serverURL = u
	}
	client := macrostrat.NewClient(serverURL)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "version":
		fmt.Printf("macrostrat-cli %s\n", version)
	case "health":
		err = runHealth(ctx, client)
	case "assets":
		err = runAssets(ctx, client, args)
	case "strategies":
		err = runStrategies(ctx, client)
	case "backtest":
		err = runBacktest(ctx, client, args)
	case "compare":
		err = runCompare(ctx, client, args)
	case "get":
		err = runGet(ctx, client, args)
	case "list":
		err = runList(ctx, client, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runHealth(ctx context.Context, c *macrostrat.Client) error {
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s %s (version %s, up %s)\n", h.Service, h.Status, h.Version, h.Uptime)
	return nil
}

func runAssets(ctx context.Context, c *macrostrat.Client, args []string) error {
	fs := flag.NewFlagSet("assets", flag.ExitOnError)
	market := fs.String("market", "", "filter by market (cn, a_share, us)")
	fs.Parse(args)

	var (
		assets []domain.Asset
		err    error
	)
	if *market != "" {
		assets, err = c.AssetsByMarket(ctx, *market)
	} else {
		assets, err = c.Assets(ctx)
	}
	if err != nil {
		return err
	}
	writeAssets(os.Stdout, assets)
	return nil
}

func runStrategies(ctx context.Context, c *macrostrat.Client) error {
	descs, err := c.Strategies(ctx)
	if err != nil {
		return err
	}
	writeStrategies(os.Stdout, descs)
	return nil
}

// window holds the flags shared by backtest and compare.
type window struct {
	asset, start, end string
	cash              float64
	asJSON            bool
}

func (w *window) register(fs *flag.FlagSet) {
	fs.StringVar(&w.asset, "asset", "csi300", "asset ID")
	fs.StringVar(&w.start, "start", time.Now().AddDate(-1, 0, 0).Format("2006-01-02"), "start date YYYY-MM-DD")
	fs.StringVar(&w.end, "end", time.Now().Format("2006-01-02"), "end date YYYY-MM-DD")
	fs.Float64Var(&w.cash, "cash", 1_000_000, "initial cash")
	fs.BoolVar(&w.asJSON, "json", false, "print the raw JSON result")
}

func (w *window) dates() (time.Time, time.Time, error) {
	start, err := domain.ParseDate(w.start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := domain.ParseDate(w.end)
	return start, end, err
}

func runBacktest(ctx context.Context, c *macrostrat.Client, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	var w window
	w.register(fs)
	typ := fs.String("strategy", string(domain.StrategyBuyAndHold), "strategy type")
	params := fs.String("params", "", `strategy parameters as JSON, e.g. '{"target_allocation":0.8}'`)
	fs.Parse(args)

	start, end, err := w.dates()
	if err != nil {
		return err
	}
	cfg := domain.StrategyConfig{Type: domain.StrategyType(*typ)}
	if *params != "" {
		if err := json.Unmarshal([]byte(*params), &cfg.Parameters); err != nil {
			return fmt.Errorf("-params: %w", err)
		}
	}

	res, err := c.RunBacktest(ctx, domain.BacktestRequest{
		AssetID:     w.asset,
		Strategy:    cfg,
		StartDate:   start,
		EndDate:     end,
		InitialCash: w.cash,
	})
	if err != nil {
		return err
	}
	if w.asJSON {
		return printJSON(res)
	}
	writeResult(os.Stdout, res)
	return nil
}

func runCompare(ctx context.Context, c *macrostrat.Client, args []string) error {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	var w window
	w.register(fs)
	types := fs.String("strategies", "buy_and_hold,monthly_rotation,sma_cross", "comma-separated strategy types")
	benchmark := fs.String("benchmark", "", "benchmark asset ID")
	rankBy := fs.String("rank-by", "", "metric to rank by (default total_return)")
	corr := fs.Bool("correlation", false, "include the return correlation matrix")
	fs.Parse(args)

	start, end, err := w.dates()
	if err != nil {
		return err
	}
	req := domain.MultiBacktestRequest{
		AssetID:     w.asset,
		StartDate:   start,
		EndDate:     end,
		InitialCash: w.cash,
		Benchmark:   *benchmark,
		ComparisonOpt: &domain.ComparisonOptions{
			RankBy:          *rankBy,
			ShowCorrelation: *corr,
		},
	}
	for _, t := range strings.Split(*types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			req.Strategies = append(req.Strategies, domain.StrategyConfig{Type: domain.StrategyType(t)})
		}
	}

	res, err := c.Compare(ctx, req)
	if err != nil {
		return err
	}
	if w.asJSON {
		return printJSON(res)
	}
	writeComparison(os.Stdout, res)
	return nil
}

func runGet(ctx context.Context, c *macrostrat.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: macrostrat-cli get <id>")
	}
	res, err := c.GetBacktest(ctx, args[0])
	if err != nil {
		return err
	}
	writeResult(os.Stdout, res)
	return nil
}

func runList(ctx context.Context, c *macrostrat.Client, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	limit := fs.Int("limit", 20, "maximum results")
	fs.Parse(args)

	list, err := c.ListBacktests(ctx, *limit)
	if err != nil {
		return err
	}
	writeSummaries(os.Stdout, list)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
