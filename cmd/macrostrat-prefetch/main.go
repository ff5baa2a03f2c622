package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"

	"macrostrat/internal/app"
	"macrostrat/internal/config"
	"macrostrat/internal/util"
)

func main() {
	cfgPath := flag.String("config", config.Path(), "path to the YAML config")
	assets := flag.String("assets", "", "comma-separated asset IDs (default: gather.assets, or all)")
	days := flag.Int("days", 0, "lookback in calendar days (default: gather.lookback_days)")
	flag.Parse()

	if err := config.LoadEnvFiles(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *assets != "" {
		cfg.Gather.Assets = strings.Split(*assets, ",")
	}
	if *days > 0 {
		cfg.Gather.LookbackDays = *days
	}

	logger := app.NewLogger(cfg.Logging)
	util.SetDefault(logger)

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialise: %v", err)
	}
	defer a.Close()

	pf, err := a.Prefetcher()
	if err != nil {
		log.Fatalf("failed to create prefetcher: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rep, err := pf.RunOnce(ctx)
	fmt.Printf("prefetched %d bars for %d assets (%s to %s)\n",
		rep.Bars, rep.Assets, rep.Range.Start.Format("2006-01-02"), rep.Range.End.Format("2006-01-02"))
	if err != nil {
		log.Fatalf("prefetch failed for %s: %v", strings.Join(rep.Failed, ", "), err)
	}
}
