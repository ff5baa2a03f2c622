package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"macrostrat/internal/api"
	"macrostrat/internal/app"
	"macrostrat/internal/config"
	"macrostrat/internal/gather"
	"macrostrat/internal/util"
)

const version = "0.1.0"

func main() {
	if err := config.LoadEnvFiles(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg, err := config.LoadOrDefault(config.Path())
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Logging)
	util.SetDefault(logger)

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialise: %v", err)
	}
	defer a.Close()

	srv, err := api.NewServer(api.Options{
		Addr:        cfg.Server.Addr(),
		GRPCAddr:    cfg.Server.GRPCAddr(),
		CORSOrigins: cfg.Server.CORSOrigins,
		Version:     version,
		Backtests:   a.Backtests,
		Comparisons: a.Comparator,
		Catalog:     a.Catalog,
		Metrics:     a.Metrics,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx) })

	if cfg.Gather.Schedule != "" {
		pf, err := a.Prefetcher()
		if err != nil {
			log.Fatalf("failed to create prefetcher: %v", err)
		}
		sched, err := gather.NewScheduler(cfg.Gather.Schedule, pf, logger)
		if err != nil {
			log.Fatalf("failed to create scheduler: %v", err)
		}
		logger.Info("prefetch scheduled", "spec", cfg.Gather.Schedule)
		g.Go(func() error { return sched.Run(ctx) })
	}

	logger.Info("macrostrat-server starting", "version", version, "addr", cfg.Server.Addr())
	if err := g.Wait(); err != nil {
		logger.Error("server exited", "error", err)
		a.Close()
		log.Fatal(err)
	}
}
