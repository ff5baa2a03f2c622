// Package api provides the HTTP and gRPC server for macrostrat, exposing the
// asset catalog, strategy registry, backtests, and strategy comparisons.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"macrostrat/internal/domain"
	"macrostrat/internal/monitor"
	"macrostrat/internal/strategy"
	"macrostrat/internal/util"
)

// Backtests runs and looks up single-strategy backtests. *backtest.Service
// satisfies it.
type Backtests interface {
	Registry() *strategy.Registry
	Run(ctx context.Context, req domain.BacktestRequest) (*domain.BacktestResult, error)
	Get(ctx context.Context, id string) (*domain.BacktestResult, error)
	List(ctx context.Context, limit int) ([]domain.BacktestSummary, error)
}

// Comparisons runs and looks up comparison batches. *compare.Comparator
// satisfies it.
type Comparisons interface {
	Compare(ctx context.Context, req domain.MultiBacktestRequest) (*domain.MultiBacktestResult, error)
	Get(ctx context.Context, id string) (*domain.MultiBacktestResult, error)
}

// Catalog lists assets and markets. *catalog.Catalog satisfies it.
type Catalog interface {
	List() []domain.Asset
	Get(id string) (domain.Asset, error)
	ByMarket(m domain.Market) []domain.Asset
	Markets() []domain.MarketInfo
}

// Options configures a Server. GRPCAddr may be empty to disable gRPC;
// Metrics and Logger are optional.
type Options struct {
	Addr        string
	GRPCAddr    string
	CORSOrigins []string
	Version     string

	Backtests   Backtests
	Comparisons Comparisons
	Catalog     Catalog
	Metrics     *monitor.Metrics
	Logger      *slog.Logger
}

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	opts    Options
	log     *slog.Logger
	router  *gin.Engine
	http    *http.Server
	grpc    *grpc.Server
	health  *health.Server
	started time.Time
}

// NewServer creates a new Server with all routes registered.
func NewServer(opts Options) (*Server, error) {
	if opts.Backtests == nil || opts.Comparisons == nil || opts.Catalog == nil {
		return nil, errors.New("api: backtests, comparisons, and catalog are required")
	}
	log := opts.Logger
	if log == nil {
		log = util.Discard()
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:    opts,
		log:     log.With("component", "api"),
		router:  gin.New(),
		started: time.Now(),
	}
	s.router.Use(gin.Recovery(), s.observe(), cors.New(corsConfig(opts.CORSOrigins)))
	s.routes()

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.grpc, s.health = newGRPCServer(s.log)
	return s, nil
}

func (s *Server) routes() {
	if s.opts.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.handleHealth)

		v1.GET("/markets", s.handleMarkets)
		v1.GET("/assets", s.handleAssets)
		v1.GET("/assets/:id", s.handleAsset)
		v1.GET("/assets/market/:market_type", s.handleAssetsByMarket)

		v1.GET("/strategies", s.handleStrategies)

		v1.POST("/backtest", s.handleRunBacktest)
		v1.GET("/backtest/:id", s.handleGetBacktest)
		v1.GET("/backtests", s.handleListBacktests)

		v1.POST("/backtest/multi", s.handleRunMulti)
		v1.GET("/backtest/multi/:id", s.handleGetMulti)
	}
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a fatal error occurs. Cancelling ctx shuts both
// servers down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lis net.Listener
	if s.opts.GRPCAddr != "" {
		var err error
		if lis, err = net.Listen("tcp", s.opts.GRPCAddr); err != nil {
			return fmt.Errorf("grpc listen %s: %w", s.opts.GRPCAddr, err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("http listening", "addr", s.opts.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if lis != nil {
		g.Go(func() error {
			s.log.Info("grpc listening", "addr", s.opts.GRPCAddr)
			if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown performs a graceful shutdown of the HTTP and gRPC servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(stopped)
	}()

	err := s.http.Shutdown(ctx)
	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpc.Stop()
	}
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

// observe records request metrics and logs every request.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		s.opts.Metrics.ObserveRequest(c.Request.Method, route, status, elapsed)

		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.log.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"route", route,
			"status", status,
			"duration", elapsed,
		)
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	return cfg
}
