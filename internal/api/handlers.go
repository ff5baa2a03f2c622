package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"macrostrat/internal/domain"
)

// Default and maximum page sizes for GET /backtests.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// response is the envelope every /api/v1 endpoint returns.
type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, response{Success: true, Data: data})
}

func (s *Server) fail(c *gin.Context, err error) {
	code := domain.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", "route", c.FullPath(), "error", err)
	}
	c.JSON(code, response{Success: false, Error: err.Error()})
}

// bindJSON decodes the request body. Decoding failures are invalid requests.
func bindJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	s.ok(c, gin.H{
		"status":    "healthy",
		"service":   "macrostrat",
		"version":   s.opts.Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMarkets(c *gin.Context) {
	s.ok(c, s.opts.Catalog.Markets())
}

func (s *Server) handleAssets(c *gin.Context) {
	s.ok(c, s.opts.Catalog.List())
}

func (s *Server) handleAsset(c *gin.Context) {
	a, err := s.opts.Catalog.Get(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, a)
}

func (s *Server) handleAssetsByMarket(c *gin.Context) {
	m, ok := domain.ParseMarket(c.Param("market_type"))
	if !ok {
		s.fail(c, domain.Invalidf("unknown market type %q", c.Param("market_type")))
		return
	}
	s.ok(c, s.opts.Catalog.ByMarket(m))
}

func (s *Server) handleStrategies(c *gin.Context) {
	s.ok(c, s.opts.Backtests.Registry().List())
}

func (s *Server) handleRunBacktest(c *gin.Context) {
	var req domain.BacktestRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	res, err := s.opts.Backtests.Run(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, res)
}

func (s *Server) handleGetBacktest(c *gin.Context) {
	res, err := s.opts.Backtests.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, res)
}

func (s *Server) handleListBacktests(c *gin.Context) {
	limit := defaultListLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.fail(c, domain.Invalidf("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}
	list, err := s.opts.Backtests.List(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, list)
}

func (s *Server) handleRunMulti(c *gin.Context) {
	var req domain.MultiBacktestRequest
	if err := bindJSON(c, &req); err != nil {
		s.fail(c, err)
		return
	}
	res, err := s.opts.Comparisons.Compare(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, res)
}

func (s *Server) handleGetMulti(c *gin.Context) {
	res, err := s.opts.Comparisons.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.ok(c, res)
}
