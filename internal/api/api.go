// Package api exposes a minimal read-only HTTP surface over the engine's
// latest tick result and the prometheus registry, grounded on the
// reference tactics API's gin.Context/gin.H handler style.
package api

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wssxwz/stock-strategy/internal/engine"
	"github.com/wssxwz/stock-strategy/internal/execrouter"
	"github.com/wssxwz/stock-strategy/internal/metrics"
)

// Server wraps the engine and exposes it over HTTP. It never mutates
// engine state itself; every write path goes through the engine's own
// tick.
type Server struct {
	mu         sync.RWMutex
	eng        *engine.Engine
	lastResult *engine.TickResult

	router *gin.Engine
}

// New builds a Server wired to eng. Call Engine() to get the *gin.Engine
// for http.ListenAndServe.
func New(eng *engine.Engine) *Server {
	s := &Server{eng: eng}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/status", s.handleStatus)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	s.router = r
	return s
}

// Engine returns the underlying *gin.Engine for serving.
func (s *Server) Engine() *gin.Engine { return s.router }

// RecordTick stores the most recent tick result for /status to report.
func (s *Server) RecordTick(result engine.TickResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := result
	s.lastResult = &r
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.lastResult == nil {
		c.JSON(http.StatusOK, gin.H{"ticks_run": 0})
		return
	}

	r := s.lastResult
	body := gin.H{
		"started_at":        r.StartedAt,
		"duration_ms":       r.Duration.Milliseconds(),
		"candidates":        r.Candidates,
		"exits_processed":   r.Exits,
		"skips":             skipsToJSON(r.Skips),
	}
	if r.Committed != nil {
		body["committed_order"] = gin.H{
			"symbol":      r.Committed.Symbol,
			"order_id":    r.Committed.OrderID,
			"dry_run":     r.Committed.DryRun,
			"qty":         r.Committed.Qty,
			"limit_price": r.Committed.LimitPrice,
		}
	}
	if r.Err != nil {
		body["error"] = r.Err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func skipsToJSON(skips []execrouter.Skip) []gin.H {
	out := make([]gin.H, 0, len(skips))
	for _, s := range skips {
		out = append(out, gin.H{"symbol": s.Symbol, "reason": string(s.Reason)})
	}
	return out
}
