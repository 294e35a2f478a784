// Package api is the HTTP/SSE Edge (C11): two gin.Engine listeners sharing
// one process-scoped core.Core, generalized from the teacher's
// single-listener pkg/api/server.go wiring style (Set*-injection plus a
// validated-at-startup wiring check) to the spec's two-port split — a main
// listener streaming the speculative pipeline over SSE, and a control
// listener that bypasses Debug entirely for A/B baselining (spec.md §6).
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/codeready-toolchain/speql/pkg/config"
	"github.com/codeready-toolchain/speql/pkg/core"
	"github.com/codeready-toolchain/speql/pkg/history"
	"github.com/codeready-toolchain/speql/pkg/orchestrator"
	"github.com/codeready-toolchain/speql/pkg/warehouse"
)

// Server owns both HTTP listeners SpeQL exposes.
type Server struct {
	cfg    *config.Config
	core   *core.Core
	orch   *orchestrator.Orchestrator
	engine *warehouse.Engine
	store  *history.Store      // nil when history persistence is disabled (History.Enabled == false)
	logger *history.FlatLogger // one per process lifetime, matching the original's per-run directory

	main    *gin.Engine
	control *gin.Engine

	mainSrv    *http.Server
	controlSrv *http.Server
}

// NewServer builds a Server wired to orch for the main listener and engine
// for the control listener's bypass path. store and logger may be nil:
// history recording is then skipped rather than panicking, matching the
// teacher's own pattern of nil-checking optional Set* dependencies at
// request time.
func NewServer(cfg *config.Config, c *core.Core, orch *orchestrator.Orchestrator, engine *warehouse.Engine, store *history.Store, logger *history.FlatLogger) *Server {
	s := &Server{cfg: cfg, core: c, orch: orch, engine: engine, store: store, logger: logger}

	s.main = gin.New()
	s.main.Use(gin.Recovery())
	s.main.GET("/health", s.healthHandler)
	s.main.POST("/query", s.queryHandler)

	s.control = gin.New()
	s.control.Use(gin.Recovery())
	s.control.GET("/health", s.healthHandler)
	s.control.POST("/query", s.controlHandler)
	s.control.GET("/history", s.historyHandler)

	return s
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}

// Run starts both listeners and blocks until ctx is cancelled or either
// server fails; on return, both servers have been shut down. Mirrors the
// teacher's single Start/Shutdown pair, generalized to two listeners run
// under one errgroup so a crash on either side tears both down together.
func (s *Server) Run(ctx context.Context) error {
	s.mainSrv = &http.Server{Addr: fmt.Sprintf(":%d", s.cfg.HTTPPort), Handler: s.main}
	s.controlSrv = &http.Server{Addr: fmt.Sprintf(":%d", s.cfg.HTTPPort+1), Handler: s.control}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("main listener starting", "component", "api", "addr", s.mainSrv.Addr)
		if err := s.mainSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("main listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("control listener starting", "component", "api", "addr", s.controlSrv.Addr)
		if err := s.controlSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("control listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown()
	})

	return g.Wait()
}

func (s *Server) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if s.mainSrv != nil {
		if err := s.mainSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.controlSrv != nil {
		if err := s.controlSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("api: shutdown: %v", errs)
	}
	return nil
}
