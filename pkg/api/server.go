// Package api is the HTTP control surface for the orchestrator core:
// run creation/resume, ledger/timeline read endpoints, health, metrics,
// and the phase-event WebSocket. Built on gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pipeforge/runcore/pkg/config"
	"github.com/pipeforge/runcore/pkg/database"
	"github.com/pipeforge/runcore/pkg/events"
	"github.com/pipeforge/runcore/pkg/metrics"
	"github.com/pipeforge/runcore/pkg/version"
)

// Server is the HTTP API server. Its run/ledger dependencies are narrow
// interfaces (RunReader, RunLifecycle, LedgerReader) rather than concrete
// store types, matching this repo's dependency-inversion convention
// (workflow.RunStore, events.CatchupQuerier, toolregistry.Invoker) and
// letting handler tests run against fakes instead of a real database.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	cfg       *config.Config
	dbClient  *database.Client
	store     RunReader
	workflow  RunLifecycle
	ledger    LedgerReader
	publisher *events.Publisher
	connMgr   *events.ConnectionManager // nil until SetConnectionManager
	recorder  *metrics.Recorder         // nil until SetRecorder
}

// NewServer creates a new API server wired to its required dependencies
// and registers routes. connManager and recorder are wired later via
// their Set* methods, a staged-wiring pattern for components whose
// lifecycle starts after NewServer.
func NewServer(cfg *config.Config, dbClient *database.Client, store RunReader, wf RunLifecycle, led LedgerReader, publisher *events.Publisher) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(securityHeaders())

	s := &Server{
		engine: e, cfg: cfg, dbClient: dbClient, store: store,
		workflow: wf, ledger: led, publisher: publisher,
	}
	s.setupRoutes()
	return s
}

// SetConnectionManager wires the WebSocket fan-out for phase.progress
// streaming. Must be called before Start for /ws to be available.
func (s *Server) SetConnectionManager(cm *events.ConnectionManager) {
	s.connMgr = cm
}

// SetRecorder wires the Prometheus recorder for the /metrics endpoint.
func (s *Server) SetRecorder(r *metrics.Recorder) {
	s.recorder = r
}

// ValidateWiring checks that every Set*-wired dependency expected at
// production runtime has actually been set, so a missing wire-up fails
// fast at startup instead of surfacing as a 503 on first request.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.connMgr == nil {
		errs = append(errs, fmt.Errorf("connMgr not set (call SetConnectionManager)"))
	}
	if s.recorder == nil {
		errs = append(errs, fmt.Errorf("recorder not set (call SetRecorder)"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	runs := s.engine.Group("/runs")
	runs.POST("", s.handleCreateRun)
	runs.GET("/:id", s.handleGetRun)
	runs.POST("/:id/resume", s.handleResumeRun)
	runs.GET("/:id/timeline", s.handleTimeline)
	runs.GET("/:id/ledger", s.handleLedger)

	s.engine.GET("/ws", s.handleWebSocket)
}

// registerMetrics mounts the Prometheus handler. Split out from
// setupRoutes since the recorder is wired after NewServer.
func (s *Server) registerMetrics() {
	if s.recorder == nil {
		return
	}
	s.engine.GET("/metrics", gin.WrapH(s.recorder.Handler()))
}

// Start runs ValidateWiring, mounts /metrics, then serves on addr
// (blocking).
func (s *Server) Start(addr string) error {
	s.registerMetrics()
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener, used by tests that
// want a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.registerMetrics()
	s.httpServer = &http.Server{Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying gin engine for tests that want to drive
// requests with httptest without binding a real listener.
func (s *Server) Handler() http.Handler { return s.engine }

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{Status: "healthy", Version: version.Full()}

	dbHealth, err := database.Health(reqCtx, s.dbClient.Pool())
	if err != nil {
		resp.Status = "unhealthy"
		resp.Database = &DatabaseCheck{Status: "unhealthy"}
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	resp.Database = &DatabaseCheck{
		Status:         dbHealth.Status,
		ResponseTimeMS: dbHealth.ResponseTime.Milliseconds(),
		AcquiredConns:  dbHealth.AcquiredConns,
		MaxConns:       dbHealth.MaxConns,
	}
	c.JSON(http.StatusOK, resp)
}
