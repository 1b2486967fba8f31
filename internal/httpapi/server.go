// Package httpapi wraps the control loop's read-only status surface and
// the reset-retry command in an HTTP+WebSocket server. Handlers hold no
// business logic: each one reads a snapshot from the control loop or
// forwards a command through its serialized command channel.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/ridgeline-av/streamctl/internal/controlloop"
	"github.com/ridgeline-av/streamctl/internal/ingest"
	"github.com/ridgeline-av/streamctl/internal/logging"
	"github.com/ridgeline-av/streamctl/internal/retry"
)

var log = logging.L("httpapi")

// Features lists which optional subsystems are enabled, reported
// verbatim on /health and /api/status.
type Features struct {
	OBSIntegration bool `json:"obs_integration"`
	OBSHTTPBridge  bool `json:"obs_http_bridge"`
	IngestMonitoring bool `json:"ingest_monitoring"`
	RetryLogic     bool `json:"retry_logic"`
	DualMetrics    bool `json:"dual_metrics"`
	SRTLATransport bool `json:"srtla_transport"`
	RTMPAuth       bool `json:"rtmp_auth"`
}

// Config wires the server's collaborators.
type Config struct {
	Host     string
	Port     int
	Loop     *controlloop.Loop
	Retry    *retry.Wrapper
	Poller   *ingest.Poller // nil when ingest monitoring is disabled
	Features Features

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Server is the HTTP+WS surface described in the external interface
// contract.
type Server struct {
	cfg        Config
	router     *chi.Mux
	httpServer *http.Server
}

// New builds a Server and registers all routes.
func New(cfg Config) *Server {
	cfg = cfg.withDefaults()

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.RealIP)

	s := &Server{cfg: cfg, router: router}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)
	s.router.Get("/api/metrics", s.handleMetrics)
	s.router.Get("/api/metrics/aggregated", s.handleAggregatedMetrics)
	s.router.Get("/api/ingest/stats", s.handleIngestStats)
	s.router.Get("/api/state-machine/retry-status", s.handleRetryStatus)
	s.router.Post("/api/state-machine/reset-retry", s.handleResetRetry)
	s.router.Get("/ws", s.handleWebSocket)
}

// Router exposes the underlying chi router, mainly for tests.
func (s *Server) Router() *chi.Mux { return s.router }

// ListenAndServe starts the server and blocks until ctx is cancelled or
// the server errors out.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

// Shutdown gracefully stops the server, part of the shutdown sequence:
// stop control loop -> stop pollers/feeders -> stop broadcast client ->
// drain event sink -> stop HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	log.Info("http server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}
