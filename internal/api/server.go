package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"dockeragent-core/internal/config"
	"dockeragent-core/internal/executor"
	"dockeragent-core/internal/gateway"
	"dockeragent-core/internal/monitor"
	"dockeragent-core/internal/storage"
)

// Server is the HTTP facade over the Command Gateway, Programmatic
// Executor, and Trajectory Recorder — transport glue that any other
// frontend (the CLI, an agent runtime) could replace.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, gw *gateway.Gateway, ex *executor.Executor, db *storage.DB, writer *storage.TrajectoryWriter, metrics *monitor.Metrics) *Server {
	handlers := NewHandlers(gw, ex, db, writer, metrics, cfg.Gateway.MaxRepeatedCalls)

	mux := http.NewServeMux()

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
	}

	mux.HandleFunc("GET /health", s.handleHealth(db))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("POST /v1/docker/execute", handlers.HandleDockerExecute)
	mux.HandleFunc("POST /v1/docker/execute/stream", handlers.HandleDockerExecuteStream)
	mux.HandleFunc("POST /v1/execute", handlers.HandleExecute)
	mux.HandleFunc("POST /v1/trajectories/{id}/finalize", handlers.HandleFinalizeTrajectory)
	mux.HandleFunc("GET /v1/trajectories", handlers.HandleListTrajectories)
	mux.HandleFunc("GET /v1/trajectories/{id}", handlers.HandleGetTrajectory)

	var handler http.Handler = mux
	handler = MetricsMiddleware(metrics)(handler)
	handler = AuthMiddleware(cfg.Security.AllowedKeys, len(cfg.Security.AllowedKeys) == 0)(handler)
	handler = RateLimitMiddleware(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Warn().Msg("TLS not enabled — running plain HTTP (not recommended for production)")
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the fully wrapped HTTP handler (all middleware plus
// routes) without binding a listener, so tests can drive it through
// httptest.NewServer without a real Start/Shutdown cycle.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbOK := db == nil || db.Healthy(r.Context())

		resp := HealthResponse{
			Status:   "ok",
			Database: dbOK,
			Uptime:   fmt.Sprintf("%s", time.Since(s.startTime).Round(time.Second)),
		}

		if !dbOK {
			resp.Status = "degraded"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	}
}
