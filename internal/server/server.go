// Package server provides the HTTP API for finrag.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridian/finrag/internal/agent"
	"github.com/meridian/finrag/internal/config"
	"github.com/meridian/finrag/internal/pipeline"
	"github.com/meridian/finrag/internal/vector"
)

// Server is the HTTP server for the finrag API. It is a thin layer: request
// decoding and response encoding only, with the copilot and pipeline metrics
// behind it.
type Server struct {
	copilot *agent.Copilot
	metrics *pipeline.Metrics
	index   vector.Index
	config  *config.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	started time.Time
}

// NewServer creates a server with the given dependencies.
func NewServer(
	copilot *agent.Copilot,
	metrics *pipeline.Metrics,
	index vector.Index,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		copilot: copilot,
		metrics: metrics,
		index:   index,
		config:  cfg,
		logger:  logger,
	}
}

// Router builds the chi router with all routes and middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/api/ask", s.handleAsk)
	r.Post("/api/analyze", s.handleAnalyze)
	r.Get("/api/status", s.handleStatus)
	r.Get("/healthz", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.started = time.Now()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestID tags every request with a fresh id for log correlation.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}
