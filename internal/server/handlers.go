package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/meridian/finrag/internal/agent"
	"github.com/meridian/finrag/internal/models"
)

type askRequest struct {
	Question string         `json:"question"`
	Filter   *models.Filter `json:"filter,omitempty"`
}

type analyzeRequest struct {
	Portfolio agent.Portfolio `json:"portfolio"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("ask request", zap.String("question", req.Question))
	res := s.copilot.Ask(r.Context(), req.Question, req.Filter)
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("analyze request", zap.Int("positions", len(req.Portfolio.Positions)))
	rep := s.copilot.Analyze(r.Context(), &req.Portfolio)
	s.respondJSON(w, http.StatusOK, rep)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"index_size": s.index.Len(),
		"pipeline":   s.metrics.Snapshot(),
	}
	if !s.started.IsZero() {
		resp["uptime_seconds"] = int64(time.Since(s.started).Seconds())
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
