package api

import (
	"context"
	"net/http"
	"time"
)

// StatusResponse is the response for GET /api/status
type StatusResponse struct {
	Status            string `json:"status"`
	StoreStatus       string `json:"store_status"`
	AIGeneratorStatus string `json:"ai_generator_status"`
	Watchers          int    `json:"watchers"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:            "phishdrill is running",
		StoreStatus:       "online",
		AIGeneratorStatus: "offline",
	}
	if s.textgen != nil {
		resp.AIGeneratorStatus = "online"
	}
	if s.broker != nil {
		resp.Watchers = s.broker.Subscribers()
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.service.Ping(ctx); err != nil {
		s.logger.Warn("store ping failed", "error", err)
		resp.StoreStatus = "error"
		sendJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	sendJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	})
}
