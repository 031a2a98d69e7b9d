package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/phishdrill/internal/metrics"
)

// handleWatch handles GET /api/v1/watch: every change to the owner's campaigns
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	s.stream(w, r, "")
}

// handleCampaignWatch handles GET /api/v1/campaigns/{id}/watch
func (s *Server) handleCampaignWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.service.Get(r.Context(), owner(r), id); err != nil {
		s.writeCampaignError(w, err, "failed to watch campaign", "campaign_id", id)
		return
	}
	s.stream(w, r, id)
}

// stream writes change notifications as Server-Sent Events until the client goes away
func (s *Server) stream(w http.ResponseWriter, r *http.Request, campaignID string) {
	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Debug("cannot clear write deadline", "error", err)
	}

	changes, cancel := s.broker.Subscribe(owner(r), campaignID)
	defer cancel()

	metrics.AddWatchers(1)
	defer metrics.AddWatchers(-1)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		s.logger.Warn("streaming not supported", "error", err)
		return
	}

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(change)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", change.Kind, data); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
