package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/phishdrill/internal/campaign"
)

// CampaignResponse is a campaign plus its derived fields
type CampaignResponse struct {
	*campaign.Campaign
	DisplayLabel string           `json:"display_label"`
	Summary      campaign.Summary `json:"summary"`
}

// ListResponse is the response for GET /campaigns
type ListResponse struct {
	Campaigns []CampaignResponse `json:"campaigns"`
}

// StatusRequest is the request body for PATCH /campaigns/{id}/status
type StatusRequest struct {
	Status campaign.Status `json:"status"`
}

// ResultsResponse is the response for GET /campaigns/{id}/results
type ResultsResponse struct {
	CampaignID string           `json:"campaign_id"`
	Version    uint64           `json:"version"`
	Summary    campaign.Summary `json:"summary"`
	Results    campaign.Results `json:"results"`
}

// SendRequest is the request body for POST /campaigns/{id}/send
type SendRequest struct {
	Targets []string `json:"targets,omitempty"`
}

func (s *Server) toResponse(c *campaign.Campaign, now time.Time) CampaignResponse {
	return CampaignResponse{
		Campaign:     c,
		DisplayLabel: c.DisplayLabel(now),
		Summary:      c.Results.Summarize(),
	}
}

// handleCreateCampaign handles POST /api/v1/campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var draft campaign.Draft
	if err := decodeJSON(w, r, &draft); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.service.Create(r.Context(), owner(r), draft)
	if err != nil {
		s.writeCampaignError(w, err, "failed to create campaign")
		return
	}

	sendJSON(w, http.StatusCreated, s.toResponse(c, time.Now()))
}

// handleListCampaigns handles GET /api/v1/campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	filter := campaign.ListFilter{Status: campaign.Status(r.URL.Query().Get("status"))}

	var err error
	if filter.Limit, err = queryInt(r, "limit"); err != nil {
		sendError(w, http.StatusBadRequest, "limit must be a number")
		return
	}
	if filter.Offset, err = queryInt(r, "offset"); err != nil {
		sendError(w, http.StatusBadRequest, "offset must be a number")
		return
	}

	list, err := s.service.List(r.Context(), owner(r), filter)
	if err != nil {
		s.writeCampaignError(w, err, "failed to list campaigns")
		return
	}

	now := time.Now()
	resp := ListResponse{Campaigns: make([]CampaignResponse, len(list))}
	for i, c := range list {
		resp.Campaigns[i] = s.toResponse(c, now)
	}
	sendJSON(w, http.StatusOK, resp)
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.service.Get(r.Context(), owner(r), id)
	if err != nil {
		s.writeCampaignError(w, err, "failed to get campaign", "campaign_id", id)
		return
	}
	sendJSON(w, http.StatusOK, s.toResponse(c, time.Now()))
}

// handleSetStatus handles PATCH /api/v1/campaigns/{id}/status
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := s.service.SetStatus(r.Context(), owner(r), id, req.Status)
	if err != nil {
		s.writeCampaignError(w, err, "failed to update campaign status", "campaign_id", id)
		return
	}
	sendJSON(w, http.StatusOK, s.toResponse(c, time.Now()))
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.service.Delete(r.Context(), owner(r), id); err != nil {
		s.writeCampaignError(w, err, "failed to delete campaign", "campaign_id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleResults handles GET /api/v1/campaigns/{id}/results
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.agg.Read(r.Context(), owner(r), id)
	if err != nil {
		s.writeCampaignError(w, err, "failed to read results", "campaign_id", id)
		return
	}

	sendJSON(w, http.StatusOK, ResultsResponse{
		CampaignID: c.ID,
		Version:    c.Version,
		Summary:    c.Results.Summarize(),
		Results:    c.Results,
	})
}

// handlePreview handles GET /api/v1/campaigns/{id}/preview
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, err := s.service.Preview(r.Context(), owner(r), id, r.URL.Query().Get("target"))
	if err != nil {
		s.writeCampaignError(w, err, "failed to preview campaign", "campaign_id", id)
		return
	}
	sendJSON(w, http.StatusOK, p)
}

// handleSend handles POST /api/v1/campaigns/{id}/send
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if s.sender == nil {
		sendError(w, http.StatusServiceUnavailable, "Mailer is not configured")
		return
	}
	id := chi.URLParam(r, "id")

	var req SendRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := s.sender.Send(r.Context(), owner(r), id, req.Targets)
	if err != nil {
		s.writeCampaignError(w, err, "failed to send campaign", "campaign_id", id)
		return
	}
	sendJSON(w, http.StatusOK, res)
}

func queryInt(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
