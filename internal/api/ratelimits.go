package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/phishdrill/internal/ratelimit"
)

// RateLimitStatsResponse is the response for GET /api/v1/ratelimits/{level}/{key}
type RateLimitStatsResponse struct {
	Level       string `json:"level"`
	Key         string `json:"key"`
	HourlyCount int    `json:"hourly_count"`
	DailyCount  int    `json:"daily_count"`
	HourlyLimit int    `json:"hourly_limit"`
	DailyLimit  int    `json:"daily_limit"`

	// WouldAllow reports whether the next event for the key passes every limit
	WouldAllow bool   `json:"would_allow"`
	DeniedBy   string `json:"denied_by,omitempty"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

// handleRateLimitStats handles GET /api/v1/ratelimits/{level}/{key}
func (s *Server) handleRateLimitStats(w http.ResponseWriter, r *http.Request) {
	level := ratelimit.Level(chi.URLParam(r, "level"))
	key := chi.URLParam(r, "key")

	switch level {
	case ratelimit.LevelGlobal, ratelimit.LevelIP, ratelimit.LevelCampaign:
	default:
		sendError(w, http.StatusBadRequest, "level must be global, ip or campaign")
		return
	}

	if s.limiter == nil {
		sendError(w, http.StatusServiceUnavailable, "Rate limiting is not enabled")
		return
	}

	// Campaign counters are only visible to the campaign owner
	if level == ratelimit.LevelCampaign {
		if _, err := s.service.Get(r.Context(), owner(r), key); err != nil {
			s.writeCampaignError(w, err, "failed to get campaign", "campaign_id", key)
			return
		}
	}

	stats, err := s.limiter.GetStats(r.Context(), level, key)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to get rate limit stats")
		return
	}

	resp := RateLimitStatsResponse{
		Level:       string(level),
		Key:         key,
		HourlyCount: stats.HourlyCount,
		DailyCount:  stats.DailyCount,
	}
	if limit := s.limiter.LimitFor(level); limit != nil {
		resp.HourlyLimit = limit.EventsPerHour
		resp.DailyLimit = limit.EventsPerDay
	}

	req := &ratelimit.Request{}
	switch level {
	case ratelimit.LevelIP:
		req.IP = key
	case ratelimit.LevelCampaign:
		req.CampaignID = key
	}
	check, err := s.limiter.Check(r.Context(), req)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to check rate limit")
		return
	}
	resp.WouldAllow = check.Allowed
	if !check.Allowed {
		resp.DeniedBy = string(check.DeniedBy)
		resp.RetryAfter = retryAfterSeconds(check.RetryAfter)
	}
	sendJSON(w, http.StatusOK, resp)
}
