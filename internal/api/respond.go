package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/foxzi/phishdrill/internal/campaign"
	"github.com/foxzi/phishdrill/internal/metrics"
)

// maxBodyBytes caps JSON and form request bodies
const maxBodyBytes = 1 << 20

// ErrorResponse is the error response
type ErrorResponse struct {
	Error string `json:"error"`
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, status int, message string) {
	sendJSON(w, status, ErrorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// campaignErrorStatus maps campaign errors to an HTTP status and a client-safe message
func campaignErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		return http.StatusNotFound, "Campaign not found"
	case errors.Is(err, campaign.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, campaign.ErrTransient):
		return http.StatusServiceUnavailable, "Campaign is busy, please retry"
	case errors.Is(err, campaign.ErrUnavailable):
		return http.StatusServiceUnavailable, "Storage unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request cancelled"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeCampaignError sends the JSON error for a campaign operation failure
func (s *Server) writeCampaignError(w http.ResponseWriter, err error, msg string, args ...any) {
	status, text := campaignErrorStatus(err)
	if status >= 500 {
		metrics.IncAPIErrors(apiErrorType(status))
		s.logger.Error(msg, append(args, "error", err)...)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	sendError(w, status, text)
}

func apiErrorType(status int) string {
	if status == http.StatusServiceUnavailable {
		return "unavailable"
	}
	return "internal"
}
