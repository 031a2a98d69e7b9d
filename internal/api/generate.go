package api

import (
	"errors"
	"net/http"

	"github.com/foxzi/phishdrill/internal/textgen"
)

// GenerateRequest is the request body for POST /api/generate-email
type GenerateRequest struct {
	Prompt string `json:"prompt"`
}

// GenerateResponse is the response for POST /api/generate-email
type GenerateResponse struct {
	GeneratedText string `json:"generated_text"`
}

// handleGenerateEmail handles POST /api/generate-email
func (s *Server) handleGenerateEmail(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Prompt == "" {
		sendError(w, http.StatusBadRequest, "Prompt is required")
		return
	}
	if s.textgen == nil {
		sendError(w, http.StatusServiceUnavailable, "AI text generation is not configured")
		return
	}

	text, err := s.textgen.Generate(r.Context(), req.Prompt)
	if err != nil {
		if errors.Is(err, textgen.ErrEmptyPrompt) {
			sendError(w, http.StatusBadRequest, "Prompt is required")
			return
		}
		s.logger.Error("text generation failed", "owner", owner(r), "error", err)
		sendError(w, http.StatusBadGateway, "Could not generate email content")
		return
	}

	sendJSON(w, http.StatusOK, GenerateResponse{GeneratedText: text})
}
