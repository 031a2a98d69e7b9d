package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/foxzi/phishdrill/internal/campaign"
	"github.com/foxzi/phishdrill/internal/landing"
	"github.com/foxzi/phishdrill/internal/metrics"
	"github.com/foxzi/phishdrill/internal/ratelimit"
)

// handleLanding handles GET /p: records the click and renders the campaign's page
func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	campaignID := q.Get("campaignId")
	target := q.Get("targetEmail")
	ip := s.proxies.ClientIP(r)

	if campaignID == "" {
		s.renderProblem(w, http.StatusBadRequest, "Invalid Link", "This link is incomplete.")
		return
	}
	if !s.allowEvent(w, r, ip, campaignID) {
		return
	}

	c, err := s.agg.RecordClick(r.Context(), campaign.ClickEvent{
		CampaignID:  campaignID,
		TargetEmail: target,
		IP:          ip,
	})
	if err != nil {
		s.renderEventError(w, err, campaignID)
		return
	}

	page := landing.ForVariant(c.SimulatedPageType)
	s.renderPage(w, http.StatusOK, page, landing.Data{
		CampaignID:      c.ID,
		TargetEmail:     target,
		SubmitPath:      campaign.LandingPath + "/submit",
		NoticePath:      campaign.LandingPath + "/notice",
		WarnCredentials: page == landing.PageLogin,
	})
}

// handleSubmit handles POST /p/submit: records the submitted credentials
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		s.renderProblem(w, http.StatusBadRequest, "Invalid Request", "The form could not be read.")
		return
	}

	campaignID := r.PostForm.Get("campaignId")
	ip := s.proxies.ClientIP(r)
	if campaignID == "" {
		s.renderProblem(w, http.StatusBadRequest, "Invalid Request", "This form is incomplete.")
		return
	}
	if !s.allowEvent(w, r, ip, campaignID) {
		return
	}

	_, err := s.agg.RecordSubmission(r.Context(), campaign.SubmissionEvent{
		CampaignID:  campaignID,
		TargetEmail: r.PostForm.Get("targetEmail"),
		IP:          ip,
		Credentials: campaign.Credentials{
			Username: r.PostForm.Get("username"),
			Password: r.PostForm.Get("password"),
		},
	})
	if err != nil {
		s.renderEventError(w, err, campaignID)
		return
	}

	s.renderPage(w, http.StatusOK, landing.PageSuccess, landing.Data{CampaignID: campaignID})
}

// handleNotice handles GET /p/notice, the end of the update variant
func (s *Server) handleNotice(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, landing.PageNotice, landing.Data{})
}

// allowEvent applies the tracking rate limits; it writes the 429 page and
// returns false when the event is denied
func (s *Server) allowEvent(w http.ResponseWriter, r *http.Request, ip, campaignID string) bool {
	if s.limiter == nil {
		return true
	}

	res, err := s.limiter.Allow(r.Context(), &ratelimit.Request{IP: ip, CampaignID: campaignID})
	if err != nil {
		s.logger.Error("rate limit check failed", "error", err)
		return true
	}
	if res.Allowed {
		return true
	}

	metrics.IncRateLimitExceeded(string(res.DeniedBy))
	s.logger.Warn("tracking event rate limited",
		"campaign_id", campaignID,
		"ip", ip,
		"level", res.DeniedBy,
	)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.RetryAfter)))
	s.renderProblem(w, http.StatusTooManyRequests, "Too Many Requests", "Please try again later.")
	return false
}

func (s *Server) renderEventError(w http.ResponseWriter, err error, campaignID string) {
	status, msg := campaignErrorStatus(err)
	switch {
	case errors.Is(err, campaign.ErrNotFound):
		s.renderPage(w, http.StatusNotFound, landing.PageNotFound, landing.Data{})
		return
	case status >= 500:
		metrics.IncAPIErrors(apiErrorType(status))
		s.logger.Error("failed to record tracking event", "campaign_id", campaignID, "error", err)
		w.Header().Set("Retry-After", "1")
		s.renderProblem(w, status, "Temporarily Unavailable", "Please try again in a moment.")
		return
	}
	s.renderProblem(w, status, "Invalid Request", msg)
}

func (s *Server) renderProblem(w http.ResponseWriter, status int, title, message string) {
	s.renderPage(w, status, landing.PageProblem, landing.Data{Title: title, Message: message})
}

func (s *Server) renderPage(w http.ResponseWriter, status int, page string, data landing.Data) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Robots-Tag", "noindex, nofollow")
	w.WriteHeader(status)
	if err := s.pages.Render(w, page, data); err != nil {
		s.logger.Error("failed to render page", "page", page, "error", err)
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
