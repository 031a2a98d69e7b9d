// Package api serves the operator API, the target-facing simulated pages and
// the change stream over a single chi router.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/phishdrill/internal/campaign"
	"github.com/foxzi/phishdrill/internal/config"
	"github.com/foxzi/phishdrill/internal/identity"
	"github.com/foxzi/phishdrill/internal/ipfilter"
	"github.com/foxzi/phishdrill/internal/landing"
	"github.com/foxzi/phishdrill/internal/mailer"
	"github.com/foxzi/phishdrill/internal/metrics"
	"github.com/foxzi/phishdrill/internal/ratelimit"
)

// TextGenerator produces email text from a prompt
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// CampaignSender mails a campaign to its targets
type CampaignSender interface {
	Send(ctx context.Context, ownerID, campaignID string, targets []string) (*mailer.Result, error)
}

// ServerOptions contains the dependencies of the HTTP server
type ServerOptions struct {
	Config     *config.APIConfig
	Service    *campaign.Service
	Aggregator *campaign.Aggregator
	Broker     *campaign.Broker
	Identity   identity.Resolver
	Pages      *landing.Renderer

	// Optional
	Limiter   *ratelimit.Limiter
	TextGen   TextGenerator
	Sender    CampaignSender
	Collector *metrics.Collector
	Logger    *slog.Logger
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	config     *config.APIConfig
	service    *campaign.Service
	agg        *campaign.Aggregator
	broker     *campaign.Broker
	identity   identity.Resolver
	pages      *landing.Renderer
	limiter    *ratelimit.Limiter
	textgen    TextGenerator
	sender     CampaignSender
	collector  *metrics.Collector
	filter     *ipfilter.Filter
	proxies    *ipfilter.Proxies
	logger     *slog.Logger
	startTime  time.Time

	keepAlive time.Duration
}

// NewServer creates a new API server
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = &config.APIConfig{ListenAddr: ":8080"}
	}

	proxies := ipfilter.NewProxies(cfg.TrustedProxies, logger)

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		service:   opts.Service,
		agg:       opts.Aggregator,
		broker:    opts.Broker,
		identity:  opts.Identity,
		pages:     opts.Pages,
		limiter:   opts.Limiter,
		textgen:   opts.TextGen,
		sender:    opts.Sender,
		collector: opts.Collector,
		filter:    ipfilter.New(cfg.AllowedIPs, proxies, logger),
		proxies:   proxies,
		logger:    logger,
		startTime: time.Now(),
		keepAlive: 25 * time.Second,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware(s.collector))

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)

	// Target-facing simulated pages (no auth)
	s.router.Route(campaign.LandingPath, func(r chi.Router) {
		r.Get("/", s.handleLanding)
		r.Post("/submit", s.handleSubmit)
		r.Get("/notice", s.handleNotice)
	})

	s.router.Group(func(r chi.Router) {
		r.Use(s.filter.HTTPMiddleware)
		r.Use(s.authMiddleware)
		r.Post("/api/generate-email", s.handleGenerateEmail)
	})

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.filter.HTTPMiddleware)
		r.Use(s.authMiddleware)

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", s.handleCreateCampaign)
			r.Get("/", s.handleListCampaigns)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCampaign)
				r.Delete("/", s.handleDeleteCampaign)
				r.Patch("/status", s.handleSetStatus)
				r.Get("/results", s.handleResults)
				r.Get("/preview", s.handlePreview)
				r.Post("/send", s.handleSend)
				r.Get("/watch", s.handleCampaignWatch)
			})
		})
		r.Get("/watch", s.handleWatch)
		r.Get("/ratelimits/{level}/{key}", s.handleRateLimitStats)
	})
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	if s.filter.Enabled() {
		s.logger.Info("operator API IP filtering enabled", "allowed_networks", s.filter.Count())
	}
	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
