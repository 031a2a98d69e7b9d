// Package app wires configuration into running components.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/foxzi/phishdrill/internal/api"
	"github.com/foxzi/phishdrill/internal/campaign"
	"github.com/foxzi/phishdrill/internal/config"
	"github.com/foxzi/phishdrill/internal/identity"
	"github.com/foxzi/phishdrill/internal/landing"
	"github.com/foxzi/phishdrill/internal/mailer"
	"github.com/foxzi/phishdrill/internal/metrics"
	"github.com/foxzi/phishdrill/internal/ratelimit"
	"github.com/foxzi/phishdrill/internal/storage"
	"github.com/foxzi/phishdrill/internal/textgen"
)

// App is the main application
type App struct {
	config        *config.Config
	store         *storage.BoltStore
	apiServer     *api.Server
	metricsServer *metrics.Server
	collector     *metrics.Collector
	rateLimiter   *ratelimit.Limiter
	logger        *slog.Logger
}

// New creates a new application
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := SetupLogger(cfg.Logging, os.Stdout)

	store, err := storage.NewBoltStore(cfg.Storage.Path, cfg.Tenancy.AppID)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	a := &App{
		config: cfg,
		store:  store,
		logger: logger,
	}

	if err := a.build(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.config
	logger := a.logger

	if cfg.Tracking.RateLimit.Enabled {
		limiter, err := ratelimit.NewLimiter(a.store.DB(), cfg.RateLimiterConfig())
		if err != nil {
			return fmt.Errorf("failed to create rate limiter: %w", err)
		}
		a.rateLimiter = limiter
		logger.Info("tracking rate limiting enabled")
	}

	if cfg.Metrics.Enabled {
		m := metrics.New()
		metrics.SetGlobal(m)

		collector, err := metrics.NewCollector(a.store.DB(), m, storeStats{a.store}, cfg.Storage.Path, cfg.Metrics.FlushInterval)
		if err != nil {
			return fmt.Errorf("failed to create metrics collector: %w", err)
		}
		metrics.SetGlobalCollector(collector)
		a.collector = collector
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
		logger.Info("metrics enabled", "addr", cfg.Metrics.ListenAddr, "path", cfg.Metrics.Path)
	}

	resolver, err := buildIdentity(ctx, cfg.Identity, logger)
	if err != nil {
		return err
	}

	broker := campaign.NewBroker()
	links := campaign.Links{BaseURL: cfg.Server.PublicBaseURL}
	service := campaign.NewService(a.store, broker, links, logger.With("component", "campaigns"))
	agg := campaign.NewAggregator(a.store, broker, cfg.Aggregator.MaxAttempts, logger.With("component", "aggregator"))

	pages, err := landing.New()
	if err != nil {
		return fmt.Errorf("failed to load landing pages: %w", err)
	}

	opts := api.ServerOptions{
		Config:     &cfg.API,
		Service:    service,
		Aggregator: agg,
		Broker:     broker,
		Identity:   resolver,
		Pages:      pages,
		Limiter:    a.rateLimiter,
		Collector:  a.collector,
		Logger:     logger.With("component", "api"),
	}

	if cfg.TextGenEnabled() {
		opts.TextGen = textgen.NewClient(cfg.TextGen.Endpoint, cfg.TextGen.APIKey, cfg.TextGen.Timeout)
		logger.Info("text generation enabled", "endpoint", cfg.TextGen.Endpoint)
	}

	if cfg.Mailer.Enabled {
		dispatcher, err := NewDispatcher(cfg, agg, logger)
		if err != nil {
			return err
		}
		opts.Sender = dispatcher
	}

	a.apiServer = api.NewServer(opts)
	return nil
}

// NewDispatcher builds the lure mail dispatcher from the mailer settings
func NewDispatcher(cfg *config.Config, agg *campaign.Aggregator, logger *slog.Logger) (*mailer.Dispatcher, error) {
	var signer *mailer.Signer
	if cfg.Mailer.DKIM.Enabled {
		s, err := mailer.NewSignerFromFile(cfg.Mailer.DKIM.KeyFile, cfg.Mailer.DKIM.Domain, cfg.Mailer.DKIM.Selector)
		if err != nil {
			return nil, fmt.Errorf("failed to load DKIM key: %w", err)
		}
		signer = s
		logger.Info("DKIM signing enabled", "domain", s.Domain(), "selector", s.Selector())
	}

	relay := mailer.NewRelay(mailer.RelayConfig{
		Addr:     cfg.Mailer.RelayAddr,
		Hostname: cfg.Mailer.Hostname,
		Username: cfg.Mailer.Username,
		Password: cfg.Mailer.Password,
		StartTLS: cfg.Mailer.StartTLS,
		Timeout:  cfg.Mailer.Timeout,
	}, signer, logger.With("component", "relay"))

	links := campaign.Links{BaseURL: cfg.Server.PublicBaseURL}
	logger.Info("mailer enabled", "relay", cfg.Mailer.RelayAddr, "from", cfg.Mailer.From)
	return mailer.NewDispatcher(relay, agg, links, cfg.Mailer.From, logger.With("component", "dispatcher")), nil
}

func buildIdentity(ctx context.Context, cfg config.IdentityConfig, logger *slog.Logger) (identity.Resolver, error) {
	var chain identity.Chain

	if len(cfg.APIKeys) > 0 {
		keys := make([]identity.StaticKey, 0, len(cfg.APIKeys))
		for _, k := range cfg.APIKeys {
			keys = append(keys, identity.StaticKey{Owner: k.Owner, KeyHash: k.KeyHash})
		}
		chain = append(chain, identity.NewStaticKeys(keys))
		logger.Info("API key authentication enabled", "keys", len(keys))
	}

	if cfg.OIDC.Enabled {
		o, err := identity.NewOIDC(ctx, cfg.OIDC.IssuerURL, cfg.OIDC.ClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to set up OIDC: %w", err)
		}
		chain = append(chain, o)
		logger.Info("OIDC authentication enabled", "issuer", cfg.OIDC.IssuerURL)
	}

	return chain, nil
}

// storeStats exposes BoltStore statistics to the metrics collector
type storeStats struct {
	store *storage.BoltStore
}

func (s storeStats) StoreStats() (metrics.StoreStats, error) {
	st, err := s.store.Stats()
	if err != nil {
		return metrics.StoreStats{}, err
	}
	return metrics.StoreStats{Campaigns: st.Campaigns, SizeBytes: st.SizeBytes}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting phishdrill",
		"api_addr", a.config.API.ListenAddr,
		"public_base_url", a.config.Server.PublicBaseURL,
		"app_id", a.config.Tenancy.AppID,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.collector != nil {
		a.collector.Start(ctx)
	}

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server error", "error", runErr)
		cancel()
	}

	a.Shutdown(context.Background())
	return runErr
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop accepting requests first; open SSE streams end with the context
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if a.rateLimiter != nil {
		if err := a.rateLimiter.Stop(); err != nil {
			a.logger.Error("rate limiter stop error", "error", err)
		}
	}

	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
