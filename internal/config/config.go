package config

import (
	"fmt"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/foxzi/phishdrill/internal/ratelimit"
)

// Config is the main configuration structure
type Config struct {
	Tenancy    TenancyConfig    `yaml:"tenancy"`
	Server     ServerConfig     `yaml:"server"`
	API        APIConfig        `yaml:"api"`
	Storage    StorageConfig    `yaml:"storage"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Identity   IdentityConfig   `yaml:"identity"`
	Tracking   TrackingConfig   `yaml:"tracking"`
	TextGen    TextGenConfig    `yaml:"textgen"`
	Mailer     MailerConfig     `yaml:"mailer"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// TenancyConfig scopes the whole store
type TenancyConfig struct {
	AppID string `yaml:"app_id"` // Default: default-app-id
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	PublicBaseURL string `yaml:"public_base_url"` // Base of the tracked links sent to targets
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 30s; SSE streams clear it per request)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
	AllowedIPs     []string      `yaml:"allowed_ips"`      // IP addresses/CIDRs allowed to use the operator API (empty = allow all)
	TrustedProxies []string      `yaml:"trusted_proxies"`  // Reverse proxies whose X-Forwarded-For is believed (empty = use the TCP peer)
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// AggregatorConfig tunes event aggregation
type AggregatorConfig struct {
	MaxAttempts int `yaml:"max_attempts"` // Write conflict retries (default: 5)
}

// IdentityConfig lists how operators authenticate
type IdentityConfig struct {
	APIKeys []APIKeyConfig `yaml:"api_keys"`
	OIDC    OIDCConfig     `yaml:"oidc"`
}

// APIKeyConfig binds a bcrypt-hashed key to an owner
type APIKeyConfig struct {
	Owner   string `yaml:"owner"`
	KeyHash string `yaml:"key_hash"` // Output of `phishdrill key hash`
}

// OIDCConfig enables ID token bearer auth
type OIDCConfig struct {
	Enabled   bool   `yaml:"enabled"`
	IssuerURL string `yaml:"issuer_url"`
	ClientID  string `yaml:"client_id"`
}

// TrackingConfig contains settings for the target-facing endpoints
type TrackingConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains tracking rate limit settings
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Global        *LimitValues  `yaml:"global,omitempty"`
	PerIP         *LimitValues  `yaml:"per_ip,omitempty"`
	PerCampaign   *LimitValues  `yaml:"per_campaign,omitempty"`
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
}

// LimitValues contains rate limit values
type LimitValues struct {
	EventsPerHour int `yaml:"events_per_hour"`
	EventsPerDay  int `yaml:"events_per_day"`
}

// TextGenConfig points at the external text generation endpoint
type TextGenConfig struct {
	Endpoint string        `yaml:"endpoint"` // Empty disables /api/generate-email
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"` // Default: 30s
}

// MailerConfig contains outbound relay settings
type MailerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	RelayAddr string        `yaml:"relay_addr"` // host:port of the submission relay
	Hostname  string        `yaml:"hostname"`   // EHLO name (default: os hostname)
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	From      string        `yaml:"from"`
	StartTLS  bool          `yaml:"starttls"`
	Timeout   time.Duration `yaml:"timeout"` // Default: 30s
	DKIM      DKIMConfig    `yaml:"dkim"`
}

// DKIMConfig contains DKIM signing settings
type DKIMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Domain   string `yaml:"domain"`
	Selector string `yaml:"selector"`
	KeyFile  string `yaml:"key_file"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Tenancy.AppID == "" {
		c.Tenancy.AppID = "default-app-id"
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Server.PublicBaseURL == "" {
		host := c.API.ListenAddr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		c.Server.PublicBaseURL = "http://" + host
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/phishdrill/phishdrill.db"
	}

	if c.Aggregator.MaxAttempts == 0 {
		c.Aggregator.MaxAttempts = 5
	}

	if c.Tracking.RateLimit.FlushInterval == 0 {
		c.Tracking.RateLimit.FlushInterval = 10 * time.Second
	}

	if c.TextGen.Timeout == 0 {
		c.TextGen.Timeout = 30 * time.Second
	}

	if c.Mailer.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Mailer.Hostname = hostname
	}
	if c.Mailer.Timeout == 0 {
		c.Mailer.Timeout = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server.PublicBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid server.public_base_url: %q (must be an absolute http(s) URL)", c.Server.PublicBaseURL)
	}

	if c.Aggregator.MaxAttempts < 1 {
		return fmt.Errorf("aggregator.max_attempts must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	for _, entry := range c.API.TrustedProxies {
		if !validNetwork(entry) {
			return fmt.Errorf("invalid api.trusted_proxies entry: %q (must be an IP or CIDR)", entry)
		}
	}

	if err := c.validateIdentity(); err != nil {
		return err
	}

	if err := c.validateMailer(); err != nil {
		return err
	}

	return nil
}

func validNetwork(entry string) bool {
	entry = strings.TrimSpace(entry)
	if strings.Contains(entry, "/") {
		_, err := netip.ParsePrefix(entry)
		return err == nil
	}
	_, err := netip.ParseAddr(entry)
	return err == nil
}

// validateIdentity requires at least one way for operators to authenticate
func (c *Config) validateIdentity() error {
	for i, k := range c.Identity.APIKeys {
		if k.Owner == "" {
			return fmt.Errorf("identity.api_keys[%d].owner is required", i)
		}
		if k.KeyHash == "" {
			return fmt.Errorf("identity.api_keys[%d].key_hash is required", i)
		}
	}

	if c.Identity.OIDC.Enabled {
		if c.Identity.OIDC.IssuerURL == "" {
			return fmt.Errorf("identity.oidc.issuer_url is required when OIDC is enabled")
		}
		if c.Identity.OIDC.ClientID == "" {
			return fmt.Errorf("identity.oidc.client_id is required when OIDC is enabled")
		}
	}

	if len(c.Identity.APIKeys) == 0 && !c.Identity.OIDC.Enabled {
		return fmt.Errorf("identity: configure api_keys or enable oidc")
	}

	return nil
}

// validateMailer validates relay and DKIM settings
func (c *Config) validateMailer() error {
	if !c.Mailer.Enabled {
		return nil
	}

	if c.Mailer.RelayAddr == "" {
		return fmt.Errorf("mailer.relay_addr is required when the mailer is enabled")
	}
	if c.Mailer.From == "" {
		return fmt.Errorf("mailer.from is required when the mailer is enabled")
	}
	if (c.Mailer.Username == "") != (c.Mailer.Password == "") {
		return fmt.Errorf("mailer.username and mailer.password must be set together")
	}

	if c.Mailer.DKIM.Enabled {
		if c.Mailer.DKIM.Selector == "" {
			return fmt.Errorf("mailer.dkim.selector is required when DKIM is enabled")
		}
		if c.Mailer.DKIM.KeyFile == "" {
			return fmt.Errorf("mailer.dkim.key_file is required when DKIM is enabled")
		}
		if c.Mailer.DKIM.Domain == "" {
			return fmt.Errorf("mailer.dkim.domain is required when DKIM is enabled")
		}
	}

	return nil
}

// RateLimiterConfig converts the tracking limits for the limiter
func (c *Config) RateLimiterConfig() *ratelimit.Config {
	rl := c.Tracking.RateLimit
	return &ratelimit.Config{
		Global:        toLimit(rl.Global),
		PerIP:         toLimit(rl.PerIP),
		PerCampaign:   toLimit(rl.PerCampaign),
		FlushInterval: rl.FlushInterval,
	}
}

func toLimit(v *LimitValues) *ratelimit.LimitConfig {
	if v == nil {
		return nil
	}
	return &ratelimit.LimitConfig{
		EventsPerHour: v.EventsPerHour,
		EventsPerDay:  v.EventsPerDay,
	}
}

// TextGenEnabled reports whether the generation proxy is configured
func (c *Config) TextGenEnabled() bool {
	return c.TextGen.Endpoint != ""
}
