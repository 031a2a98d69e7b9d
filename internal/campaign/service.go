package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Service implements the operator-facing campaign operations
type Service struct {
	store  Store
	broker *Broker
	links  Links
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a campaign service; broker may be nil
func NewService(store Store, broker *Broker, links Links, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		broker: broker,
		links:  links,
		logger: logger,
		now:    time.Now,
	}
}

// Links returns the tracked link builder
func (s *Service) Links() Links {
	return s.links
}

// Create validates the draft and persists a new campaign for owner
func (s *Service) Create(ctx context.Context, ownerID string, d Draft) (*Campaign, error) {
	c, err := New(ownerID, d, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}

	s.broker.Publish(Change{Kind: ChangeCreated, OwnerID: ownerID, CampaignID: c.ID, Version: c.Version})
	s.logger.Info("campaign created", "campaign_id", c.ID, "owner", ownerID, "targets", len(c.TargetEmails))
	return c, nil
}

// Get returns one of the owner's campaigns
func (s *Service) Get(ctx context.Context, ownerID, id string) (*Campaign, error) {
	return s.store.Get(ctx, ownerID, id)
}

// List returns the owner's campaigns, newest first
func (s *Service) List(ctx context.Context, ownerID string, filter ListFilter) ([]*Campaign, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, filter.Status)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidInput)
	}
	return s.store.List(ctx, ownerID, filter)
}

// SetStatus changes the operator-controlled status
func (s *Service) SetStatus(ctx context.Context, ownerID, id string, status Status) (*Campaign, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	c, err := s.store.Mutate(ctx, ownerID, id, func(c *Campaign) error {
		c.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broker.Publish(Change{Kind: ChangeUpdated, OwnerID: ownerID, CampaignID: id, Version: c.Version})
	s.logger.Info("campaign status changed", "campaign_id", id, "status", status)
	return c, nil
}

// Delete removes one of the owner's campaigns
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.store.Delete(ctx, ownerID, id); err != nil {
		return err
	}
	s.broker.Publish(Change{Kind: ChangeDeleted, OwnerID: ownerID, CampaignID: id})
	s.logger.Info("campaign deleted", "campaign_id", id, "owner", ownerID)
	return nil
}

// Preview is the rendered email a target would receive
type Preview struct {
	Target  string `json:"target"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Link    string `json:"link"`
}

// Preview renders the campaign email. With an empty target the body carries
// the inert example link instead of a tracked one.
func (s *Service) Preview(ctx context.Context, ownerID, id, target string) (*Preview, error) {
	c, err := s.store.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	link := PreviewLink
	if target != "" {
		link = s.links.For(c.ID, target)
	}
	return &Preview{
		Target:  target,
		Subject: c.EmailSubject,
		Body:    RenderBody(c.EmailBody, link),
		Link:    link,
	}, nil
}

// Ping checks store reachability
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
