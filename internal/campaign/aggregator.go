package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/foxzi/phishdrill/internal/metrics"
)

// DefaultMaxAttempts bounds conflict retries when the config leaves it unset
const DefaultMaxAttempts = 5

// Event kinds, used for metrics and change notifications
const (
	KindClick      = "click"
	KindSubmission = "submission"
	KindSent       = "sent"
)

// ClickEvent is one observed visit to the tracked link
type ClickEvent struct {
	CampaignID  string
	TargetEmail string
	IP          string
	Timestamp   time.Time
}

// SubmissionEvent is one observed credential submission on the simulated page
type SubmissionEvent struct {
	CampaignID  string
	TargetEmail string
	IP          string
	Timestamp   time.Time
	Credentials Credentials
}

// Aggregator folds click and submission events into campaign results.
// Every write is one read-modify-write through Store.Mutate; conflicts are
// retried with jittered backoff up to maxAttempts.
type Aggregator struct {
	store       Store
	broker      *Broker
	logger      *slog.Logger
	maxAttempts int
	now         func() time.Time
}

// NewAggregator creates an aggregator; broker may be nil
func NewAggregator(store Store, broker *Broker, maxAttempts int, logger *slog.Logger) *Aggregator {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Aggregator{
		store:       store,
		broker:      broker,
		logger:      logger,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// RecordClick counts a click and stores the target's latest click detail
func (a *Aggregator) RecordClick(ctx context.Context, ev ClickEvent) (*Campaign, error) {
	target := strings.TrimSpace(ev.TargetEmail)
	if ev.CampaignID == "" || target == "" {
		metrics.IncEvent(KindClick, "invalid")
		return nil, fmt.Errorf("%w: campaign id and target email are required", ErrInvalidInput)
	}

	detail := ClickDetail{Timestamp: a.stamp(ev.Timestamp), IP: ev.IP}
	c, err := a.apply(ctx, KindClick, ev.CampaignID, func(c *Campaign) error {
		c.Results.applyClick(target, detail)
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug("click recorded", "campaign_id", c.ID, "target", target, "clicks", c.Results.Clicks)
	return c, nil
}

// RecordSubmission counts a credential submission. Both credential fields
// must be non-empty; nothing is written otherwise.
func (a *Aggregator) RecordSubmission(ctx context.Context, ev SubmissionEvent) (*Campaign, error) {
	target := strings.TrimSpace(ev.TargetEmail)
	if ev.CampaignID == "" || target == "" {
		metrics.IncEvent(KindSubmission, "invalid")
		return nil, fmt.Errorf("%w: campaign id and target email are required", ErrInvalidInput)
	}
	if ev.Credentials.Username == "" || ev.Credentials.Password == "" {
		metrics.IncEvent(KindSubmission, "invalid")
		return nil, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	detail := SubmissionDetail{
		Timestamp:   a.stamp(ev.Timestamp),
		IP:          ev.IP,
		Credentials: ev.Credentials,
	}
	c, err := a.apply(ctx, KindSubmission, ev.CampaignID, func(c *Campaign) error {
		c.Results.applySubmission(target, detail)
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug("submission recorded", "campaign_id", c.ID, "target", target, "submissions", c.Results.Submissions)
	return c, nil
}

// RecordSent adds n to the campaign's sent counter
func (a *Aggregator) RecordSent(ctx context.Context, ownerID, id string, n int64) (*Campaign, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: sent count must not be negative", ErrInvalidInput)
	}
	return a.mutate(ctx, KindSent, ownerID, id, func(c *Campaign) error {
		c.Results.TotalSent += n
		return nil
	})
}

// Read returns the owner's campaign with its current results
func (a *Aggregator) Read(ctx context.Context, ownerID, id string) (*Campaign, error) {
	return a.store.Get(ctx, ownerID, id)
}

// apply resolves the owning scope of a public event and mutates it
func (a *Aggregator) apply(ctx context.Context, kind, id string, fn MutateFunc) (*Campaign, error) {
	owner, err := a.store.Locate(ctx, id)
	if err != nil {
		metrics.IncEvent(kind, resultLabel(err))
		return nil, err
	}
	return a.mutate(ctx, kind, owner, id, fn)
}

func (a *Aggregator) mutate(ctx context.Context, kind, ownerID, id string, fn MutateFunc) (*Campaign, error) {
	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		c, err := a.store.Mutate(ctx, ownerID, id, fn)
		if err == nil {
			metrics.IncEvent(kind, "ok")
			a.broker.Publish(Change{Kind: ChangeEvent, OwnerID: ownerID, CampaignID: id, Version: c.Version})
			return c, nil
		}
		if !errors.Is(err, ErrConflict) {
			metrics.IncEvent(kind, resultLabel(err))
			return nil, err
		}

		lastErr = err
		metrics.IncWriteConflict()
		a.logger.Debug("write conflict, retrying", "campaign_id", id, "attempt", attempt)

		if attempt < a.maxAttempts {
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				metrics.IncEvent(kind, "error")
				return nil, err
			}
		}
	}

	metrics.IncEvent(kind, "transient")
	a.logger.Warn("write conflict retries exhausted", "campaign_id", id, "attempts", a.maxAttempts)
	return nil, fmt.Errorf("%w: %d attempts: %w", ErrTransient, a.maxAttempts, lastErr)
}

func (a *Aggregator) stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = a.now()
	}
	return t.UTC()
}

// backoff grows linearly with a random jitter so racing writers spread out
func backoff(attempt int) time.Duration {
	base := time.Duration(attempt) * 5 * time.Millisecond
	return base + rand.N(5*time.Millisecond)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	}
	return "error"
}
