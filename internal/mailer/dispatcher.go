package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/foxzi/phishdrill/internal/campaign"
	"github.com/foxzi/phishdrill/internal/metrics"
)

// Deliverer submits a rendered message
type Deliverer interface {
	Deliver(ctx context.Context, from string, to []string, data []byte) error
}

// Failure describes one target that could not be sent to
type Failure struct {
	Target    string `json:"target"`
	Error     string `json:"error"`
	Temporary bool   `json:"temporary"`
}

// Result summarizes one dispatch run
type Result struct {
	CampaignID string    `json:"campaign_id"`
	Sent       int       `json:"sent"`
	Failed     []Failure `json:"failed,omitempty"`
	TotalSent  int64     `json:"total_sent"`
}

// Dispatcher renders a campaign per target, submits it and counts the sends
type Dispatcher struct {
	relay  Deliverer
	agg    *campaign.Aggregator
	links  campaign.Links
	from   string
	logger *slog.Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher sending from the given address
func NewDispatcher(relay Deliverer, agg *campaign.Aggregator, links campaign.Links, from string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		relay:  relay,
		agg:    agg,
		links:  links,
		from:   from,
		logger: logger,
		now:    time.Now,
	}
}

// Send mails the campaign to targets, or to every campaign target when targets
// is empty. Every delivered message increments the campaign's sent counter;
// failed targets are reported and do not stop the run.
func (d *Dispatcher) Send(ctx context.Context, ownerID, campaignID string, targets []string) (*Result, error) {
	c, err := d.agg.Read(ctx, ownerID, campaignID)
	if err != nil {
		return nil, err
	}

	// duplicate entries are mailed once per entry
	if len(targets) == 0 {
		targets = c.TargetEmails
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: campaign has no targets", campaign.ErrInvalidInput)
	}
	for _, t := range targets {
		if !slices.Contains(c.TargetEmails, t) {
			return nil, fmt.Errorf("%w: %q is not a target of this campaign", campaign.ErrInvalidInput, t)
		}
	}

	res := &Result{CampaignID: c.ID, TotalSent: c.Results.TotalSent}
	envelopeFrom := envelopeAddress(d.from)

	for _, target := range targets {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		msg := &Message{
			ID:         newMessageID(),
			CampaignID: c.ID,
			From:       d.from,
			To:         target,
			Subject:    c.EmailSubject,
			Body:       campaign.RenderBody(c.EmailBody, d.links.For(c.ID, target)),
			Date:       d.now(),
		}
		data, err := msg.Bytes()
		if err != nil {
			return res, err
		}

		if err := d.relay.Deliver(ctx, envelopeFrom, []string{target}, data); err != nil {
			temporary := IsTemporaryError(err)
			metrics.IncEmailsSent(deliveryLabel(temporary))
			d.logger.Warn("simulation email failed",
				"campaign_id", c.ID,
				"target", target,
				"temporary", temporary,
				"error", err,
			)
			res.Failed = append(res.Failed, Failure{Target: target, Error: err.Error(), Temporary: temporary})
			continue
		}
		metrics.IncEmailsSent("ok")

		updated, err := d.agg.RecordSent(ctx, ownerID, c.ID, 1)
		if err != nil {
			return res, fmt.Errorf("message to %s delivered but not counted: %w", target, err)
		}
		res.Sent++
		res.TotalSent = updated.Results.TotalSent
	}

	d.logger.Info("campaign dispatched",
		"campaign_id", c.ID,
		"sent", res.Sent,
		"failed", len(res.Failed),
	)
	return res, nil
}

func deliveryLabel(temporary bool) string {
	if temporary {
		return "temporary"
	}
	return "permanent"
}
