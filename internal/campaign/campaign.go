// Package campaign holds the phishing-exercise campaign model and the rules that
// turn click and submission observations into the persisted results record.
package campaign

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PageType is the simulated landing page variant shown to a target
type PageType string

const (
	PageLogin  PageType = "login"
	PageError  PageType = "error"
	PageUpdate PageType = "update"
)

// Valid reports whether p is one of the known page variants
func (p PageType) Valid() bool {
	switch p {
	case PageLogin, PageError, PageUpdate:
		return true
	}
	return false
}

// Status is the operator-controlled campaign state
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusPaused, StatusCompleted:
		return true
	}
	return false
}

// DateLayout is the calendar date format used for start and end dates
const DateLayout = "2006-01-02"

// Date is a calendar date without time zone semantics, empty when unset
type Date string

// Validate checks the date format
func (d Date) Validate() error {
	if d == "" {
		return nil
	}
	if _, err := time.Parse(DateLayout, string(d)); err != nil {
		return fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, string(d))
	}
	return nil
}

// Time returns the start of the date in UTC; ok is false for empty or malformed dates
func (d Date) Time() (time.Time, bool) {
	if d == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Campaign is one phishing-awareness exercise plus its aggregated results
type Campaign struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	TargetEmails      []string  `json:"target_emails"`
	StartDate         Date      `json:"start_date,omitempty"`
	EndDate           Date      `json:"end_date,omitempty"`
	EmailSubject      string    `json:"email_subject"`
	EmailBody         string    `json:"email_body"`
	SimulatedPageType PageType  `json:"simulated_page_type"`
	Status            Status    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Version           uint64    `json:"version"`
	Results           Results   `json:"results"`
}

// Draft holds the operator-supplied fields of a new campaign
type Draft struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	TargetEmails      []string `json:"target_emails"`
	StartDate         Date     `json:"start_date"`
	EndDate           Date     `json:"end_date"`
	EmailSubject      string   `json:"email_subject"`
	EmailBody         string   `json:"email_body"`
	SimulatedPageType PageType `json:"simulated_page_type"`
	Status            Status   `json:"status"`
}

// New builds a campaign from a draft with fresh identity, timestamps and empty results.
// A missing page type defaults to login and a missing status to active.
func New(ownerID string, d Draft, now time.Time) (*Campaign, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidInput)
	}
	if d.SimulatedPageType == "" {
		d.SimulatedPageType = PageLogin
	}
	if d.Status == "" {
		d.Status = StatusActive
	}
	if !d.SimulatedPageType.Valid() {
		return nil, fmt.Errorf("%w: unknown page type %q", ErrInvalidInput, d.SimulatedPageType)
	}
	if !d.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, d.Status)
	}
	if err := d.StartDate.Validate(); err != nil {
		return nil, err
	}
	if err := d.EndDate.Validate(); err != nil {
		return nil, err
	}

	targets := make([]string, 0, len(d.TargetEmails))
	for _, t := range d.TargetEmails {
		if t = strings.TrimSpace(t); t != "" {
			targets = append(targets, t)
		}
	}

	now = now.UTC()
	return &Campaign{
		ID:                uuid.New().String(),
		OwnerID:           ownerID,
		Name:              d.Name,
		Description:       d.Description,
		TargetEmails:      targets,
		StartDate:         d.StartDate,
		EndDate:           d.EndDate,
		EmailSubject:      d.EmailSubject,
		EmailBody:         d.EmailBody,
		SimulatedPageType: d.SimulatedPageType,
		Status:            d.Status,
		CreatedAt:         now,
		UpdatedAt:         now,
		Results:           NewResults(),
	}, nil
}

// Clone returns a deep copy so callers can mutate without sharing maps
func (c *Campaign) Clone() *Campaign {
	cp := *c
	cp.TargetEmails = append([]string(nil), c.TargetEmails...)
	cp.Results = c.Results.Clone()
	return &cp
}

// DisplayLabel is the dashboard label for the campaign at the given time.
// Scheduled and Expired are derived from the dates and never persisted.
func (c *Campaign) DisplayLabel(now time.Time) string {
	switch c.Status {
	case StatusCompleted:
		return "Completed"
	case StatusPaused:
		return "Paused"
	case StatusActive:
		if start, ok := c.StartDate.Time(); ok && now.Before(start) {
			return "Scheduled"
		}
		// end date is inclusive
		if end, ok := c.EndDate.Time(); ok && !now.Before(end.AddDate(0, 0, 1)) {
			return "Expired"
		}
		return "Active"
	}
	return "Draft"
}
