package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime/quotedprintable"
	"net/mail"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-smtp"

	"github.com/foxzi/phishdrill/internal/campaign"
	"github.com/foxzi/phishdrill/internal/storage"
)

type fixture struct {
	store *storage.BoltStore
	agg   *campaign.Aggregator
	links campaign.Links
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewBoltStore(filepath.Join(t.TempDir(), "phishdrill.db"), "test-app")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return &fixture{
		store: store,
		agg:   campaign.NewAggregator(store, nil, 0, testLogger()),
		links: campaign.Links{BaseURL: "https://drill.acme.test"},
	}
}

func (f *fixture) seed(t *testing.T, owner string, targets ...string) *campaign.Campaign {
	t.Helper()
	c, err := campaign.New(owner, campaign.Draft{
		Name:         "Q3 password reset",
		TargetEmails: targets,
		EmailSubject: "Action required: verify your account",
		EmailBody:    "Hello,\nPlease verify here: " + campaign.Placeholder + "\nIT Support",
	}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.Create(context.Background(), c); err != nil {
		t.Fatal(err)
	}
	return c
}

func decodeBody(t *testing.T, data []byte) string {
	t.Helper()
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	body, err := io.ReadAll(quotedprintable.NewReader(msg.Body))
	if err != nil {
		t.Fatal(err)
	}
	return string(body)
}

func TestDispatchThroughRelay(t *testing.T) {
	f := newFixture(t)
	be := &sinkBackend{reject: map[string]*smtp.SMTPError{
		"gone@corp.test": {Code: 550, Message: "No such user"},
	}}
	addr := startSink(t, be)

	c := f.seed(t, "secops", "alice@corp.test", "gone@corp.test", "bob@corp.test")
	relay := NewRelay(RelayConfig{Addr: addr, Timeout: 5 * time.Second}, nil, testLogger())
	d := NewDispatcher(relay, f.agg, f.links, "IT Support <it@acme.test>", testLogger())

	res, err := d.Send(context.Background(), "secops", c.ID, nil)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.Sent != 2 || res.TotalSent != 2 {
		t.Errorf("Sent = %d, TotalSent = %d, want 2, 2", res.Sent, res.TotalSent)
	}
	if len(res.Failed) != 1 || res.Failed[0].Target != "gone@corp.test" || res.Failed[0].Temporary {
		t.Errorf("Failed = %+v", res.Failed)
	}

	msgs := be.all()
	if len(msgs) != 2 {
		t.Fatalf("relay received %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.From != "it@acme.test" {
			t.Errorf("envelope from = %q", m.From)
		}
		target := m.To[0]
		body := decodeBody(t, m.Data)
		if want := f.links.For(c.ID, target); !strings.Contains(body, want) {
			t.Errorf("body for %s missing link %s:\n%s", target, want, body)
		}
		if strings.Contains(body, campaign.Placeholder) {
			t.Error("placeholder left in body")
		}
		if got := headerValue(m.Data, CampaignHeader); got != c.ID {
			t.Errorf("%s = %q", CampaignHeader, got)
		}
	}

	stored, err := f.store.Get(context.Background(), "secops", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Results.TotalSent != 2 {
		t.Errorf("stored TotalSent = %d, want 2", stored.Results.TotalSent)
	}
}

type fakeDeliverer struct {
	mu   sync.Mutex
	to   []string
	fail error
}

func (f *fakeDeliverer) Deliver(ctx context.Context, from string, to []string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.to = append(f.to, to...)
	return nil
}

func TestDispatchSelectedTargets(t *testing.T) {
	f := newFixture(t)
	c := f.seed(t, "secops", "alice@corp.test", "bob@corp.test")
	fd := &fakeDeliverer{}
	d := NewDispatcher(fd, f.agg, f.links, "it@acme.test", testLogger())

	res, err := d.Send(context.Background(), "secops", c.ID, []string{"bob@corp.test"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 1 || len(fd.to) != 1 || fd.to[0] != "bob@corp.test" {
		t.Errorf("res = %+v, delivered to %v", res, fd.to)
	}

	if _, err := d.Send(context.Background(), "secops", c.ID, []string{"mallory@evil.test"}); !errors.Is(err, campaign.ErrInvalidInput) {
		t.Errorf("unknown target error = %v, want ErrInvalidInput", err)
	}
	if _, err := d.Send(context.Background(), "other-owner", c.ID, nil); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("foreign owner error = %v, want ErrNotFound", err)
	}

	empty := f.seed(t, "secops")
	if _, err := d.Send(context.Background(), "secops", empty.ID, nil); !errors.Is(err, campaign.ErrInvalidInput) {
		t.Errorf("no targets error = %v, want ErrInvalidInput", err)
	}
}

func TestDispatchDuplicateTargets(t *testing.T) {
	f := newFixture(t)
	c := f.seed(t, "secops", "alice@corp.test", "bob@corp.test", "alice@corp.test")
	fd := &fakeDeliverer{}
	d := NewDispatcher(fd, f.agg, f.links, "it@acme.test", testLogger())

	// every entry is mailed and counted
	res, err := d.Send(context.Background(), "secops", c.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 3 || res.TotalSent != 3 {
		t.Errorf("Sent = %d, TotalSent = %d, want 3, 3", res.Sent, res.TotalSent)
	}
	want := []string{"alice@corp.test", "bob@corp.test", "alice@corp.test"}
	if strings.Join(fd.to, ",") != strings.Join(want, ",") {
		t.Errorf("delivered to %v, want %v", fd.to, want)
	}
}

func TestDispatchFailuresNotCounted(t *testing.T) {
	f := newFixture(t)
	c := f.seed(t, "secops", "alice@corp.test")
	fd := &fakeDeliverer{fail: &DeliveryError{Temporary: true, Message: "connection refused"}}
	d := NewDispatcher(fd, f.agg, f.links, "it@acme.test", testLogger())

	res, err := d.Send(context.Background(), "secops", c.ID, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Sent != 0 || res.TotalSent != 0 || len(res.Failed) != 1 || !res.Failed[0].Temporary {
		t.Errorf("res = %+v", res)
	}
}

func TestMessageBytes(t *testing.T) {
	m := &Message{
		ID:         "abc",
		CampaignID: "c1",
		From:       "IT Support <it@acme.test>",
		To:         "alice@corp.test",
		Subject:    "Überprüfung erforderlich",
		Body:       "line one\nline two",
		Date:       time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	data, err := m.Bytes()
	if err != nil {
		t.Fatal(err)
	}

	if got := headerValue(data, "Message-ID"); got != "<abc@acme.test>" {
		t.Errorf("Message-ID = %q", got)
	}
	if got := headerValue(data, "Subject"); !strings.HasPrefix(got, "=?utf-8?q?") {
		t.Errorf("Subject not encoded: %q", got)
	}
	if body := decodeBody(t, data); !strings.Contains(body, "line one\r\nline two") {
		t.Errorf("body = %q", body)
	}
}
