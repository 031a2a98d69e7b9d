package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/foxzi/phishdrill/internal/campaign"
	"github.com/foxzi/phishdrill/internal/ratelimit"
)

func landingURL(id, target string) string {
	q := url.Values{}
	q.Set("campaignId", id)
	if target != "" {
		q.Set("targetEmail", target)
	}
	return "/p?" + q.Encode()
}

func TestTrackingFlow(t *testing.T) {
	env := newTestEnv(t)
	c := env.seed(t, "secops", campaign.Draft{})

	w := env.do(http.MethodGet, landingURL(c.ID, "alice@corp.test"), "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("landing Status = %d, body %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	for _, want := range []string{"Secure Login Required", `value="` + c.ID + `"`, "Do not enter real credentials."} {
		if !strings.Contains(body, want) {
			t.Errorf("landing page missing %q", want)
		}
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}

	// A second click by the same target counts but stays one unique click
	env.do(http.MethodGet, landingURL(c.ID, "alice@corp.test"), "", "")
	env.do(http.MethodGet, landingURL(c.ID, "bob@corp.test"), "", "")

	w = env.postForm("/p/submit", url.Values{
		"campaignId":  {c.ID},
		"targetEmail": {"alice@corp.test"},
		"username":    {"alice"},
		"password":    {"hunter2"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("submit Status = %d, body %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Your account has been verified.") {
		t.Error("success page not rendered")
	}

	w = env.do(http.MethodGet, "/api/v1/campaigns/"+c.ID+"/results", tokenSecOps, "")
	if w.Code != http.StatusOK {
		t.Fatalf("results Status = %d", w.Code)
	}
	res := decode[ResultsResponse](t, w)
	want := campaign.Summary{Clicks: 3, UniqueClicks: 2, Submissions: 1, UniqueSubmissions: 1}
	if res.Summary != want {
		t.Errorf("Summary = %+v, want %+v", res.Summary, want)
	}
	sub, ok := res.Results.SubmissionDetails["alice@corp.test"]
	if !ok || sub.Credentials.Username != "alice" || sub.Credentials.Password != "hunter2" {
		t.Errorf("submission detail = %+v", sub)
	}
	if res.Version != 4 {
		t.Errorf("Version = %d, want 4", res.Version)
	}

	if w := env.do(http.MethodGet, "/api/v1/campaigns/"+c.ID+"/results", tokenHelpdesk, ""); w.Code != http.StatusNotFound {
		t.Errorf("foreign results Status = %d, want 404", w.Code)
	}
}

func TestLandingVariants(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		page campaign.PageType
		want string
	}{
		{campaign.PageLogin, "Secure Login Required"},
		{campaign.PageError, "Error Code: 503 - Service Maintenance."},
		{campaign.PageUpdate, "Install Update Now"},
	}
	for _, tt := range tests {
		t.Run(string(tt.page), func(t *testing.T) {
			c := env.seed(t, "secops", campaign.Draft{SimulatedPageType: tt.page})
			w := env.do(http.MethodGet, landingURL(c.ID, "alice@corp.test"), "", "")
			if w.Code != http.StatusOK {
				t.Fatalf("Status = %d", w.Code)
			}
			if !strings.Contains(w.Body.String(), tt.want) {
				t.Errorf("page missing %q", tt.want)
			}
		})
	}

	w := env.do(http.MethodGet, "/p/notice", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Update simulation complete.") {
		t.Errorf("notice Status = %d", w.Code)
	}
}

func TestTrackingErrors(t *testing.T) {
	env := newTestEnv(t)
	c := env.seed(t, "secops", campaign.Draft{})

	tests := []struct {
		name string
		req  func() *httptest.ResponseRecorder
		code int
		want string
	}{
		{
			name: "unknown campaign",
			req: func() *httptest.ResponseRecorder {
				return env.do(http.MethodGet, landingURL("nope", "a@corp.test"), "", "")
			},
			code: http.StatusNotFound,
			want: "404 - Campaign Not Found",
		},
		{
			name: "missing campaign id",
			req:  func() *httptest.ResponseRecorder { return env.do(http.MethodGet, "/p?targetEmail=a@corp.test", "", "") },
			code: http.StatusBadRequest,
			want: "Invalid Link",
		},
		{
			name: "missing target",
			req:  func() *httptest.ResponseRecorder { return env.do(http.MethodGet, landingURL(c.ID, ""), "", "") },
			code: http.StatusBadRequest,
			want: "Invalid Request",
		},
		{
			name: "empty password",
			req: func() *httptest.ResponseRecorder {
				return env.postForm("/p/submit", url.Values{
					"campaignId":  {c.ID},
					"targetEmail": {"alice@corp.test"},
					"username":    {"alice"},
				})
			},
			code: http.StatusBadRequest,
			want: "Invalid Request",
		},
		{
			name: "submit unknown campaign",
			req: func() *httptest.ResponseRecorder {
				return env.postForm("/p/submit", url.Values{
					"campaignId":  {"nope"},
					"targetEmail": {"alice@corp.test"},
					"username":    {"alice"},
					"password":    {"x"},
				})
			},
			code: http.StatusNotFound,
			want: "404 - Campaign Not Found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := tt.req()
			if w.Code != tt.code {
				t.Errorf("Status = %d, want %d", w.Code, tt.code)
			}
			if !strings.Contains(w.Body.String(), tt.want) {
				t.Errorf("body missing %q", tt.want)
			}
		})
	}

	got, err := env.store.Get(context.Background(), "secops", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Results.Clicks != 0 || got.Results.Submissions != 0 {
		t.Errorf("rejected events were counted: %+v", got.Results.Summarize())
	}
}

func TestTrackingRateLimited(t *testing.T) {
	env := newTestEnv(t)
	limiter, err := ratelimit.NewLimiter(env.store.DB(), &ratelimit.Config{PerIP: &ratelimit.LimitConfig{EventsPerHour: 1}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { limiter.Stop() })
	env.server.limiter = limiter

	c := env.seed(t, "secops", campaign.Draft{})

	if w := env.do(http.MethodGet, landingURL(c.ID, "alice@corp.test"), "", ""); w.Code != http.StatusOK {
		t.Fatalf("first click Status = %d", w.Code)
	}
	w := env.do(http.MethodGet, landingURL(c.ID, "alice@corp.test"), "", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second click Status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}

	got, _ := env.store.Get(context.Background(), "secops", c.ID)
	if got.Results.Clicks != 1 {
		t.Errorf("Clicks = %d, want 1", got.Results.Clicks)
	}
}

func (e *testEnv) clickFrom(id, target, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, landingURL(id, target), nil)
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func TestTrackingIgnoresForgedForwardedFor(t *testing.T) {
	env := newTestEnv(t)
	limiter, err := ratelimit.NewLimiter(env.store.DB(), &ratelimit.Config{PerIP: &ratelimit.LimitConfig{EventsPerHour: 1}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { limiter.Stop() })
	env.server.limiter = limiter

	c := env.seed(t, "secops", campaign.Draft{})

	if w := env.clickFrom(c.ID, "alice@corp.test", "203.0.113.9:4000", "198.51.100.1"); w.Code != http.StatusOK {
		t.Fatalf("first click Status = %d", w.Code)
	}
	// A fresh forged address per request does not reset the per-IP budget
	if w := env.clickFrom(c.ID, "alice@corp.test", "203.0.113.9:4001", "198.51.100.2"); w.Code != http.StatusTooManyRequests {
		t.Errorf("second click Status = %d, want 429", w.Code)
	}

	got, err := env.store.Get(context.Background(), "secops", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ip := got.Results.ClickDetails["alice@corp.test"].IP; ip != "203.0.113.9" {
		t.Errorf("recorded IP = %q, want the TCP peer 203.0.113.9", ip)
	}
}

func TestTrackingBehindTrustedProxy(t *testing.T) {
	env := newTestEnv(t, func(o *ServerOptions) {
		o.Config.TrustedProxies = []string{"192.0.2.10"}
	})
	c := env.seed(t, "secops", campaign.Draft{})

	if w := env.clickFrom(c.ID, "alice@corp.test", "192.0.2.10:4000", "10.9.9.9, 198.51.100.7"); w.Code != http.StatusOK {
		t.Fatalf("click Status = %d", w.Code)
	}
	// Untrusted peers cannot claim an address
	if w := env.clickFrom(c.ID, "bob@corp.test", "203.0.113.9:4000", "198.51.100.7"); w.Code != http.StatusOK {
		t.Fatalf("click Status = %d", w.Code)
	}

	got, err := env.store.Get(context.Background(), "secops", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ip := got.Results.ClickDetails["alice@corp.test"].IP; ip != "198.51.100.7" {
		t.Errorf("alice IP = %q, want right-most untrusted hop 198.51.100.7", ip)
	}
	if ip := got.Results.ClickDetails["bob@corp.test"].IP; ip != "203.0.113.9" {
		t.Errorf("bob IP = %q, want 203.0.113.9", ip)
	}
}

func TestTrackingDeletedCampaign(t *testing.T) {
	env := newTestEnv(t)
	c := env.seed(t, "secops", campaign.Draft{})

	if err := env.service.Delete(context.Background(), "secops", c.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if w := env.do(http.MethodGet, landingURL(c.ID, "alice@corp.test"), "", ""); w.Code != http.StatusNotFound {
		t.Errorf("landing Status = %d, want 404", w.Code)
	}
	w := env.postForm("/p/submit", url.Values{
		"campaignId":  {c.ID},
		"targetEmail": {"alice@corp.test"},
		"username":    {"alice"},
		"password":    {"hunter2"},
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("submit Status = %d, want 404", w.Code)
	}

	if _, err := env.store.Get(context.Background(), "secops", c.ID); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	stats, err := env.store.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Campaigns != 0 {
		t.Errorf("Stats().Campaigns = %d, want 0", stats.Campaigns)
	}
}
