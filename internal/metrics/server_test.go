package metrics

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestServerScrape(t *testing.T) {
	m := New()
	m.EventsTotal.WithLabelValues("click", "ok").Inc()
	s := NewServer(m, "", "", nil, testLogger())

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `phishdrill_events_total{kind="click",result="ok"} 1`) {
		t.Errorf("scrape output missing events counter:\n%s", rec.Body.String())
	}
}

func TestServerIPFilter(t *testing.T) {
	s := NewServer(New(), ":0", "/internal/metrics", []string{"10.0.0.0/8"}, testLogger())

	tests := []struct {
		name       string
		path       string
		remoteAddr string
		wantStatus int
	}{
		{"allowed scrape", "/internal/metrics", "10.1.2.3:5000", http.StatusOK},
		{"denied scrape", "/internal/metrics", "192.0.2.1:5000", http.StatusForbidden},
		{"health unfiltered", "/health", "192.0.2.1:5000", http.StatusOK},
		{"default path not mounted", "/metrics", "10.1.2.3:5000", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.path, nil)
			req.RemoteAddr = tt.remoteAddr
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	s := NewServer(New(), "", "", nil, testLogger())
	if err := s.Shutdown(t.Context()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}
