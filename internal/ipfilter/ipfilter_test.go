package ipfilter

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		allowedIPs []string
		wantCount  int
	}{
		{"empty list", nil, 0},
		{"single IP", []string{"192.168.1.1"}, 1},
		{"CIDR range", []string{"10.0.0.0/8"}, 1},
		{"whitespace and blanks", []string{"  192.168.1.1  ", "", " 10.0.0.0/8 "}, 2},
		{"invalid entries ignored", []string{"192.168.1.1", "office-vpn", "10.0.0.0/33"}, 1},
		{"IPv6", []string{"::1", "2001:db8::/32"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.allowedIPs, nil, newTestLogger())
			if f.Count() != tt.wantCount {
				t.Errorf("Count() = %d, want %d", f.Count(), tt.wantCount)
			}
			if f.Enabled() != (tt.wantCount > 0) {
				t.Errorf("Enabled() = %v", f.Enabled())
			}
		})
	}
}

func TestFilter_IsAllowed(t *testing.T) {
	tests := []struct {
		name       string
		allowedIPs []string
		testIP     string
		want       bool
	}{
		{"empty filter allows all", nil, "1.2.3.4", true},
		{"exact IP match", []string{"192.168.1.1"}, "192.168.1.1", true},
		{"exact IP no match", []string{"192.168.1.1"}, "192.168.1.2", false},
		{"CIDR contains", []string{"192.168.0.0/16"}, "192.168.1.100", true},
		{"CIDR not contains", []string{"192.168.0.0/16"}, "10.0.0.1", false},
		{"unmasked CIDR normalised", []string{"192.168.5.7/16"}, "192.168.200.1", true},
		{"IPv4-mapped IPv6 client", []string{"10.0.0.0/8"}, "::ffff:10.1.2.3", true},
		{"IPv6 CIDR", []string{"2001:db8::/32"}, "2001:db8::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.allowedIPs, nil, newTestLogger())
			addr := netip.MustParseAddr(tt.testIP)
			if got := f.IsAllowed(addr); got != tt.want {
				t.Errorf("IsAllowed(%s) = %v, want %v", tt.testIP, got, tt.want)
			}
		})
	}
}

func TestFilter_IsAllowedString(t *testing.T) {
	f := New([]string{"192.168.1.0/24"}, nil, newTestLogger())

	if !f.IsAllowedString("192.168.1.50") {
		t.Error("IsAllowedString should allow IP in range")
	}
	if f.IsAllowedString("10.0.0.1") {
		t.Error("IsAllowedString should deny IP outside range")
	}
	if f.IsAllowedString("invalid") {
		t.Error("IsAllowedString should deny invalid IP")
	}
}

func TestProxies_ClientIP(t *testing.T) {
	proxies := NewProxies([]string{"127.0.0.1", "10.0.0.0/8", "bogus"}, newTestLogger())
	if proxies.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", proxies.Count())
	}

	tests := []struct {
		name       string
		proxies    *Proxies
		xff        []string
		xri        string
		remoteAddr string
		want       string
	}{
		{"untrusted peer ignores X-Forwarded-For", proxies, []string{"10.1.2.3"}, "", "203.0.113.9:4000", "203.0.113.9"},
		{"untrusted peer ignores X-Real-IP", proxies, nil, "10.1.2.3", "203.0.113.9:4000", "203.0.113.9"},
		{"nil proxies trusts nothing", nil, []string{"198.51.100.7"}, "", "127.0.0.1:4000", "127.0.0.1"},
		{"trusted peer single hop", proxies, []string{"198.51.100.7"}, "", "127.0.0.1:4000", "198.51.100.7"},
		{"forged left entry skipped", proxies, []string{"10.1.2.3, 198.51.100.7"}, "", "127.0.0.1:4000", "198.51.100.7"},
		{"trusted hops skipped", proxies, []string{"198.51.100.7, 10.0.0.5, 10.0.0.6"}, "", "127.0.0.1:4000", "198.51.100.7"},
		{"multiple header lines", proxies, []string{"198.51.100.7", "10.0.0.5"}, "", "127.0.0.1:4000", "198.51.100.7"},
		{"all hops trusted", proxies, []string{"10.0.0.5"}, "", "127.0.0.1:4000", "10.0.0.5"},
		{"garbage hop stops the walk", proxies, []string{"unknown, 10.0.0.5"}, "", "127.0.0.1:4000", "10.0.0.5"},
		{"X-Real-IP from trusted peer", proxies, nil, "198.51.100.25", "127.0.0.1:4000", "198.51.100.25"},
		{"mapped IPv6 peer", proxies, []string{"198.51.100.7"}, "", "[::ffff:127.0.0.1]:4000", "198.51.100.7"},
		{"RemoteAddr without port", nil, nil, "", "192.168.1.100", "192.168.1.100"},
		{"IPv6 RemoteAddr", nil, nil, "", "[2001:db8::1]:443", "2001:db8::1"},
		{"unparseable", proxies, nil, "", "pipe", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for _, v := range tt.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}

			if got := tt.proxies.ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFilter_HTTPMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		allowedIPs []string
		remoteAddr string
		wantStatus int
	}{
		{"empty filter allows all", nil, "1.2.3.4:1", http.StatusOK},
		{"allowed IP", []string{"192.168.0.0/16"}, "192.168.1.100:1", http.StatusOK},
		{"denied IP", []string{"192.168.0.0/16"}, "10.0.0.1:1", http.StatusForbidden},
		{"unparseable client", []string{"192.168.0.0/16"}, "pipe", http.StatusForbidden},
		{"forged X-Forwarded-For", []string{"10.0.0.0/8"}, "203.0.113.9:1", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.allowedIPs, nil, newTestLogger())

			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			req.Header.Set("X-Forwarded-For", "10.1.2.3")
			req.Header.Set("X-Real-IP", "10.1.2.3")
			rr := httptest.NewRecorder()
			f.HTTPMiddleware(handler).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}

func TestFilter_HTTPMiddlewareBehindProxy(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f := New([]string{"192.168.0.0/16"}, NewProxies([]string{"10.0.0.1"}, newTestLogger()), newTestLogger())

	tests := []struct {
		name       string
		xff        string
		wantStatus int
	}{
		{"allowed client via proxy", "192.168.1.20", http.StatusOK},
		{"denied client via proxy", "203.0.113.9", http.StatusForbidden},
		{"client cannot prepend an allowed address", "192.168.1.20, 203.0.113.9", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = "10.0.0.1:5555"
			req.Header.Set("X-Forwarded-For", tt.xff)
			rr := httptest.NewRecorder()
			f.HTTPMiddleware(handler).ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
		})
	}
}
