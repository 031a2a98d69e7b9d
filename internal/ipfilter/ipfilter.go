// Package ipfilter provides IP-based access control and client address
// extraction for the HTTP listeners
package ipfilter

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Filter checks if IP addresses are allowed
type Filter struct {
	prefixes []netip.Prefix
	proxies  *Proxies
	logger   *slog.Logger
}

// New creates a new IP filter from a list of IPs/CIDRs.
// Empty list means allow all; invalid entries are logged and skipped.
// proxies decides which forwarding headers are believed; nil trusts none.
func New(allowedIPs []string, proxies *Proxies, logger *slog.Logger) *Filter {
	f := &Filter{proxies: proxies, logger: logger}

	for _, entry := range allowedIPs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		p, err := parseEntry(entry)
		if err != nil {
			logger.Warn("invalid entry in allowed_ips", "entry", entry, "error", err)
			continue
		}
		f.prefixes = append(f.prefixes, p)
	}

	return f
}

// parseEntry turns a bare address into a single-host prefix
func parseEntry(entry string) (netip.Prefix, error) {
	if strings.Contains(entry, "/") {
		p, err := netip.ParsePrefix(entry)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(entry)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Enabled returns true if IP filtering is active
func (f *Filter) Enabled() bool {
	return len(f.prefixes) > 0
}

// Count returns the number of allowed networks
func (f *Filter) Count() int {
	return len(f.prefixes)
}

// IsAllowed reports whether addr is permitted; an empty filter allows everything
func (f *Filter) IsAllowed(addr netip.Addr) bool {
	if len(f.prefixes) == 0 {
		return true
	}
	addr = addr.Unmap()
	for _, p := range f.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsAllowedString parses and checks an address string
func (f *Filter) IsAllowedString(s string) bool {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return f.IsAllowed(addr)
}

// Proxies resolves the client address of requests relayed by trusted reverse
// proxies. A nil or empty Proxies trusts no forwarding headers.
type Proxies struct {
	prefixes []netip.Prefix
}

// NewProxies creates a resolver trusting the given IPs/CIDRs as proxies.
// Invalid entries are logged and skipped.
func NewProxies(trusted []string, logger *slog.Logger) *Proxies {
	p := &Proxies{}
	for _, entry := range trusted {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		prefix, err := parseEntry(entry)
		if err != nil {
			logger.Warn("invalid entry in trusted_proxies", "entry", entry, "error", err)
			continue
		}
		p.prefixes = append(p.prefixes, prefix)
	}
	return p
}

// Count returns the number of trusted proxy networks
func (p *Proxies) Count() int {
	if p == nil {
		return 0
	}
	return len(p.prefixes)
}

func (p *Proxies) trusts(addr netip.Addr) bool {
	if p == nil {
		return false
	}
	for _, prefix := range p.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the address of the client that sent r. The TCP peer is the
// client unless it is a trusted proxy; then X-Forwarded-For is walked from the
// right and the first hop that is not a trusted proxy wins. Returns "" when
// the peer address does not parse.
func (p *Proxies) ClientIP(r *http.Request) string {
	peer, ok := remoteAddr(r.RemoteAddr)
	if !ok {
		return ""
	}
	if !p.trusts(peer) {
		return peer.String()
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		hops = append(hops, strings.Split(v, ",")...)
	}
	if len(hops) == 0 {
		if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return addr.Unmap().String()
		}
		return peer.String()
	}

	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = addr.Unmap()
		if !p.trusts(client) {
			break
		}
	}
	return client.String()
}

func remoteAddr(s string) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		host = s
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// HTTPMiddleware rejects requests from addresses outside the filter with 403
func (f *Filter) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !f.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		ip := f.proxies.ClientIP(r)
		if ip == "" {
			f.logger.Warn("could not parse client IP", "remote_addr", r.RemoteAddr)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		if !f.IsAllowedString(ip) {
			f.logger.Warn("access denied by IP filter", "ip", ip, "path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
