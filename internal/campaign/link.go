package campaign

import (
	"net/url"
	"strings"
)

// Placeholder is the token in an email body replaced by the tracked link
const Placeholder = "[PHISHING_LINK_PLACEHOLDER]"

// PreviewLink is substituted for the placeholder in operator previews
const PreviewLink = "https://example.com/malicious-link"

// LandingPath is the public path of the simulated page
const LandingPath = "/p"

// Links builds per-target tracked links under a public base URL
type Links struct {
	BaseURL string
}

// For returns the tracked link for one target of a campaign
func (l Links) For(campaignID, target string) string {
	q := url.Values{}
	q.Set("campaignId", campaignID)
	q.Set("targetEmail", target)
	return strings.TrimRight(l.BaseURL, "/") + LandingPath + "?" + q.Encode()
}

// RenderBody replaces every placeholder occurrence in body with link
func RenderBody(body, link string) string {
	return strings.ReplaceAll(body, Placeholder, link)
}

// ParseTargets splits a comma or newline separated list into trimmed addresses
func ParseTargets(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r' || r == ';'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
