package httpx

import (
	"net/url"
	"strings"
)

// hopByHopHeaders lists caller-supplied headers stripped before a Segment
// Worker issues its own GET; the worker injects its own Range.
var hopByHopHeaders = []string{
	"accept", "if-none-match", "if-modified-since", "authorization",
	"proxy-authorization", "connection", "expect", "te", "upgrade", "range",
	"transfer-encoding", "content-type", "content-length", "content-encoding",
}

// SanitizeOutboundHeaders returns a copy of headers with hop-by-hop and
// conditional headers removed, per the outbound header hygiene rule.
func SanitizeOutboundHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[k] = v
	}
	for _, h := range hopByHopHeaders {
		for k := range out {
			if strings.EqualFold(k, h) {
				delete(out, k)
			}
		}
	}
	return out
}

// StripCredentialsOnAuthorityChange removes Cookie/Authorization from
// headers when a redirect moves the request to a different host than
// originalURL, guarding against credential leakage to CDN hops.
func StripCredentialsOnAuthorityChange(headers map[string]string, originalURL, redirectURL string) map[string]string {
	orig, err1 := url.Parse(originalURL)
	next, err2 := url.Parse(redirectURL)
	if err1 != nil || err2 != nil || orig.Host == next.Host {
		return headers
	}

	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.EqualFold(k, "cookie") || strings.EqualFold(k, "authorization") || strings.EqualFold(k, "proxy-authorization") {
			continue
		}
		out[k] = v
	}
	return out
}
