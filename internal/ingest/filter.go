package ingest

import (
	"net/url"
	"path"
	"strings"
)

// hostBlocked reports whether rawURL's host matches (or is a subdomain of)
// any entry in blocked.
func hostBlocked(rawURL string, blocked []string) bool {
	if len(blocked) == 0 {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())

	for _, b := range blocked {
		b = strings.ToLower(strings.TrimSpace(b))
		if b == "" {
			continue
		}
		if host == b || strings.HasSuffix(host, "."+b) {
			return true
		}
	}
	return false
}

// allowedByExtOrContentType reports whether msg's URL extension or declared
// content type is present in the configured allowlist. An empty allowlist
// admits everything, matching the permissive default config.
func allowedByExtOrContentType(rawURL, contentType string, fileExts, contentTypes []string) bool {
	if len(fileExts) == 0 && len(contentTypes) == 0 {
		return true
	}

	u, err := url.Parse(rawURL)
	if err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		for _, e := range fileExts {
			if strings.ToLower(e) == ext {
				return true
			}
		}
	}

	lowerCT := strings.ToLower(contentType)
	for _, ct := range contentTypes {
		if lowerCT != "" && strings.Contains(lowerCT, strings.ToLower(ct)) {
			return true
		}
	}

	return false
}
