package httpx

import (
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const defaultDownloadName = "download"

// DefaultDownloadName is the sentinel FilenameFromResponse returns when no
// Content-Disposition header or URL path segment yields a usable name.
const DefaultDownloadName = defaultDownloadName

// ContentTypeExtensions maps a handful of common MIME types to a fallback
// extension, used only when a URL-derived leaf name has none.
var ContentTypeExtensions = map[string]string{
	"application/zip":        ".zip",
	"application/pdf":        ".pdf",
	"application/x-msdownload": ".exe",
	"video/mp4":               ".mp4",
	"application/octet-stream": "",
}

// FilenameFromResponse implements the precedence order: RFC 5987
// filename* (percent-decoded) > double-quoted filename > unquoted
// filename > URL-derived leaf (+ content-type extension when missing) >
// synthetic.
func FilenameFromResponse(resp *http.Response) string {
	if name, ok := filenameFromContentDisposition(resp.Header.Get("Content-Disposition")); ok {
		return name
	}

	if name := filenameFromURL(resp.Request.URL, resp.Header.Get("Content-Type")); name != "" {
		return name
	}

	return defaultDownloadName
}

func filenameFromContentDisposition(header string) (string, bool) {
	if header == "" {
		return "", false
	}

	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return "", false
	}

	// RFC 5987 filename*=CHARSET'LANG'value takes precedence. For a UTF-8
	// or US-ASCII charset, mime.ParseMediaType decodes it itself and stores
	// the result under params["filename"], overriding a plain filename, so
	// the "filename*" key is not normally present.
	if v, ok := params["filename*"]; ok && v != "" {
		if decoded, err := decodeRFC5987(v); err == nil {
			return sanitizeFileName(decoded), true
		}
		return sanitizeFileName(v), true
	}

	if v, ok := params["filename"]; ok && v != "" {
		return sanitizeFileName(v), true
	}

	return "", false
}

// decodeRFC5987 decodes a raw CHARSET'LANG'percent-encoded-value string
// found under the "filename*" key; mime.ParseMediaType does not itself
// leave one there.
func decodeRFC5987(v string) (string, error) {
	parts := strings.SplitN(v, "'", 3)
	if len(parts) != 3 {
		return v, nil
	}
	return url.QueryUnescape(parts[2])
}

// FilenameFromURL derives a leaf name from rawURL alone (no response
// available yet), used when a Download is added before a Probe has run.
// Returns "" if the URL has no usable path segment.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return filenameFromURL(u, "")
}

// SanitizeFileName exposes sanitizeFileName for callers deriving a
// caller-supplied override filename, per spec.md §3's sanitization rule.
func SanitizeFileName(name string) string {
	return sanitizeFileName(name)
}

func filenameFromURL(u *url.URL, contentType string) string {
	if u == nil {
		return ""
	}

	base := path.Base(u.Path)
	if base == "" || base == "/" || base == "." {
		return ""
	}

	decoded, err := url.QueryUnescape(base)
	if err == nil {
		base = decoded
	}

	if path.Ext(base) == "" {
		mt, _, _ := mime.ParseMediaType(contentType)
		if ext, ok := ContentTypeExtensions[mt]; ok && ext != "" {
			base += ext
		}
	}

	return sanitizeFileName(base)
}

// sanitizeFileName replaces filesystem-unsafe characters and control
// bytes, strips leading dots, and caps the result at 255 bytes.
func sanitizeFileName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20:
			b.WriteByte('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	out = strings.TrimSpace(out)
	if out == "" {
		return defaultDownloadName
	}

	if len(out) > 255 {
		out = out[:255]
	}
	return out
}

// ParseLastModified parses the Last-Modified header (RFC1123).
func ParseLastModified(header string) time.Time {
	if header == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC1123, header)
	if err != nil {
		return time.Time{}
	}
	return t
}
