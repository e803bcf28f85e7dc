// Package probe issues the initial HEAD used to learn a download's size,
// range support, and filename, following redirects the way §4.1 specifies.
// Grounded on the teacher's internal/http handler's HEAD/RangeGET/GET
// fallback chain, generalized into a single operation the supervisor calls
// once per download start.
package probe

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nshaw/qdm/internal/errors"
	"github.com/nshaw/qdm/internal/logger"
	"github.com/nshaw/qdm/internal/transport/httpx"
)

const (
	maxRedirects = 5
	hopTimeout   = 15 * time.Second
)

// Result is what the caller learns from a successful (or soft-failed) probe.
type Result struct {
	FinalURL  string
	TotalSize int64
	Resumable bool
	FileName  string
}

// Probe issues a HEAD with caller headers plus the product User-Agent,
// following up to 5 redirects. On failure it returns a soft error; the
// caller is permitted to proceed with UnknownSize and Resumable=false.
func Probe(ctx context.Context, client *httpx.Client, rawURL string, headers map[string]string) (*Result, error) {
	result, err := probeOnce(ctx, client, rawURL, headers, http.MethodHead)
	if err == nil {
		return result, nil
	}
	logger.Debugf("probe HEAD failed for %s: %v", rawURL, err)

	return nil, errors.NewProbeError(err, rawURL)
}

func probeOnce(ctx context.Context, client *httpx.Client, rawURL string, headers map[string]string, method string) (*Result, error) {
	currentURL := rawURL
	currentHeaders := headers

	for hop := 0; hop <= maxRedirects; hop++ {
		hopCtx, cancel := context.WithTimeout(ctx, hopTimeout)
		resp, err := doHop(hopCtx, client, currentURL, method, currentHeaders)
		cancel()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc := resp.Header.Get("Location")
			resp.Body.Close()
			if loc == "" {
				return nil, errors.New("redirect without Location")
			}

			next, err := resolveLocation(currentURL, loc)
			if err != nil {
				return nil, err
			}

			currentHeaders = httpx.StripCredentialsOnAuthorityChange(currentHeaders, currentURL, next)
			currentURL = next
			continue
		}

		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, errors.New("probe request failed with status " + strconv.Itoa(resp.StatusCode))
		}

		return buildResult(resp, currentURL), nil
	}

	return nil, errors.New("too many redirects")
}

func doHop(ctx context.Context, client *httpx.Client, rawURL, method string, headers map[string]string) (*http.Response, error) {
	req, err := httpx.NewRequest(ctx, method, rawURL, headers)
	if err != nil {
		return nil, err
	}
	return client.Do(req)
}

func resolveLocation(base, location string) (string, error) {
	baseURL, err := parseURL(base)
	if err != nil {
		return "", err
	}
	return resolveRelative(baseURL, location)
}

func buildResult(resp *http.Response, finalURL string) *Result {
	totalSize := parseContentLength(resp.Header.Get("Content-Length"))
	acceptRanges := strings.Contains(strings.ToLower(resp.Header.Get("Accept-Ranges")), "bytes")

	resumable := acceptRanges || totalSize != -1

	return &Result{
		FinalURL:  finalURL,
		TotalSize: totalSize,
		Resumable: resumable,
		FileName:  httpx.FilenameFromResponse(resp),
	}
}

func parseContentLength(v string) int64 {
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
