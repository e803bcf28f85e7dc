// Package httpx is the tuned HTTP client shared by the Probe and every
// Segment Worker.
package httpx

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/nshaw/qdm/internal/logger"
)

const (
	defaultConnectTimeout = 15 * time.Second
	defaultIdleTimeout    = 90 * time.Second
	keepAlivePeriod       = 30 * time.Second
	maxIdleConns          = 100
	tlsHandshakeTimeout   = 10 * time.Second
	expectContinueTimeout = 1 * time.Second
	maxConnsPerHost       = 16

	DefaultUserAgent = "qdm/1.0"
)

// Client wraps http.Client with the transport tuning and header discipline
// every probe/segment request shares.
type Client struct {
	*http.Client
}

// NewClient creates a new HTTP client with custom transport settings.
func NewClient() *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   defaultConnectTimeout,
			KeepAlive: keepAlivePeriod,
		}).DialContext,
		MaxIdleConns:          maxIdleConns,
		IdleConnTimeout:       defaultIdleTimeout,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: expectContinueTimeout,
		DisableCompression:    true,
		MaxConnsPerHost:       maxConnsPerHost,
	}

	return &Client{
		&http.Client{
			Transport: transport,
			// Redirects are followed manually by the Probe and the segment
			// worker's 3xx branch, never by the stdlib client, so that the
			// authority-change credential guard can run on every hop.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// NewRequest builds a GET/HEAD request carrying the product User-Agent plus
// caller headers, verbatim except for whatever the caller already stripped.
func NewRequest(ctx context.Context, method, urlStr string, headers map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, urlStr, http.NoBody)
	if err != nil {
		logger.Errorf("failed to create %s request for %s: %v", method, urlStr, err)
		return nil, err
	}

	req.Header.Set("User-Agent", DefaultUserAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return req, nil
}
