// Package ingest is the loopback Ingestion Endpoint: the HTTP/1.1 listener
// that external browser agents POST detected downloads and media to.
// Grounded on datallboy-GoNZB's internal/api controller/router split
// (one controller per concern, CORS/logging as echo middleware); the wire
// semantics themselves are spec.md §4.7/§6's, not open to reinterpretation.
package ingest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/config"
	"github.com/nshaw/qdm/internal/errors"
	"github.com/nshaw/qdm/internal/eventbus"
	"github.com/nshaw/qdm/internal/logger"
)

const (
	readTimeout     = 10 * time.Second
	maxPortAttempts = 16
)

// MediaStore is the subset of the store the Endpoint needs to persist
// MediaItems it has classified.
type MediaStore interface {
	SaveMediaItem(m *common.MediaItem) error
	ClearMediaItems() error
}

// AddFunc is called for every /download and /link request; autostart
// mirrors spec.md §4.7 ("autostart=true" for /download, false for /link).
// /vid does not call it; it publishes media:download instead.
type AddFunc func(msg Message, autostart bool) error

// Endpoint is the loopback HTTP listener. The MediaItem list it holds is
// owned exclusively by this component's task, per §5's shared-state policy
// — external readers only ever see a snapshot via the sync response.
type Endpoint struct {
	cfg   *config.IngestionConfig
	addFn AddFunc
	store MediaStore
	bus   *eventbus.Bus

	mu    sync.Mutex
	media []*common.MediaItem

	e        *echo.Echo
	listener net.Listener
}

// New constructs an Endpoint. cfg, addFn, and bus must be non-nil; store
// may be nil (persistence becomes best-effort in-memory only).
func New(cfg *config.IngestionConfig, addFn AddFunc, store MediaStore, bus *eventbus.Bus) *Endpoint {
	ep := &Endpoint{cfg: cfg, addFn: addFn, store: store, bus: bus}
	ep.e = echo.New()
	ep.e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
	}))
	ep.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			logger.Debugf("ingest: %s %s -> %d", v.Method, v.URI, v.Status)
			return nil
		},
	}))
	ep.e.Use(noStore)

	ep.e.POST("/download", ep.handleDownload)
	ep.e.POST("/media", ep.handleMedia)
	ep.e.POST("/vid", ep.handleVid)
	ep.e.POST("/tab-update", ep.handleTabUpdate)
	ep.e.POST("/clear", ep.handleClear)
	ep.e.POST("/link", ep.handleLink)
	ep.e.GET("/sync", ep.handleSync)

	return ep
}

// noStore marks every ingestion response non-cacheable, per spec.md §4.7.
func noStore(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		c.Response().Header().Set("Cache-Control", "no-store")
		return next(c)
	}
}

// Listen binds the loopback listener, starting at cfg.Port and bumping by
// one on EADDRINUSE up to maxPortAttempts times, per spec.md §4.7/§6.
func (ep *Endpoint) Listen() (int, error) {
	port := ep.cfg.Port
	if port <= 0 {
		port = 8597
	}

	for attempt := 0; attempt < maxPortAttempts; attempt++ {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ep.listener = ln
			return port, nil
		}
		if !isAddrInUse(err) {
			return 0, err
		}
		port++
	}

	return 0, fmt.Errorf("ingest: no free port found after %d attempts", maxPortAttempts)
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if !errors.As(err, &opErr) {
		return false
	}
	return opErr.Op == "listen"
}

// Serve blocks, serving on the listener bound by Listen, until ctx is
// cancelled.
func (ep *Endpoint) Serve(ctx context.Context) error {
	if ep.listener == nil {
		if _, err := ep.Listen(); err != nil {
			return err
		}
	}

	srv := &http.Server{Handler: ep.e}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ep.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Port returns the bound port, or 0 if Listen hasn't been called yet.
func (ep *Endpoint) Port() int {
	if ep.listener == nil {
		return 0
	}
	_, portStr, err := net.SplitHostPort(ep.listener.Addr().String())
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(portStr)
	return p
}

// snapshot builds the sync response from the current config and media
// list — side-effect-free, per P10.
func (ep *Endpoint) snapshot() SyncResponse {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	tabs := distinctTabURLs(ep.media)
	list := make([]VideoListItem, 0, len(ep.media))
	for _, m := range ep.media {
		list = append(list, VideoListItem{
			ID:   m.ID,
			Text: m.Name,
			Info: m.Description,
			Size: m.Size,
			Type: string(m.Kind),
		})
	}

	return SyncResponse{
		Enabled:         ep.cfg.Enabled,
		FileExts:        ep.cfg.FileExts,
		BlockedHosts:    ep.cfg.BlockedHosts,
		RequestFileExts: ep.cfg.RequestFileExts,
		MediaTypes:      ep.cfg.MediaTypes,
		TabsWatcher:     tabs,
		MatchingHosts:   ep.cfg.BlockedHosts,
		VideoList:       list,
	}
}

func distinctTabURLs(items []*common.MediaItem) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range items {
		if m.SourceTabURL == "" {
			continue
		}
		if _, ok := seen[m.SourceTabURL]; !ok {
			seen[m.SourceTabURL] = struct{}{}
			out = append(out, m.SourceTabURL)
		}
	}
	sort.Strings(out)
	return out
}

func newMediaID() string { return uuid.New().String() }
