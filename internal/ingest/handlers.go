package ingest

import (
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/logger"
)

func (ep *Endpoint) handleDownload(c *echo.Context) error {
	var msg Message
	if err := c.Bind(&msg); err != nil || msg.URL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid download message"})
	}

	if !ep.passesFilters(msg) {
		return c.JSON(http.StatusOK, ep.snapshot())
	}

	if err := ep.addFn(msg, true); err != nil {
		logger.Warnf("ingest: add_download failed for %s: %v", msg.URL, err)
	}

	return c.JSON(http.StatusOK, ep.snapshot())
}

func (ep *Endpoint) handleLink(c *echo.Context) error {
	var msgs []Message
	if err := c.Bind(&msgs); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid link message"})
	}

	for _, msg := range msgs {
		if msg.URL == "" || !ep.passesFilters(msg) {
			continue
		}
		if err := ep.addFn(msg, false); err != nil {
			logger.Warnf("ingest: link add failed for %s: %v", msg.URL, err)
		}
	}

	return c.JSON(http.StatusOK, ep.snapshot())
}

func (ep *Endpoint) passesFilters(msg Message) bool {
	if hostBlocked(msg.URL, ep.cfg.BlockedHosts) {
		return false
	}
	return allowedByExtOrContentType(msg.URL, msg.ContentType, ep.cfg.FileExts, ep.cfg.MediaTypes)
}

func (ep *Endpoint) handleMedia(c *echo.Context) error {
	var msg Message
	if err := c.Bind(&msg); err != nil || msg.URL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid media message"})
	}

	canonical := canonicalizeYouTubeURL(msg.URL)
	kind := classifyMedia(msg)

	ep.mu.Lock()
	var existing *common.MediaItem
	for _, m := range ep.media {
		if m.URL == canonical {
			existing = m
			break
		}
	}
	if existing == nil {
		item := &common.MediaItem{
			ID:           newMediaID(),
			Name:         mediaDisplayName(msg, canonical),
			SourceTabURL: msg.TabURL,
			URL:          canonical,
			Kind:         kind,
			ContentType:  msg.ContentType,
			Size:         msg.ContentLength,
			Headers:      msg.RequestHeaders,
			Cookies:      msg.Cookie,
			DateAdded:    time.Now(),
		}
		ep.media = append(ep.media, item)
		existing = item
	}
	ep.mu.Unlock()

	if ep.store != nil {
		if err := ep.store.SaveMediaItem(existing); err != nil {
			logger.Warnf("ingest: persisting media item %s: %v", existing.ID, err)
		}
	}
	if ep.bus != nil {
		ep.bus.Publish("media:added", existing)
	}

	return c.JSON(http.StatusOK, ep.snapshot())
}

func mediaDisplayName(msg Message, canonicalURL string) string {
	if msg.TabTitle != "" {
		return msg.TabTitle
	}
	if msg.File != "" {
		return msg.File
	}
	return path.Base(canonicalURL)
}

func (ep *Endpoint) handleVid(c *echo.Context) error {
	var body struct {
		Vid string `json:"vid"`
	}
	if err := c.Bind(&body); err != nil || body.Vid == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing vid"})
	}

	ep.mu.Lock()
	var item *common.MediaItem
	for _, m := range ep.media {
		if m.ID == body.Vid {
			item = m
			break
		}
	}
	ep.mu.Unlock()

	if item != nil && ep.bus != nil {
		ep.bus.Publish("media:download", item)
	}

	return c.JSON(http.StatusOK, ep.snapshot())
}

func (ep *Endpoint) handleTabUpdate(c *echo.Context) error {
	var body struct {
		TabURL   string `json:"tabUrl"`
		TabTitle string `json:"tabTitle"`
	}
	if err := c.Bind(&body); err != nil || body.TabURL == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing tabUrl"})
	}

	ep.mu.Lock()
	var updated []*common.MediaItem
	for _, m := range ep.media {
		if m.SourceTabURL == body.TabURL {
			m.Name = renameKeepingExtension(m.Name, body.TabTitle)
			updated = append(updated, m)
		}
	}
	ep.mu.Unlock()

	for _, m := range updated {
		if ep.store != nil {
			if err := ep.store.SaveMediaItem(m); err != nil {
				logger.Warnf("ingest: persisting renamed media item %s: %v", m.ID, err)
			}
		}
		if ep.bus != nil {
			ep.bus.Publish("media:updated", m)
		}
	}

	return c.JSON(http.StatusOK, ep.snapshot())
}

// renameKeepingExtension replaces oldName's base with newBase but keeps
// oldName's extension, per spec.md §4.7's /tab-update rule.
func renameKeepingExtension(oldName, newBase string) string {
	if newBase == "" {
		return oldName
	}
	ext := path.Ext(oldName)
	if strings.HasSuffix(newBase, ext) {
		return newBase
	}
	return newBase + ext
}

func (ep *Endpoint) handleClear(c *echo.Context) error {
	ep.mu.Lock()
	ep.media = nil
	ep.mu.Unlock()

	if ep.store != nil {
		if err := ep.store.ClearMediaItems(); err != nil {
			logger.Warnf("ingest: clearing media items: %v", err)
		}
	}
	if ep.bus != nil {
		ep.bus.Publish("media:cleared", nil)
	}

	return c.JSON(http.StatusOK, ep.snapshot())
}

func (ep *Endpoint) handleSync(c *echo.Context) error {
	return c.JSON(http.StatusOK, ep.snapshot())
}
