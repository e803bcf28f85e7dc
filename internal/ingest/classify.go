package ingest

import (
	"net/url"
	"strings"

	"github.com/nshaw/qdm/internal/common"
)

// classifyMedia implements spec.md §4.7's /media classification: hls by
// mpegurl/.m3u8, dash by dash+xml/.mpd, youtube by host or tab URL, audio
// by content-type prefix, else video.
func classifyMedia(msg Message) common.MediaKind {
	lowerURL := strings.ToLower(msg.URL)
	lowerCT := strings.ToLower(msg.ContentType)

	if strings.Contains(lowerCT, "mpegurl") || strings.Contains(lowerURL, ".m3u8") {
		return common.MediaHLS
	}
	if strings.Contains(lowerCT, "dash+xml") || strings.Contains(lowerURL, ".mpd") {
		return common.MediaDASH
	}
	if isYouTubeHost(msg.URL) || isYouTubeHost(msg.TabURL) {
		return common.MediaYouTube
	}
	if strings.HasPrefix(lowerCT, "audio") {
		return common.MediaAudio
	}
	return common.MediaVideo
}

// isYouTubeHost reports whether rawURL's host contains googlevideo.com or
// youtube.com.
func isYouTubeHost(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Host)
	return strings.Contains(host, "googlevideo.com") || strings.Contains(host, "youtube.com")
}

// youtubeStripParams lists the query parameters that vary per byte-range
// request against the same underlying YouTube stream.
var youtubeStripParams = []string{"range", "rn", "rbuf"}

// canonicalizeYouTubeURL strips range/rn/rbuf query parameters from a
// googlevideo.com/youtube.com URL so that requests for different byte
// ranges of the same stream normalize to one dedup key, per spec.md §6's
// YouTube-range normalization rule. Non-YouTube URLs pass through
// unchanged.
func canonicalizeYouTubeURL(rawURL string) string {
	if !isYouTubeHost(rawURL) {
		return rawURL
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	q := u.Query()
	for _, p := range youtubeStripParams {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
