package engine

import "github.com/nshaw/qdm/internal/ingest"

// addFromMessage satisfies ingest.AddFunc, translating the browser
// agent's wire message into a Download. autostart is true for /download,
// false for /link, per spec.md §4.7.
func (e *Engine) addFromMessage(msg ingest.Message, autostart bool) error {
	headers := mergeCookie(msg.RequestHeaders, msg.Cookie)
	_, err := e.AddDownload(msg.URL, headers, msg.File, autostart)
	return err
}

// mergeCookie folds msg.Cookie into the outbound header set under the
// Cookie key, without mutating the caller's map.
func mergeCookie(headers map[string]string, cookie string) map[string]string {
	if cookie == "" {
		return headers
	}

	merged := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		merged[k] = v
	}
	merged["Cookie"] = cookie
	return merged
}
