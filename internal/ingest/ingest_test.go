package ingest_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/nshaw/qdm/internal/config"
	"github.com/nshaw/qdm/internal/eventbus"
	"github.com/nshaw/qdm/internal/ingest"
)

func newTestEndpoint(t *testing.T, addFn ingest.AddFunc) (*ingest.Endpoint, string) {
	t.Helper()
	cfg := &config.IngestionConfig{
		Enabled: true,
		Port:    0,
	}
	if addFn == nil {
		addFn = func(ingest.Message, bool) error { return nil }
	}
	ep := ingest.New(cfg, addFn, nil, eventbus.New())

	port, err := ep.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go ep.Serve(t.Context())

	return ep, fmt.Sprintf("http://127.0.0.1:%d", port)
}

func postJSON(t *testing.T, url string, body interface{}) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestIngest_YouTubeMediaDedup(t *testing.T) {
	ep, base := newTestEndpoint(t, nil)
	_ = ep

	msg1 := map[string]string{
		"url": "https://rr1---sn-x.googlevideo.com/videoplayback?itag=137&range=0-65535",
	}
	msg2 := map[string]string{
		"url": "https://rr1---sn-x.googlevideo.com/videoplayback?itag=137&range=65536-131071",
	}

	resp1 := postJSON(t, base+"/media", msg1)
	defer resp1.Body.Close()
	resp2 := postJSON(t, base+"/media", msg2)
	defer resp2.Body.Close()

	var sync ingest.SyncResponse
	if err := json.NewDecoder(resp2.Body).Decode(&sync); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if len(sync.VideoList) != 1 {
		t.Fatalf("expected exactly one MediaItem, got %d", len(sync.VideoList))
	}
}

func TestIngest_SyncIsIdempotent(t *testing.T) {
	_, base := newTestEndpoint(t, nil)

	resp, err := http.Get(base + "/sync")
	if err != nil {
		t.Fatalf("GET /sync: %v", err)
	}
	defer resp.Body.Close()

	var first ingest.SyncResponse
	json.NewDecoder(resp.Body).Decode(&first)

	resp2, err := http.Get(base + "/sync")
	if err != nil {
		t.Fatalf("GET /sync: %v", err)
	}
	defer resp2.Body.Close()

	var second ingest.SyncResponse
	json.NewDecoder(resp2.Body).Decode(&second)

	if len(first.VideoList) != len(second.VideoList) {
		t.Fatalf("sync should be side-effect-free: got %d then %d items", len(first.VideoList), len(second.VideoList))
	}
}

func TestIngest_DownloadDoesNotDedup(t *testing.T) {
	var added int
	ep, base := newTestEndpoint(t, func(msg ingest.Message, autostart bool) error {
		added++
		if !autostart {
			t.Errorf("expected /download to autostart")
		}
		return nil
	})
	_ = ep

	msg := map[string]string{"url": "http://example.com/f.zip", "file": "f.zip"}
	r1 := postJSON(t, base+"/download", msg)
	r1.Body.Close()
	r2 := postJSON(t, base+"/download", msg)
	r2.Body.Close()

	if added != 2 {
		t.Fatalf("expected two independent add calls, got %d", added)
	}
}

func TestIngest_ClearIsIdempotent(t *testing.T) {
	_, base := newTestEndpoint(t, nil)

	postJSON(t, base+"/media", map[string]string{"url": "http://example.com/a.mp4"}).Body.Close()

	r1 := postJSON(t, base+"/clear", map[string]string{})
	r1.Body.Close()
	r2 := postJSON(t, base+"/clear", map[string]string{})
	defer r2.Body.Close()

	var sync ingest.SyncResponse
	json.NewDecoder(r2.Body).Decode(&sync)
	if len(sync.VideoList) != 0 {
		t.Fatalf("expected empty media list after clear, got %d", len(sync.VideoList))
	}
}
