package segment_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/filesystem"
	"github.com/nshaw/qdm/internal/segment"
	"github.com/nshaw/qdm/internal/transport/httpx"
)

func newTestWorker(t *testing.T, sourceURL *string, headers map[string]string, resumable bool, seg *common.Segment, dir string, deltas chan common.SegmentDelta) *segment.Worker {
	t.Helper()
	fs := filesystem.NewOSFileSystem()
	partPath := filepath.Join(dir, seg.PartFileName())
	return segment.NewWorker(httpx.NewClient(), fs, nil,
		func() string { return *sourceURL },
		func(u string) { *sourceURL = u },
		headers, resumable, seg, partPath, deltas)
}

func TestWorker_FullBodyNonResumable(t *testing.T) {
	body := []byte("the quick brown fox jumps over the lazy dog")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	seg := &common.Segment{ID: uuid.New(), Offset: 0, Length: common.UnknownSize, State: common.SegmentNotStarted}
	deltas := make(chan common.SegmentDelta, 64)
	srcURL := srv.URL
	w := newTestWorker(t, &srcURL, nil, false, seg, dir, deltas)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seg.State != common.SegmentFinished {
		t.Errorf("expected SegmentFinished, got %v", seg.State)
	}
	if seg.Downloaded != int64(len(body)) {
		t.Errorf("expected %d bytes downloaded, got %d", len(body), seg.Downloaded)
	}

	got, err := os.ReadFile(filepath.Join(dir, seg.PartFileName()))
	if err != nil {
		t.Fatalf("reading part file: %v", err)
	}
	if string(got) != string(body) {
		t.Errorf("part file content mismatch: got %q", got)
	}
}

func TestWorker_ResumesFromPersistedOffset(t *testing.T) {
	full := []byte("0123456789")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if rng != "bytes=5-9" {
			t.Errorf("expected Range bytes=5-9, got %q", rng)
		}
		w.Write(full[5:])
	}))
	defer srv.Close()

	dir := t.TempDir()
	seg := &common.Segment{ID: uuid.New(), Offset: 0, Length: 10, Downloaded: 5, State: common.SegmentFailed}
	partPath := filepath.Join(dir, seg.PartFileName())
	if err := os.WriteFile(partPath, full[:5], 0o644); err != nil {
		t.Fatal(err)
	}

	deltas := make(chan common.SegmentDelta, 64)
	srcURL := srv.URL
	w := newTestWorker(t, &srcURL, nil, true, seg, dir, deltas)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seg.State != common.SegmentFinished {
		t.Errorf("expected SegmentFinished, got %v", seg.State)
	}

	got, err := os.ReadFile(partPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(full) {
		t.Errorf("expected reassembled part %q, got %q", full, got)
	}
}

func TestWorker_AlreadyFinishedIsNoop(t *testing.T) {
	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	dir := t.TempDir()
	seg := &common.Segment{ID: uuid.New(), Offset: 0, Length: 10, Downloaded: 10, State: common.SegmentFinished}
	deltas := make(chan common.SegmentDelta, 64)
	srcURL := srv.URL
	w := newTestWorker(t, &srcURL, nil, true, seg, dir, deltas)

	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hit {
		t.Error("expected no request for an already-finished segment")
	}
}

func TestWorker_HTTPErrorFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dir := t.TempDir()
	seg := &common.Segment{ID: uuid.New(), Offset: 0, Length: common.UnknownSize, State: common.SegmentNotStarted}
	deltas := make(chan common.SegmentDelta, 64)
	srcURL := srv.URL
	w := newTestWorker(t, &srcURL, nil, false, seg, dir, deltas)

	err := w.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error for HTTP 403")
	}
}

func TestWorker_CancellationIsPrompt(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-block
	}))
	defer srv.Close()
	defer close(block)

	dir := t.TempDir()
	seg := &common.Segment{ID: uuid.New(), Offset: 0, Length: common.UnknownSize, State: common.SegmentNotStarted}
	deltas := make(chan common.SegmentDelta, 64)
	srcURL := srv.URL
	w := newTestWorker(t, &srcURL, nil, false, seg, dir, deltas)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not observe cancellation promptly")
	}
}
