package supervisor_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/filesystem"
	"github.com/nshaw/qdm/internal/supervisor"
	"github.com/nshaw/qdm/internal/transport/httpx"
)

// fakeStore is a minimal in-memory Persister double.
type fakeStore struct {
	mu     sync.Mutex
	saved  map[uuid.UUID]*common.Download
	deletes int
}

func newFakeStore() *fakeStore { return &fakeStore{saved: make(map[uuid.UUID]*common.Download)} }

func (f *fakeStore) SaveDownload(d *common.Download) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[d.ID] = d
	return nil
}

func (f *fakeStore) DeleteDownload(id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	delete(f.saved, id)
	return nil
}

func newSupervisor(t *testing.T) (*supervisor.Supervisor, string) {
	t.Helper()
	dir := t.TempDir()
	return supervisor.New(supervisor.Deps{
		Client:  httpx.NewClient(),
		FS:      filesystem.NewOSFileSystem(),
		Store:   newFakeStore(),
		DataDir: dir,
	}), dir
}

func pseudoRandomBody(n int) []byte {
	b := make([]byte, n)
	x := byte(17)
	for i := range b {
		x = x*31 + 7
		b[i] = x
	}
	return b
}

func TestSupervisor_SmallFileKnownSizeResumable(t *testing.T) {
	body := pseudoRandomBody(1_000_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "f.bin", time.Now(), bytes.NewReader(body))
	}))
	defer srv.Close()

	sup, dataDir := newSupervisor(t)
	saveDir := t.TempDir()

	d := &common.Download{
		ID:          uuid.New(),
		SourceURL:   srv.URL,
		FileName:    "f.bin",
		SaveDir:     saveDir,
		MaxSegments: 4,
		Status:      common.StatusQueued,
	}
	_ = sup.Add(d)

	if err := sup.Start(context.Background(), d.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(saveDir, "f.bin"))
	if err != nil {
		t.Fatalf("reading assembled file: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("assembled content mismatch: got %d bytes, want %d", len(got), len(body))
	}
	if d.Status != common.StatusCompleted {
		t.Fatalf("expected completed, got %v", d.Status)
	}
	if _, err := os.Stat(filepath.Join(dataDir, d.ID.String())); !os.IsNotExist(err) {
		t.Fatalf("expected scratch directory removed, stat err=%v", err)
	}
}

func TestSupervisor_UnknownSizeNonResumable(t *testing.T) {
	body := pseudoRandomBody(12_345)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Del("Content-Length")
		w.(http.Flusher).Flush()
		w.Write(body)
	}))
	defer srv.Close()

	sup, _ := newSupervisor(t)
	saveDir := t.TempDir()

	d := &common.Download{
		ID:          uuid.New(),
		SourceURL:   srv.URL,
		FileName:    "f.bin",
		SaveDir:     saveDir,
		MaxSegments: 4,
		Status:      common.StatusQueued,
	}
	_ = sup.Add(d)

	if err := sup.Start(context.Background(), d.ID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(saveDir, "f.bin"))
	if err != nil {
		t.Fatalf("reading assembled file: %v", err)
	}
	if len(got) != len(body) {
		t.Fatalf("expected %d bytes, got %d", len(body), len(got))
	}
	if d.Status != common.StatusCompleted {
		t.Fatalf("expected completed, got %v", d.Status)
	}
}

func TestSupervisor_RetryAfterTransientFailure(t *testing.T) {
	body := pseudoRandomBody(400_000)
	var failedOnce bool
	var mu sync.Mutex

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rangeHdr := r.Header.Get("Range")

		mu.Lock()
		shouldFail := !failedOnce && bytes.Contains([]byte(rangeHdr), []byte("0-199999"))
		if shouldFail {
			failedOnce = true
		}
		mu.Unlock()

		if shouldFail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		http.ServeContent(w, r, "f.bin", time.Now(), bytes.NewReader(body))
	}))
	defer srv.Close()

	sup, _ := newSupervisor(t)
	saveDir := t.TempDir()

	d := &common.Download{
		ID:          uuid.New(),
		SourceURL:   srv.URL,
		FileName:    "f.bin",
		SaveDir:     saveDir,
		MaxSegments: 2,
		Status:      common.StatusQueued,
	}
	_ = sup.Add(d)

	err := sup.Start(context.Background(), d.ID)
	if err == nil {
		t.Fatalf("expected first attempt to fail")
	}
	if d.Status != common.StatusFailed {
		t.Fatalf("expected failed status, got %v", d.Status)
	}

	if err := sup.Retry(d.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if d.Status != common.StatusCompleted {
		t.Fatalf("expected completed after retry, got %v", d.Status)
	}
}

func TestSupervisor_PauseStopsWorkersPromptly(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4194304")
		flusher := w.(http.Flusher)
		chunk := make([]byte, 32*1024)
		for i := 0; i < 128; i++ {
			select {
			case <-block:
				return
			default:
			}
			w.Write(chunk)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	sup, _ := newSupervisor(t)
	saveDir := t.TempDir()

	d := &common.Download{
		ID:          uuid.New(),
		SourceURL:   srv.URL,
		FileName:    "f.bin",
		SaveDir:     saveDir,
		MaxSegments: 4,
		Status:      common.StatusQueued,
	}
	_ = sup.Add(d)

	done := make(chan error, 1)
	go func() { done <- sup.Start(context.Background(), d.ID) }()

	time.Sleep(50 * time.Millisecond)

	pauseStart := time.Now()
	if err := sup.Pause(d.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if elapsed := time.Since(pauseStart); elapsed > 500*time.Millisecond {
		t.Fatalf("pause took too long: %v", elapsed)
	}
	close(block)
	<-done

	if d.Status != common.StatusPaused {
		t.Fatalf("expected paused, got %v", d.Status)
	}
}
