// Package engine wires every other package into one runnable process:
// Store, Supervisor, Queue Manager, Ingestion Endpoint, and Event Bus,
// exposing the download lifecycle operations a CLI or GUI shell drives.
// Grounded on the teacher's internal/engine/engine.go (constructor that
// provisions its collaborators, mutex-guarded registry, Init/Shutdown
// pair, GetGlobalStats aggregation), with the protocol/chunk/connection
// layer it wired replaced by this module's supervisor/segment/transport
// stack.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/config"
	"github.com/nshaw/qdm/internal/eventbus"
	"github.com/nshaw/qdm/internal/filesystem"
	"github.com/nshaw/qdm/internal/ingest"
	"github.com/nshaw/qdm/internal/logger"
	"github.com/nshaw/qdm/internal/queue"
	"github.com/nshaw/qdm/internal/ratelimit"
	"github.com/nshaw/qdm/internal/store"
	"github.com/nshaw/qdm/internal/supervisor"
	"github.com/nshaw/qdm/internal/transport/httpx"
)

// defaultQueueID names the queue every download lands in unless a caller
// explicitly moves it, per spec.md §4.6's "always at least one queue".
const defaultQueueID = "default"

// Engine is the top-level handle a CLI or GUI shell holds. It owns the
// process lifetime of every collaborator and is safe for concurrent use.
type Engine struct {
	cfg *config.Config

	store *store.Store
	sup   *supervisor.Supervisor
	queue *queue.Manager
	bus   *eventbus.Bus
	rl    *ratelimit.Limiter

	ingest *ingest.Endpoint

	mu      sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs an Engine from cfg without touching disk or the network
// yet; Init performs all of that.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		d := config.DefaultConfig()
		cfg = &d
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &Engine{cfg: cfg}, nil
}

// Init opens the Store, restores persisted Downloads and Queues, and
// starts the Queue Manager's admission sweep and the Ingestion Endpoint
// (if enabled). It is idempotent.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return nil
	}

	dbPath := filepath.Join(e.cfg.DataDir, "qdm.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	e.store = st

	e.bus = eventbus.New()
	e.rl = ratelimit.New(e.cfg.SpeedLimitKbps)

	e.sup = supervisor.New(supervisor.Deps{
		Client:  httpx.NewClient(),
		FS:      filesystem.NewOSFileSystem(),
		Limiter: e.rl,
		Store:   e.store,
		Bus:     e.bus,
		DataDir: e.cfg.DataDir,
	})

	if err := e.loadDownloads(); err != nil {
		return fmt.Errorf("failed to load downloads: %w", err)
	}

	e.queue = queue.New(e.sup.Start, e.statusOf, e.bus)

	if err := e.loadQueues(); err != nil {
		return fmt.Errorf("failed to load queues: %w", err)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.queue.Start(e.ctx)

	if e.cfg.Ingestion != nil && e.cfg.Ingestion.Enabled {
		ep := ingest.New(e.cfg.Ingestion, e.addFromMessage, e.store, e.bus)
		port, err := ep.Listen()
		if err != nil {
			return fmt.Errorf("failed to start ingestion endpoint: %w", err)
		}
		logger.Infof("ingestion endpoint listening on 127.0.0.1:%d", port)
		e.ingest = ep
		go func() {
			if err := ep.Serve(e.ctx); err != nil {
				logger.Errorf("ingestion endpoint exited: %v", err)
			}
		}()
	}

	e.running = true
	return nil
}

// loadDownloads restores every persisted Download into the Supervisor's
// registry; per spec.md §4.5's crash-recovery rule, the Supervisor itself
// rewrites downloading/assembling records to paused.
func (e *Engine) loadDownloads() error {
	downloads, err := e.store.ListDownloads()
	if err != nil {
		return err
	}
	for _, d := range downloads {
		e.sup.Register(d)
	}
	logger.Infof("loaded %d download(s) from store", len(downloads))
	return nil
}

// loadQueues restores every persisted Queue, creating the default queue
// if none exist yet.
func (e *Engine) loadQueues() error {
	queues, err := e.store.ListQueues()
	if err != nil {
		return err
	}

	if len(queues) == 0 {
		def := &common.Queue{
			ID:            defaultQueueID,
			Name:          "Default",
			Enabled:       true,
			MaxConcurrent: e.cfg.MaxConcurrentDownloads,
		}
		if err := e.queue.CreateQueue(def); err != nil {
			return err
		}
		return e.store.SaveQueue(def)
	}

	for _, q := range queues {
		if err := e.queue.CreateQueue(q); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) statusOf(id uuid.UUID) (common.Status, bool) {
	d, ok := e.sup.Get(id)
	if !ok {
		return 0, false
	}
	d.Lock()
	defer d.Unlock()
	return d.Status, true
}

// AddDownload registers a new Download and, unless autostart is false,
// enqueues it in the default queue so the Queue Manager may admit it.
// fileName, when non-empty, is a caller override taking top precedence
// in the §3 filename-derivation chain; it is sanitized here.
func (e *Engine) AddDownload(sourceURL string, headers map[string]string, fileName string, autostart bool) (uuid.UUID, error) {
	if sourceURL == "" {
		return uuid.Nil, ErrInvalidURL
	}
	if !e.isRunning() {
		return uuid.Nil, ErrEngineNotRunning
	}

	d := &common.Download{
		ID:             uuid.New(),
		SourceURL:      sourceURL,
		RequestHeaders: headers,
		SaveDir:        e.cfg.DownloadDir,
		Status:         common.StatusQueued,
		MaxSegments:    e.cfg.MaxSegmentsPerDownload,
		DateAdded:      time.Now(),
	}
	if fileName != "" {
		d.FileName = httpx.SanitizeFileName(fileName)
		d.Category = common.CategoryForFileName(d.FileName)
	}

	if err := e.sup.Add(d); err != nil {
		return uuid.Nil, err
	}

	if autostart {
		if err := e.queue.Enqueue(defaultQueueID, d.ID); err != nil {
			return d.ID, err
		}
	}

	return d.ID, nil
}

// GetDownload returns the current record for id.
func (e *Engine) GetDownload(id uuid.UUID) (*common.Download, error) {
	d, ok := e.sup.Get(id)
	if !ok {
		return nil, ErrDownloadNotFound
	}
	return d, nil
}

// ListDownloads returns every known Download.
func (e *Engine) ListDownloads() []*common.Download {
	return e.sup.List()
}

// RemoveDownload tears down any in-flight transfer, deletes scratch and
// persisted state, and evicts id from whatever queue holds it.
func (e *Engine) RemoveDownload(id uuid.UUID) error {
	if _, ok := e.sup.Get(id); !ok {
		return ErrDownloadNotFound
	}
	if err := e.sup.Remove(id); err != nil {
		return err
	}
	e.queue.NotifyCompletion(id)
	return nil
}

// GlobalStats aggregates per-status counters and current aggregate speed
// across every known Download, for a CLI/GUI status line.
func (e *Engine) GlobalStats() common.GlobalStats {
	downloads := e.sup.List()

	stats := common.GlobalStats{MaxConcurrent: e.cfg.MaxConcurrentDownloads}
	for _, d := range downloads {
		d.Lock()
		switch d.Status {
		case common.StatusDownloading, common.StatusAssembling:
			stats.ActiveDownloads++
			stats.CurrentConcurrent++
			stats.CurrentSpeed += d.SpeedBps
		case common.StatusQueued:
			stats.QueuedDownloads++
		case common.StatusCompleted:
			stats.CompletedDownloads++
		case common.StatusFailed, common.StatusStopped:
			stats.FailedDownloads++
		case common.StatusPaused:
			stats.PausedDownloads++
		}
		stats.TotalDownloaded += d.Downloaded
		d.Unlock()
	}
	return stats
}

// IngestPort returns the bound port of the ingestion endpoint, or 0 if
// ingestion is disabled or Init has not run yet.
func (e *Engine) IngestPort() int {
	if e.ingest == nil {
		return 0
	}
	return e.ingest.Port()
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Shutdown stops the Queue Manager sweep and the Ingestion Endpoint, then
// closes the Store. Cancelling the engine context also cancels every
// transfer the Queue Manager admitted or ResumeDownload restarted, without
// waiting for them to return; transfers restarted by RetryDownload run on
// their own context and keep running. Callers that want a clean stop
// should Pause every active download first.
func (e *Engine) Shutdown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return nil
	}

	if e.cancel != nil {
		e.cancel()
	}
	e.queue.Stop()
	e.bus.Close()

	var err error
	if e.store != nil {
		err = e.store.Close()
	}
	e.running = false
	return err
}
