// Package supervisor implements the Download Supervisor: the per-download
// coordinator that owns a Download's worker set, applies the pause/resume/
// retry/cancel state machine, and triggers assembly on success. Grounded on
// the teacher's internal/downloader/download.go and downloader.go (atomic
// status field, errgroup-shaped worker fan-out, mutex-guarded record), with
// the retry-with-backoff loop removed — spec.md §4.5 makes retry an
// explicit, supervisor-external action rather than automatic policy.
package supervisor

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/errors"
	"github.com/nshaw/qdm/internal/filesystem"
	"github.com/nshaw/qdm/internal/logger"
	"github.com/nshaw/qdm/internal/probe"
	"github.com/nshaw/qdm/internal/ratelimit"
	"github.com/nshaw/qdm/internal/segment"
	"github.com/nshaw/qdm/internal/transport/httpx"
)

// progressTickInterval matches spec.md §4.5's 500ms progress ticker.
const progressTickInterval = 500 * time.Millisecond

// Persister is the subset of the store the Supervisor needs; satisfied by
// *store.Store. Kept as an interface so tests can substitute a fake.
type Persister interface {
	SaveDownload(d *common.Download) error
	DeleteDownload(id uuid.UUID) error
}

// Deps bundles the Supervisor's collaborators.
type Deps struct {
	Client  *httpx.Client
	FS      *filesystem.OSFileSystem
	Limiter *ratelimit.Limiter
	Store   Persister
	Bus     eventPublisher
	DataDir string
}

type eventPublisher interface {
	Publish(topic string, payload interface{})
}

// activeRun tracks the live teardown handle for one in-flight transfer.
type activeRun struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopping atomic.Bool
}

// Supervisor owns the in-memory registry of Downloads and coordinates their
// Segment Workers. It is the sole writer of every Download's aggregate
// fields, per the shared-state-contention design note.
type Supervisor struct {
	deps Deps

	mu        sync.Mutex
	downloads map[uuid.UUID]*common.Download
	runs      map[uuid.UUID]*activeRun
}

// New constructs an empty Supervisor.
func New(deps Deps) *Supervisor {
	return &Supervisor{
		deps:      deps,
		downloads: make(map[uuid.UUID]*common.Download),
		runs:      make(map[uuid.UUID]*activeRun),
	}
}

// Register adds d to the in-memory registry without persisting it — used
// when loading already-persisted records from the Store at process start.
// Per §4.5's crash-recovery rule, any record found downloading or
// assembling is rewritten to paused with speed reset to zero.
func (s *Supervisor) Register(d *common.Download) {
	if d.Status == common.StatusDownloading || d.Status == common.StatusAssembling {
		d.Status = common.StatusPaused
		d.SpeedBps = 0
	}

	s.mu.Lock()
	s.downloads[d.ID] = d
	s.mu.Unlock()
}

// Add registers a brand-new Download and persists it immediately.
func (s *Supervisor) Add(d *common.Download) error {
	s.mu.Lock()
	s.downloads[d.ID] = d
	s.mu.Unlock()

	if err := s.deps.Store.SaveDownload(d); err != nil {
		logger.Errorf("failed to persist new download %s: %v", d.ID, err)
	}
	s.publish("download:added", d.ID)
	return nil
}

// Get returns the in-memory record for id. Callers must not mutate it; it
// is owned by the Supervisor's run loop.
func (s *Supervisor) Get(id uuid.UUID) (*common.Download, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.downloads[id]
	return d, ok
}

// List returns every registered Download.
func (s *Supervisor) List() []*common.Download {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*common.Download, 0, len(s.downloads))
	for _, d := range s.downloads {
		out = append(out, d)
	}
	return out
}

func (s *Supervisor) publish(topic string, payload interface{}) {
	if s.deps.Bus != nil {
		s.deps.Bus.Publish(topic, payload)
	}
}

func (s *Supervisor) persist(d *common.Download) {
	if err := s.deps.Store.SaveDownload(d); err != nil {
		logger.Errorf("failed to persist download %s: %v", d.ID, err)
	}
}

func (s *Supervisor) partDir(id uuid.UUID) string {
	return filepath.Join(s.deps.DataDir, id.String())
}

// Start runs one download's transfer to completion, failure, or
// cancellation, blocking until it is done. Its signature matches
// queue.StartFunc so the Queue Manager can admit downloads directly.
func (s *Supervisor) Start(ctx context.Context, id uuid.UUID) error {
	d, ok := s.Get(id)
	if !ok {
		return errors.New("unknown download id")
	}

	runCtx, err := s.beginRun(ctx, id)
	if err != nil {
		return err
	}
	defer s.endRun(id)

	d.Lock()
	if d.Status != common.StatusPaused && d.Status != common.StatusQueued && d.Status != common.StatusFailed {
		d.Unlock()
		return errors.New("download not in a startable state")
	}

	if len(d.Segments) == 0 {
		s.planSegments(runCtx, d)
	}

	d.Status = common.StatusDownloading
	pending := pendingSegments(d)
	d.Unlock()
	s.persist(d)
	s.publish("download:started", d.ID)

	if len(pending) == 0 {
		return s.finishAllSegmentsDone(d)
	}

	deltas := make(chan common.SegmentDelta, 256)
	var wg sync.WaitGroup

	for _, seg := range pending {
		wg.Add(1)
		go func(seg *common.Segment) {
			defer wg.Done()
			s.runSegment(runCtx, d, seg, deltas)
		}(seg)
	}

	stopTicker := s.startProgressTicker(runCtx, d)

	go func() {
		wg.Wait()
		close(deltas)
	}()

	s.drainDeltas(d, deltas)
	stopTicker()

	if runCtx.Err() != nil {
		// Cancellation was requested, either by Pause/Cancel/Remove through
		// the run's cancel func or by the caller through ctx; Pause and
		// Cancel set the resulting status once this run has returned.
		return nil
	}

	return s.concludeRun(d)
}

func (s *Supervisor) beginRun(ctx context.Context, id uuid.UUID) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.runs[id]; ok {
		if existing.stopping.Load() {
			return nil, errors.ErrBusy
		}
		return nil, errors.New("download already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runs[id] = &activeRun{cancel: cancel, done: make(chan struct{})}
	return runCtx, nil
}

func (s *Supervisor) endRun(id uuid.UUID) {
	s.mu.Lock()
	run, ok := s.runs[id]
	delete(s.runs, id)
	s.mu.Unlock()
	if ok {
		close(run.done)
	}
}

// syntheticFileName produces the download_<id> fallback named in spec.md
// §3's precedence chain, used when neither a caller override nor a probe
// response nor the URL itself yields a usable name.
func syntheticFileName(id uuid.UUID) string {
	return "download_" + id.String()
}

func (s *Supervisor) planSegments(ctx context.Context, d *common.Download) {
	result, err := probe.Probe(ctx, s.deps.Client, d.SourceURL, d.RequestHeaders)
	if err != nil {
		logger.Debugf("probe failed for %s, proceeding unknown/non-resumable: %v", d.ID, err)
		d.Segments = segment.Plan(common.UnknownSize, false, d.MaxSegments)
		if d.FileName == "" {
			if name := httpx.FilenameFromURL(d.SourceURL); name != "" {
				d.FileName = name
			} else {
				d.FileName = syntheticFileName(d.ID)
			}
			d.Category = common.CategoryForFileName(d.FileName)
		}
		return
	}

	d.SourceURL = result.FinalURL
	d.TotalSize = result.TotalSize
	d.Resumable = result.Resumable
	if d.FileName == "" {
		// result.FileName falls back to the sentinel "download" when neither
		// Content-Disposition nor the URL yielded a real name; substitute the
		// synthetic download_<id> form instead of keeping that sentinel.
		if result.FileName != "" && result.FileName != httpx.DefaultDownloadName {
			d.FileName = result.FileName
		} else {
			d.FileName = syntheticFileName(d.ID)
		}
		d.Category = common.CategoryForFileName(d.FileName)
	}

	d.Segments = segment.Plan(d.TotalSize, d.Resumable, d.MaxSegments)
}

func pendingSegments(d *common.Download) []*common.Segment {
	var out []*common.Segment
	for _, seg := range d.Segments {
		if seg.State != common.SegmentFinished {
			out = append(out, seg)
		}
	}
	return out
}

func (s *Supervisor) runSegment(ctx context.Context, d *common.Download, seg *common.Segment, deltas chan<- common.SegmentDelta) {
	partPath := filepath.Join(s.partDir(d.ID), seg.PartFileName())

	w := segment.NewWorker(
		s.deps.Client,
		s.deps.FS,
		s.deps.Limiter,
		func() string { d.Lock(); defer d.Unlock(); return d.SourceURL },
		func(next string) { d.Lock(); d.SourceURL = next; d.Unlock() },
		d.RequestHeaders,
		d.Resumable,
		seg,
		partPath,
		deltas,
	)

	if err := w.Run(ctx); err != nil && !errors.IsCancelled(err) {
		logger.Warnf("segment %s of download %s ended: %v", seg.ID, d.ID, err)
	}
}

// startProgressTicker recomputes Download.Downloaded/ProgressPct/SpeedBps/
// ETASeconds every 500ms and publishes download:progress. The returned
// func stops the ticker; callers must call it exactly once.
func (s *Supervisor) startProgressTicker(ctx context.Context, d *common.Download) func() {
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(progressTickInterval)
		defer ticker.Stop()

		var lastDownloaded int64
		var lastTick = time.Now()

		for {
			select {
			case <-ticker.C:
				d.Lock()
				downloaded := sumDownloaded(d.Segments)
				d.Downloaded = downloaded
				if d.TotalSize > 0 {
					d.ProgressPct = float64(downloaded) / float64(d.TotalSize) * 100
				}
				elapsed := time.Since(lastTick).Seconds()
				if elapsed > 0 {
					d.SpeedBps = int64(float64(downloaded-lastDownloaded) / elapsed)
				}
				if d.SpeedBps > 0 && d.TotalSize > 0 {
					remaining := d.TotalSize - downloaded
					d.ETASeconds = remaining / d.SpeedBps
				}
				status := d.Status
				progressPct := d.ProgressPct
				speed := d.SpeedBps
				eta := d.ETASeconds
				d.Unlock()

				lastDownloaded = downloaded
				lastTick = time.Now()

				s.publish("download:progress", common.Progress{
					DownloadID:  d.ID,
					Downloaded:  downloaded,
					TotalSize:   d.TotalSize,
					ProgressPct: progressPct,
					SpeedBps:    speed,
					ETASeconds:  eta,
					Status:      status,
					Timestamp:   time.Now(),
				})
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }
}

func sumDownloaded(segs []*common.Segment) int64 {
	var total int64
	for _, s := range segs {
		total += atomic.LoadInt64(&s.Downloaded)
	}
	return total
}

// drainDeltas applies every SegmentDelta to its owning Segment, serialized
// through this goroutine. The worker itself also advances
// Segment.Downloaded atomically and sets Segment.State before sending each
// delta; drainDeltas stores the delta's values after receiving it.
func (s *Supervisor) drainDeltas(d *common.Download, deltas <-chan common.SegmentDelta) {
	segByID := make(map[uuid.UUID]*common.Segment, len(d.Segments))
	for _, seg := range d.Segments {
		segByID[seg.ID] = seg
	}

	for delta := range deltas {
		seg, ok := segByID[delta.SegmentID]
		if !ok {
			continue
		}
		d.Lock()
		atomic.StoreInt64(&seg.Downloaded, delta.Downloaded)
		seg.State = delta.State
		if delta.Err != nil && !errors.IsCancelled(delta.Err) {
			d.LastError = delta.Err.Error()
		}
		d.Unlock()
	}
}

// finishAllSegmentsDone handles the edge case where every segment was
// already finished when Start was invoked (e.g. resuming a download whose
// last worker crash-recovered with all bytes already on disk).
func (s *Supervisor) finishAllSegmentsDone(d *common.Download) error {
	return s.concludeRun(d)
}

// concludeRun decides the terminal status once every worker has returned
// and persists it, per the downloading -> {assembling, failed} edges.
func (s *Supervisor) concludeRun(d *common.Download) error {
	d.Lock()
	allFinished := true
	var anyFailed bool
	for _, seg := range d.Segments {
		if seg.State != common.SegmentFinished {
			allFinished = false
		}
		if seg.State == common.SegmentFailed {
			anyFailed = true
		}
	}
	d.Downloaded = sumDownloaded(d.Segments)
	d.Unlock()

	if allFinished {
		return s.assemble(d)
	}

	if anyFailed {
		d.Lock()
		d.Status = common.StatusFailed
		d.Unlock()
		s.persist(d)
		s.publish("download:failed", d.ID)
		return errors.New("download failed: " + d.LastError)
	}

	// No segment failed and not all finished but we were not cancelled:
	// treat conservatively as failed so the caller always sees a terminal
	// state (defensive; should not occur given runSegment's contract).
	d.Lock()
	d.Status = common.StatusFailed
	d.Unlock()
	s.persist(d)
	s.publish("download:failed", d.ID)
	return errors.New("download failed: incomplete segments")
}

func (s *Supervisor) assemble(d *common.Download) error {
	d.Lock()
	d.Status = common.StatusAssembling
	d.Unlock()
	s.persist(d)
	s.publish("download:assembling", d.ID)

	targetPath := d.FinalPath()
	partDir := s.partDir(d.ID)

	var err error
	if len(d.Segments) == 1 && d.Segments[0].Length == common.UnknownSize {
		// Single-segment non-resumable download: the part-file already *is*
		// the final content, per design note "single-segment non-resumable
		// writes" — move it into place instead of paying for a copy.
		err = s.deps.FS.MoveFile(filepath.Join(partDir, d.Segments[0].PartFileName()), targetPath)
		if err == nil {
			_ = s.deps.FS.RemoveDir(partDir)
		}
	} else {
		err = assembleSegments(d, partDir, targetPath)
		if err == nil {
			_ = s.deps.FS.RemoveDir(partDir)
		}
	}

	d.Lock()
	if err != nil {
		d.Status = common.StatusFailed
		d.LastError = err.Error()
	} else {
		d.Status = common.StatusCompleted
		d.DateCompleted = time.Now()
		d.Downloaded = sumDownloaded(d.Segments)
		d.ProgressPct = 100
		d.SpeedBps = 0
		d.ETASeconds = 0
	}
	d.Unlock()
	s.persist(d)

	if err != nil {
		s.publish("download:failed", d.ID)
		return err
	}
	s.publish("download:completed", d.ID)
	return nil
}

// Pause signals cancellation to every worker of a downloading transfer and
// blocks until they have all returned, per §4.5's pause contract. Part
// files are left in place.
func (s *Supervisor) Pause(id uuid.UUID) error {
	d, ok := s.Get(id)
	if !ok {
		return errors.New("unknown download id")
	}

	run, err := s.stopRun(id)
	if err != nil {
		return err
	}
	if run == nil {
		// Nothing in flight; already paused/stopped/terminal.
		return nil
	}

	<-run.done

	d.Lock()
	if d.Status == common.StatusDownloading || d.Status == common.StatusAssembling {
		d.Status = common.StatusPaused
		d.SpeedBps = 0
	}
	resetRunningSegments(d)
	d.Unlock()
	s.persist(d)
	s.publish("download:paused", d.ID)
	return nil
}

// Cancel behaves like Pause but also deletes the download's scratch
// directory and marks it stopped.
func (s *Supervisor) Cancel(id uuid.UUID) error {
	d, ok := s.Get(id)
	if !ok {
		return errors.New("unknown download id")
	}

	run, err := s.stopRun(id)
	if err != nil {
		return err
	}
	if run != nil {
		<-run.done
	}

	_ = s.deps.FS.RemoveDir(s.partDir(id))

	d.Lock()
	d.Status = common.StatusStopped
	d.SpeedBps = 0
	d.Unlock()
	s.persist(d)
	s.publish("download:cancelled", d.ID)
	return nil
}

// stopRun requests teardown of an in-flight run, if any, returning the run
// so the caller can wait on its done channel. A second concurrent
// Pause/Cancel call while teardown is already in flight fails with
// ErrBusy rather than blocking.
func (s *Supervisor) stopRun(id uuid.UUID) (*activeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	if run.stopping.Swap(true) {
		return nil, errors.ErrBusy
	}
	if run.cancel != nil {
		run.cancel()
	}
	return run, nil
}

func resetRunningSegments(d *common.Download) {
	for _, seg := range d.Segments {
		if seg.State != common.SegmentFinished {
			seg.State = common.SegmentNotStarted
		}
	}
}

// Retry resets every non-finished segment to not_started with its
// downloaded counter zeroed, then restarts the transfer — a full restart
// of whatever did not complete, per the failed -> downloading edge.
func (s *Supervisor) Retry(id uuid.UUID) error {
	d, ok := s.Get(id)
	if !ok {
		return errors.New("unknown download id")
	}

	d.Lock()
	if d.Status != common.StatusFailed {
		d.Unlock()
		return errors.New("retry only valid for a failed download")
	}
	for _, seg := range d.Segments {
		if seg.State != common.SegmentFinished {
			seg.State = common.SegmentNotStarted
			atomic.StoreInt64(&seg.Downloaded, 0)
			seg.RetryCount++
		}
	}
	d.LastError = ""
	d.Unlock()
	s.persist(d)

	return s.Start(context.Background(), id)
}

// Remove tears down any in-flight run, deletes the scratch directory and
// final artifact scratch state, and drops the Download from both the
// in-memory registry and the Store.
func (s *Supervisor) Remove(id uuid.UUID) error {
	if run, err := s.stopRun(id); err != nil {
		return err
	} else if run != nil {
		<-run.done
	}

	_ = s.deps.FS.RemoveDir(s.partDir(id))

	s.mu.Lock()
	delete(s.downloads, id)
	s.mu.Unlock()

	if err := s.deps.Store.DeleteDownload(id); err != nil {
		logger.Warnf("failed to delete download %s from store: %v", id, err)
	}
	s.publish("download:removed", id)
	return nil
}

func assembleSegments(d *common.Download, partDir, targetPath string) error {
	return segment.Assemble(d, partDir, targetPath)
}
