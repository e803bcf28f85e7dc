// Package queue is the Scheduler/Queue Manager: multiple named Queues,
// each with its own concurrency cap and optional weekly admission window.
// Grounded on the teacher's engine.QueueProcessor (FIFO admission loop,
// completion-notify channel, fill-available-slots), generalized from one
// implicit queue to many, with time-window gating added.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/errors"
	"github.com/nshaw/qdm/internal/eventbus"
	"github.com/nshaw/qdm/internal/logger"
)

const sweepInterval = 60 * time.Second

// StartFunc starts a download's transfer; it returns once the transfer
// has finished, failed, or been cancelled, never while it's still running.
type StartFunc func(ctx context.Context, downloadID uuid.UUID) error

// StatusFunc reports a download's current lifecycle status, so the Manager
// can restrict admission to downloads actually in the queued state, per
// spec.md §4.6.
type StatusFunc func(downloadID uuid.UUID) (common.Status, bool)

// Manager owns every Queue and decides, on a periodic sweep and on every
// completion notification, which queued download ids are allowed to
// start next.
type Manager struct {
	mu       sync.Mutex
	queues   map[string]*common.Queue
	active   map[string]map[uuid.UUID]struct{}
	memberOf map[uuid.UUID]string // enforces unique queue membership (I4)

	startFn  StartFunc
	statusFn StatusFunc
	bus      *eventbus.Bus

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Manager with no queues yet. statusFn gates admission to
// downloads currently in common.StatusQueued; pass nil to admit purely by
// queue membership (e.g. in tests with a fake startFn).
func New(startFn StartFunc, statusFn StatusFunc, bus *eventbus.Bus) *Manager {
	return &Manager{
		queues:   make(map[string]*common.Queue),
		active:   make(map[string]map[uuid.UUID]struct{}),
		memberOf: make(map[uuid.UUID]string),
		startFn:  startFn,
		statusFn: statusFn,
		bus:      bus,
		done:     make(chan struct{}),
	}
}

// Start begins the periodic admission sweep.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	go m.sweepLoop()
}

// Stop halts the admission sweep and cancels the context that every
// admitted download's StartFunc was called with.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.ctx.Done():
			return
		}
	}
}

// CreateQueue registers a new queue. Returns an error if the id is taken.
func (m *Manager) CreateQueue(q *common.Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.queues[q.ID]; exists {
		return errors.NewBadRequestError(errors.New("queue id already exists"))
	}

	m.queues[q.ID] = q
	m.active[q.ID] = make(map[uuid.UUID]struct{})
	for _, did := range q.DownloadIDs {
		m.memberOf[did] = q.ID
	}
	if m.bus != nil {
		m.bus.Publish("queue:created", q)
	}
	return nil
}

// DeleteQueue removes a queue; downloads it held are released from
// membership tracking but not cancelled.
func (m *Manager) DeleteQueue(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[id]
	if !ok {
		return errors.NewBadRequestError(errors.New("unknown queue id"))
	}

	for _, did := range q.DownloadIDs {
		delete(m.memberOf, did)
	}
	delete(m.queues, id)
	delete(m.active, id)

	if m.bus != nil {
		m.bus.Publish("queue:deleted", id)
	}
	return nil
}

// ListQueues returns every registered queue, in no particular order.
func (m *Manager) ListQueues() []*common.Queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*common.Queue, 0, len(m.queues))
	for _, q := range m.queues {
		out = append(out, q)
	}
	return out
}

// UpdateQueue replaces a queue's settings by id.
func (m *Manager) UpdateQueue(q *common.Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[q.ID]; !ok {
		return errors.NewBadRequestError(errors.New("unknown queue id"))
	}
	m.queues[q.ID] = q
	if m.bus != nil {
		m.bus.Publish("queue:updated", q)
	}
	return nil
}

// Enqueue admits downloadID to queue queueID. A download may belong to at
// most one queue at a time (I4); re-enqueuing moves it, removing it from
// its prior queue first.
func (m *Manager) Enqueue(queueID string, downloadID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueID]
	if !ok {
		return errors.NewBadRequestError(errors.New("unknown queue id"))
	}

	if prior, exists := m.memberOf[downloadID]; exists {
		m.removeFromQueueLocked(prior, downloadID)
	}

	q.DownloadIDs = append(q.DownloadIDs, downloadID)
	m.memberOf[downloadID] = queueID

	m.admitLocked(queueID)
	return nil
}

// NotifyCompletion informs the Manager that downloadID's transfer stopped
// running, for whatever reason, freeing its queue's concurrency slot for
// the next item. Per spec.md §4.6, membership itself is only evicted when
// the download reached completed or no longer exists (removed); a paused
// or failed download stays in its queue's download_ids so it can be
// admitted again later.
func (m *Manager) NotifyCompletion(downloadID uuid.UUID) {
	m.mu.Lock()
	qid, ok := m.memberOf[downloadID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.active[qid], downloadID)

	if m.statusFn == nil {
		m.removeFromQueueLocked(qid, downloadID)
	} else if status, ok := m.statusFn(downloadID); !ok || status == common.StatusCompleted {
		m.removeFromQueueLocked(qid, downloadID)
	}
	m.mu.Unlock()

	m.admit(qid)
}

func (m *Manager) removeFromQueueLocked(queueID string, downloadID uuid.UUID) {
	delete(m.memberOf, downloadID)
	q, ok := m.queues[queueID]
	if !ok {
		return
	}
	out := q.DownloadIDs[:0]
	for _, id := range q.DownloadIDs {
		if id != downloadID {
			out = append(out, id)
		}
	}
	q.DownloadIDs = out
}

// sweep re-checks every queue's admission window and fills any slots the
// window newly opened (e.g. entering a scheduled time-of-day range).
func (m *Manager) sweep() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.queues))
	for id := range m.queues {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.admit(id)
	}
}

func (m *Manager) admit(queueID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admitLocked(queueID)
}

func (m *Manager) admitLocked(queueID string) {
	q, ok := m.queues[queueID]
	if !ok || !q.Enabled {
		return
	}
	if !withinWindow(q.Schedule, time.Now()) {
		return
	}

	active := m.active[queueID]
	pending := make([]uuid.UUID, 0, len(q.DownloadIDs))
	for _, did := range q.DownloadIDs {
		if _, running := active[did]; running {
			continue
		}
		if m.statusFn != nil {
			if status, ok := m.statusFn(did); !ok || status != common.StatusQueued {
				continue
			}
		}
		pending = append(pending, did)
	}

	for _, did := range pending {
		if len(active) >= q.MaxConcurrent {
			return
		}
		active[did] = struct{}{}
		go m.run(queueID, did)
	}
}

func (m *Manager) run(queueID string, downloadID uuid.UUID) {
	if m.bus != nil {
		m.bus.Publish("download:started", downloadID)
	}
	if err := m.startFn(m.ctx, downloadID); err != nil {
		logger.Warnf("queue %s: download %s returned: %v", queueID, downloadID, err)
	}
	m.NotifyCompletion(downloadID)
}
