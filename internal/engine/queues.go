package engine

import (
	"github.com/google/uuid"

	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/errors"
)

// ErrLastQueue is returned by DeleteQueue for the sole remaining queue,
// per spec.md §4.6's "always at least one queue" invariant.
var ErrLastQueue = errors.New("cannot delete the only remaining queue")

// CreateQueue registers a new queue and persists it.
func (e *Engine) CreateQueue(q *common.Queue) error {
	if err := e.queue.CreateQueue(q); err != nil {
		return err
	}
	return e.store.SaveQueue(q)
}

// UpdateQueue replaces a queue's settings and persists the change.
func (e *Engine) UpdateQueue(q *common.Queue) error {
	if err := e.queue.UpdateQueue(q); err != nil {
		return err
	}
	return e.store.SaveQueue(q)
}

// DeleteQueue removes a queue, refusing to delete the last one.
func (e *Engine) DeleteQueue(id string) error {
	if len(e.queue.ListQueues()) <= 1 {
		return ErrLastQueue
	}
	if err := e.queue.DeleteQueue(id); err != nil {
		return err
	}
	return e.store.DeleteQueue(id)
}

// ListQueues returns every known queue.
func (e *Engine) ListQueues() []*common.Queue {
	return e.queue.ListQueues()
}

// EnqueueDownload moves downloadID into queueID, per spec.md §4.6's
// atomic single-membership move (I4).
func (e *Engine) EnqueueDownload(queueID string, downloadID uuid.UUID) error {
	return e.queue.Enqueue(queueID, downloadID)
}
