package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/nshaw/qdm/internal/logger"
)

// PauseDownload signals every worker of an in-flight transfer to stop and
// waits for them, per spec.md §4.5's pause contract.
func (e *Engine) PauseDownload(id uuid.UUID) error {
	if _, ok := e.sup.Get(id); !ok {
		return ErrDownloadNotFound
	}
	return e.sup.Pause(id)
}

// ResumeDownload restarts a paused download. Resume and Retry bypass the
// Queue Manager's FIFO admission: spec.md §4.6 only gates automatic
// admission of downloads whose status is queued. A paused or failed
// download keeps its queue membership (NotifyCompletion evicts only
// completed or removed downloads), but the admission sweep never starts it
// again because its status is not queued, so Resume calls the Supervisor
// directly instead.
func (e *Engine) ResumeDownload(id uuid.UUID) error {
	if _, ok := e.sup.Get(id); !ok {
		return ErrDownloadNotFound
	}
	e.runDirect(id, e.sup.Start)
	return nil
}

// RetryDownload resets every non-finished segment and restarts the
// transfer, per the failed -> downloading edge.
func (e *Engine) RetryDownload(id uuid.UUID) error {
	if _, ok := e.sup.Get(id); !ok {
		return ErrDownloadNotFound
	}
	e.runDirect(id, func(context.Context, uuid.UUID) error { return e.sup.Retry(id) })
	return nil
}

// runDirect starts a transfer outside the Queue Manager's admission loop,
// still notifying it when the transfer returns, so a completed download is
// evicted from its queue's membership exactly as it would be had the Queue
// Manager started it.
func (e *Engine) runDirect(id uuid.UUID, start func(context.Context, uuid.UUID) error) {
	go func() {
		if err := start(e.ctx, id); err != nil {
			logger.Warnf("download %s returned: %v", id, err)
		}
		e.queue.NotifyCompletion(id)
	}()
}

// CancelDownload stops an in-flight transfer (if any) and deletes its
// scratch directory, marking it stopped.
func (e *Engine) CancelDownload(id uuid.UUID) error {
	if _, ok := e.sup.Get(id); !ok {
		return ErrDownloadNotFound
	}
	if err := e.sup.Cancel(id); err != nil {
		return err
	}
	e.queue.NotifyCompletion(id)
	return nil
}
