package segment

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/errors"
	"github.com/nshaw/qdm/internal/filesystem"
	"github.com/nshaw/qdm/internal/logger"
	"github.com/nshaw/qdm/internal/ratelimit"
	"github.com/nshaw/qdm/internal/transport/httpx"
)

const (
	connectHeadersTimeout = 30 * time.Second
	idleReadTimeout       = 30 * time.Second
	readChunkSize         = 32 * 1024
	maxWorkerRedirects    = 5
)

// Worker fetches one Segment's byte range and streams it to its part-file,
// reporting deltas to the owning Supervisor. It owns its Segment
// exclusively — see the shared-state-contention design note.
type Worker struct {
	client      *httpx.Client
	fs          *filesystem.OSFileSystem
	limiter     *ratelimit.Limiter
	sourceURL   func() string // reads the Download's current source_url
	rewriteURL  func(string)  // rewrites it when a redirect is followed
	headers     map[string]string
	resumable   bool
	segment     *common.Segment
	partPath    string
	deltas      chan<- common.SegmentDelta
}

// NewWorker constructs a Worker for one segment. sourceURL/rewriteURL let
// the worker read and, on redirect, rewrite the owning Download's
// source_url — visible to sibling workers on their next retry, per §4.3.
func NewWorker(client *httpx.Client, fs *filesystem.OSFileSystem, limiter *ratelimit.Limiter, sourceURL func() string, rewriteURL func(string), headers map[string]string, resumable bool, seg *common.Segment, partPath string, deltas chan<- common.SegmentDelta) *Worker {
	return &Worker{
		client:     client,
		fs:         fs,
		limiter:    limiter,
		sourceURL:  sourceURL,
		rewriteURL: rewriteURL,
		headers:    httpx.SanitizeOutboundHeaders(headers),
		resumable:  resumable,
		segment:    seg,
		partPath:   partPath,
		deltas:     deltas,
	}
}

// Run executes the worker's fetch protocol to completion, cancellation, or
// failure. Re-invoking for a finished segment is a no-op; re-invoking for a
// failed/running segment resumes from offset+downloaded.
func (w *Worker) Run(ctx context.Context) error {
	if w.segment.State == common.SegmentFinished {
		return nil
	}

	err := w.attempt(ctx, w.sourceURL(), 0)
	terminal := w.segment.State == common.SegmentFinished || w.segment.State == common.SegmentFailed
	if err != nil && !errors.IsCancelled(err) && !terminal {
		// attempt's early-return paths (redirect exhaustion, connect
		// failure, HTTP status >= 400) leave the segment's state/delta
		// unset; every non-cancelled failure must still surface as a
		// failed segment so the Supervisor's aggregation sees it.
		w.setState(common.SegmentFailed)
		w.sendDelta(atomic.LoadInt64(&w.segment.Downloaded), common.SegmentFailed, err)
	}
	return err
}

func (w *Worker) attempt(ctx context.Context, rawURL string, redirectCount int) error {
	f, err := w.fs.OpenForAppendAt(w.partPath, atomic.LoadInt64(&w.segment.Downloaded))
	if err != nil {
		return errors.NewSegmentWriteError(err, w.partPath)
	}
	defer f.Close()

	headers := w.buildRangeHeaders()

	// reqCtx stays live while the body streams; connectHeadersTimeout only
	// bounds the wait for the response headers.
	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()
	headerTimer := time.AfterFunc(connectHeadersTimeout, cancelReq)
	req, err := httpx.NewRequest(reqCtx, http.MethodGet, rawURL, headers)
	if err != nil {
		headerTimer.Stop()
		return errors.NewSegmentIOError(err, rawURL)
	}

	resp, err := w.client.Do(req)
	headerTimer.Stop()
	if err != nil {
		if ctx.Err() != nil {
			return errors.Cancelled
		}
		return errors.NewSegmentIOError(err, rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		if loc == "" || redirectCount >= maxWorkerRedirects {
			return errors.NewSegmentHTTPError(resp.StatusCode, rawURL)
		}
		next := resolveAgainst(rawURL, loc)
		w.headers = httpx.StripCredentialsOnAuthorityChange(w.headers, rawURL, next)
		w.rewriteURL(next)
		return w.attempt(ctx, next, redirectCount+1)
	}

	if resp.StatusCode >= 400 {
		return errors.NewSegmentHTTPError(resp.StatusCode, rawURL)
	}

	w.setState(common.SegmentRunning)
	return w.stream(ctx, f, resp.Body)
}

func (w *Worker) buildRangeHeaders() map[string]string {
	headers := make(map[string]string, len(w.headers)+1)
	for k, v := range w.headers {
		headers[k] = v
	}

	if w.resumable && w.segment.Length != common.UnknownSize {
		start := w.segment.Offset + atomic.LoadInt64(&w.segment.Downloaded)
		end := w.segment.Offset + w.segment.Length - 1
		headers["Range"] = "bytes=" + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10)
	}

	return headers
}

func (w *Worker) stream(ctx context.Context, f *os.File, body io.Reader) error {
	idle := newIdleWatchdog(idleReadTimeout)
	defer idle.stop()

	buf := make([]byte, readChunkSize)

	for {
		select {
		case <-ctx.Done():
			return errors.Cancelled
		default:
		}

		if w.limiter != nil {
			if err := w.limiter.WaitN(ctx, readChunkSize); err != nil {
				return errors.Cancelled
			}
		}

		n, err := body.Read(buf)
		if n > 0 {
			idle.reset()

			if _, werr := f.Write(buf[:n]); werr != nil {
				return errors.NewSegmentWriteError(werr, w.partPath)
			}

			newDownloaded := atomic.AddInt64(&w.segment.Downloaded, int64(n))
			w.sendDelta(newDownloaded, common.SegmentRunning, nil)
		}

		if idle.expired() {
			return errors.NewSegmentIOError(errors.ErrTimeout, "idle read timeout")
		}

		if err == io.EOF {
			return w.finish()
		}
		if err != nil {
			if ctx.Err() != nil {
				return errors.Cancelled
			}
			return errors.NewSegmentIOError(err, "read")
		}
	}
}

func (w *Worker) finish() error {
	downloaded := atomic.LoadInt64(&w.segment.Downloaded)
	complete := w.segment.Length == common.UnknownSize || downloaded == w.segment.Length
	if !complete {
		w.setState(common.SegmentFailed)
		err := errors.WithDetails(errors.NewSegmentIOError(errors.ErrShortRead, "short_read"), map[string]interface{}{
			"expected": w.segment.Length,
			"got":      downloaded,
		})
		w.sendDelta(downloaded, common.SegmentFailed, err)
		return err
	}

	w.setState(common.SegmentFinished)
	w.sendDelta(downloaded, common.SegmentFinished, nil)
	return nil
}

func (w *Worker) setState(s common.SegmentState) {
	w.segment.State = s
	w.segment.LastActive = time.Now()
}

func (w *Worker) sendDelta(downloaded int64, state common.SegmentState, err error) {
	select {
	case w.deltas <- common.SegmentDelta{SegmentID: w.segment.ID, Downloaded: downloaded, State: state, Err: err}:
	default:
		logger.Warnf("progress channel full, dropping delta for segment %s", w.segment.ID)
	}
}

func resolveAgainst(base, location string) string {
	b, err1 := url.Parse(base)
	if err1 != nil {
		return location
	}
	next, err2 := url.Parse(location)
	if err2 != nil {
		return location
	}
	return b.ResolveReference(next).String()
}

// idleWatchdog flags when no bytes have been read for the configured
// duration. The stream loop checks it after each Read returns, so it fails a
// segment whose Read came back after the 30s idle timeout had elapsed; it
// does not interrupt a Read that is still blocked.
type idleWatchdog struct {
	last    time.Time
	timeout time.Duration
}

func newIdleWatchdog(timeout time.Duration) *idleWatchdog {
	return &idleWatchdog{last: time.Now(), timeout: timeout}
}

func (i *idleWatchdog) reset() { i.last = time.Now() }
func (i *idleWatchdog) stop()  {}
func (i *idleWatchdog) expired() bool {
	return time.Since(i.last) > i.timeout
}
