// Package errors provides the download error taxonomy shared by the probe,
// segment workers, assembler, and ingestion endpoint.
package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	Is     = errors.Is
	As     = errors.As
	New    = errors.New
	Unwrap = errors.Unwrap
)

type ErrorCategory string

const (
	CategoryNetwork    ErrorCategory = "NETWORK"
	CategoryProtocol   ErrorCategory = "PROTOCOL"
	CategoryIO         ErrorCategory = "IO"
	CategoryResource   ErrorCategory = "RESOURCE"
	CategorySecurity   ErrorCategory = "SECURITY"
	CategoryContext    ErrorCategory = "CONTEXT"
	CategoryValidation ErrorCategory = "VALIDATION"
	CategoryUnknown    ErrorCategory = "UNKNOWN"
)

// Kind names the error-kind vocabulary used in Download.LastError and the
// Event Bus, distinct from the broader ErrorCategory used for retry policy.
type Kind string

const (
	KindProbeFailed       Kind = "probe_failed"
	KindSegmentHTTPError  Kind = "segment_http_error"
	KindSegmentIOError    Kind = "segment_io_error"
	KindSegmentWriteError Kind = "segment_write_error"
	KindAssembleError     Kind = "assemble_error"
	KindCancelled         Kind = "cancelled"
	KindBadRequest        Kind = "bad_request"
)

type Protocol string

const (
	ProtocolHTTP    Protocol = "HTTP"
	ProtocolGeneric Protocol = "GENERIC"
)

// DownloadError is the error type carried through the segment/supervisor/
// ingestion layers.
type DownloadError struct {
	Err        error
	Kind       Kind
	Category   ErrorCategory
	Protocol   Protocol
	Retryable  bool
	Timestamp  time.Time
	Resource   string
	StatusCode int
	Details    map[string]interface{}
}

func (e *DownloadError) Error() string {
	if e.Protocol == ProtocolGeneric {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Category, e.Resource, e.Err)
	}
	return fmt.Sprintf("[%s:%s:%s] %s (status: %d): %v", e.Kind, e.Protocol, e.Category, e.Resource, e.StatusCode, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

var (
	ErrUnsupportedProtocol = New("unsupported protocol")
	ErrInvalidURL          = New("invalid URL")
	ErrTimeout             = New("operation timed out")
	ErrConnectionReset     = New("connection reset")
	ErrRangesNotSupported  = New("server does not support byte ranges")
	ErrShortRead           = New("short read: fewer bytes than expected")
	ErrBusy                = New("download busy: teardown in flight")
)

// Cancelled is the sentinel a Segment Worker returns when it observes
// cooperative cancellation; the Supervisor never surfaces it as a failure.
var Cancelled = &DownloadError{Kind: KindCancelled, Category: CategoryContext, Retryable: false}

func NewProbeError(err error, resource string) *DownloadError {
	return &DownloadError{Err: err, Kind: KindProbeFailed, Category: CategoryNetwork, Protocol: ProtocolGeneric, Retryable: false, Timestamp: time.Now(), Resource: resource}
}

func NewSegmentHTTPError(statusCode int, resource string) *DownloadError {
	retryable := statusCode >= 500 && statusCode != 501 || statusCode == 429
	return &DownloadError{
		Err:        fmt.Errorf("http status %d", statusCode),
		Kind:       KindSegmentHTTPError,
		Category:   CategoryProtocol,
		Protocol:   ProtocolHTTP,
		Retryable:  retryable,
		Timestamp:  time.Now(),
		Resource:   resource,
		StatusCode: statusCode,
	}
}

func NewSegmentIOError(err error, resource string) *DownloadError {
	return &DownloadError{Err: err, Kind: KindSegmentIOError, Category: CategoryNetwork, Protocol: ProtocolGeneric, Retryable: true, Timestamp: time.Now(), Resource: resource}
}

func NewSegmentWriteError(err error, resource string) *DownloadError {
	return &DownloadError{Err: err, Kind: KindSegmentWriteError, Category: CategoryIO, Protocol: ProtocolGeneric, Retryable: false, Timestamp: time.Now(), Resource: resource}
}

func NewAssembleError(err error, resource string) *DownloadError {
	return &DownloadError{Err: err, Kind: KindAssembleError, Category: CategoryIO, Protocol: ProtocolGeneric, Retryable: false, Timestamp: time.Now(), Resource: resource}
}

func NewBadRequestError(err error) *DownloadError {
	return &DownloadError{Err: err, Kind: KindBadRequest, Category: CategoryValidation, Protocol: ProtocolGeneric, Retryable: false, Timestamp: time.Now()}
}

func IsRetryable(err error) bool {
	var de *DownloadError
	return As(err, &de) && de.Retryable
}

func IsCancelled(err error) bool {
	var de *DownloadError
	return As(err, &de) && de.Kind == KindCancelled
}

func GetStatusCode(err error) (int, bool) {
	var de *DownloadError
	if As(err, &de) {
		return de.StatusCode, true
	}
	return 0, false
}

func WithDetails(err error, details map[string]interface{}) error {
	var de *DownloadError
	if !As(err, &de) {
		return err
	}
	if de.Details == nil {
		de.Details = make(map[string]interface{})
	}
	for k, v := range details {
		de.Details[k] = v
	}
	return de
}
