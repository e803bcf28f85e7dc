package errors_test

import (
	stdErrors "errors"
	"testing"
	"time"

	"github.com/nshaw/qdm/internal/errors"
)

func TestDownloadErrorError(t *testing.T) {
	de := &errors.DownloadError{
		Err:       stdErrors.New("underlying error"),
		Kind:      errors.KindSegmentWriteError,
		Category:  errors.CategoryIO,
		Protocol:  errors.ProtocolGeneric,
		Retryable: false,
		Timestamp: time.Now(),
		Resource:  "file.txt",
	}
	expected := "[segment_write_error:IO] file.txt: underlying error"
	if de.Error() != expected {
		t.Errorf("expected %q, got %q", expected, de.Error())
	}

	de2 := errors.NewSegmentHTTPError(500, "http://example.com")
	expected2 := "[segment_http_error:HTTP:PROTOCOL] http://example.com (status: 500): http status 500"
	if de2.Error() != expected2 {
		t.Errorf("expected %q, got %q", expected2, de2.Error())
	}
}

func TestDownloadErrorUnwrap(t *testing.T) {
	baseErr := stdErrors.New("base error")
	de := errors.NewSegmentIOError(baseErr, "resource")
	if !stdErrors.Is(baseErr, stdErrors.Unwrap(de)) {
		t.Errorf("expected underlying error %v, got %v", baseErr, stdErrors.Unwrap(de))
	}
}

func TestNewSegmentIOError(t *testing.T) {
	baseErr := stdErrors.New("connection error")
	de := errors.NewSegmentIOError(baseErr, "example.com")
	if !errors.Is(de.Err, baseErr) || de.Category != errors.CategoryNetwork || !de.Retryable || de.Resource != "example.com" {
		t.Error("NewSegmentIOError did not set fields correctly")
	}
	if de.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
}

func TestNewSegmentWriteError(t *testing.T) {
	de := errors.NewSegmentWriteError(stdErrors.New("disk full"), "file.txt")
	if de.Category != errors.CategoryIO || de.Retryable {
		t.Error("NewSegmentWriteError did not set fields correctly")
	}
}

func TestNewSegmentHTTPError(t *testing.T) {
	de := errors.NewSegmentHTTPError(500, "http://example.com")
	if de.Protocol != errors.ProtocolHTTP || de.Category != errors.CategoryProtocol {
		t.Error("expected HTTP/PROTOCOL classification")
	}
	if !de.Retryable {
		t.Error("expected retryable true for status 500")
	}

	de2 := errors.NewSegmentHTTPError(429, "http://example.com")
	if !de2.Retryable {
		t.Error("expected retryable true for status 429")
	}

	de3 := errors.NewSegmentHTTPError(404, "http://example.com")
	if de3.Retryable {
		t.Error("expected retryable false for status 404")
	}
}

func TestIsRetryable(t *testing.T) {
	de := errors.NewSegmentIOError(stdErrors.New("error"), "example.com")
	if !errors.IsRetryable(de) {
		t.Error("expected retryable error to be retried")
	}

	de2 := errors.NewSegmentWriteError(stdErrors.New("io error"), "file.txt")
	if errors.IsRetryable(de2) {
		t.Error("expected non-retryable error to not be retried")
	}

	if errors.IsRetryable(nil) {
		t.Error("expected nil error to be non-retryable")
	}
}

func TestIsCancelled(t *testing.T) {
	if !errors.IsCancelled(errors.Cancelled) {
		t.Error("expected the sentinel to be identified as cancelled")
	}
	if errors.IsCancelled(stdErrors.New("boom")) {
		t.Error("expected a plain error to not be identified as cancelled")
	}
}

func TestGetStatusCode(t *testing.T) {
	de := errors.NewSegmentHTTPError(500, "http://example.com")
	code, ok := errors.GetStatusCode(de)
	if !ok || code != 500 {
		t.Errorf("expected status code 500, got %d (ok=%v)", code, ok)
	}

	if _, ok := errors.GetStatusCode(stdErrors.New("other error")); ok {
		t.Error("expected no status code for a non-DownloadError")
	}
}

func TestWithDetails(t *testing.T) {
	de := errors.NewSegmentIOError(stdErrors.New("net error"), "example.com")
	details := map[string]interface{}{"key1": "value1", "key2": 2}
	errWithDetails := errors.WithDetails(de, details)
	if !stdErrors.Is(errWithDetails, de) {
		t.Error("WithDetails should return the original error instance")
	}
	for k, v := range details {
		if de.Details[k] != v {
			t.Errorf("expected de.Details[%q] = %v, got %v", k, v, de.Details[k])
		}
	}

	otherErr := stdErrors.New("not a DownloadError")
	if errors.WithDetails(otherErr, details) != otherErr {
		t.Error("WithDetails should return the original error when not a DownloadError")
	}
}
