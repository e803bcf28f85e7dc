package engine

import "github.com/nshaw/qdm/internal/errors"

var (
	// ErrDownloadNotFound is returned when a download id is unknown.
	ErrDownloadNotFound = errors.New("download not found")

	// ErrInvalidURL is returned for an empty source URL.
	ErrInvalidURL = errors.New("invalid URL")

	// ErrEngineNotRunning is returned when an operation requires Init to
	// have been called first.
	ErrEngineNotRunning = errors.New("engine is not running")
)
