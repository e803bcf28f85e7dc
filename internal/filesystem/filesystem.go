// Package filesystem abstracts the handful of file operations the segment
// worker and assembler need, so they can be exercised against a fake in
// tests without touching the real disk.
package filesystem

import (
	"io"
	"os"
	"path/filepath"
)

// OSFileSystem performs the part-file and scratch-directory operations a
// Segment Worker, Assembler, and Supervisor need, backed by the real disk.
type OSFileSystem struct{}

// NewOSFileSystem creates a new OS filesystem
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{}
}

// OpenForAppendAt opens path for append, creating it if absent. A file
// longer than wantLen is truncated to wantLen first: crash-restart state may
// drift ahead of a segment's persisted downloaded count, and truncating to
// the persisted value is the defensive recovery the worker relies on before
// writing a single byte. A file shorter than wantLen is not extended; the
// returned handle is positioned at its current end.
func (fs *OSFileSystem) OpenForAppendAt(path string, wantLen int64) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	pos := info.Size()
	if pos > wantLen {
		if err := f.Truncate(wantLen); err != nil {
			f.Close()
			return nil, err
		}
		pos = wantLen
	}

	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	return f, nil
}

// MoveFile renames src to dst, creating dst's parent directory first. Used
// by the Assembler's single-segment shortcut, where the part-file already
// holds the final content and a rename avoids a redundant copy.
func (fs *OSFileSystem) MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

// RemoveDir removes a scratch directory and everything under it. Missing
// directories are not an error.
func (fs *OSFileSystem) RemoveDir(path string) error {
	return os.RemoveAll(path)
}
