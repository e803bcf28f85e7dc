package common

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Progress is a progress-tick event for one Download, published on the
// event bus as download:progress.
type Progress struct {
	DownloadID  uuid.UUID
	Downloaded  int64
	TotalSize   int64
	ProgressPct float64
	SpeedBps    int64
	ETASeconds  int64
	Status      Status
	Timestamp   time.Time
}

// SegmentDelta is sent by a Segment Worker to its Supervisor; the
// Supervisor is the sole writer of the owning Download's aggregate fields
// (see DESIGN.md, "shared-state contention").
type SegmentDelta struct {
	SegmentID  uuid.UUID
	Downloaded int64 // new absolute bytes written to this segment
	State      SegmentState
	Err        error
}

var categoryExtensions = map[string]Category{
	".mp4": CategoryVideo, ".mkv": CategoryVideo, ".avi": CategoryVideo, ".mov": CategoryVideo, ".webm": CategoryVideo,
	".zip": CategoryArchive, ".tar": CategoryArchive, ".gz": CategoryArchive, ".rar": CategoryArchive, ".7z": CategoryArchive,
	".pdf": CategoryDocument, ".doc": CategoryDocument, ".docx": CategoryDocument, ".txt": CategoryDocument, ".epub": CategoryDocument,
	".exe": CategoryProgram, ".msi": CategoryProgram, ".dmg": CategoryProgram, ".deb": CategoryProgram, ".appimage": CategoryProgram,
}

// CategoryForFileName derives the presentational Category tag from a file
// name's extension. Never used in scheduling or invariant checks.
func CategoryForFileName(name string) Category {
	for i := len(name) - 1; i >= 0 && name[i] != '/'; i-- {
		if name[i] == '.' {
			if cat, ok := categoryExtensions[strings.ToLower(name[i:])]; ok {
				return cat
			}
			break
		}
	}
	return CategoryOther
}
