package common

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// UnknownSize marks a total size or segment length that could not be
// determined ahead of transfer.
const UnknownSize int64 = -1

// Download is one remote artifact being fetched.
type Download struct {
	ID             uuid.UUID         `json:"id"`
	SourceURL      string            `json:"source_url"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	FileName       string            `json:"file_name"`
	SaveDir        string            `json:"save_dir"`
	TotalSize      int64             `json:"total_size"`
	Resumable      bool              `json:"resumable"`
	Status         Status            `json:"status"`
	MaxSegments    int               `json:"max_segments"`
	Downloaded     int64             `json:"downloaded"`
	ProgressPct    float64           `json:"progress_pct"`
	SpeedBps       int64             `json:"speed_bps"`
	ETASeconds     int64             `json:"eta_s"`
	DateAdded      time.Time         `json:"date_added"`
	DateCompleted  time.Time         `json:"date_completed,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	Category       Category          `json:"category,omitempty"`

	Segments []*Segment `json:"segments"`

	mu sync.Mutex
}

// Lock/Unlock let a Supervisor serialize mutation of a Download record; per
// §5 the Download is owned by its Supervisor task and no worker writes it
// directly.
func (d *Download) Lock()   { d.mu.Lock() }
func (d *Download) Unlock() { d.mu.Unlock() }

// FinalPath is the destination path of the assembled artifact.
func (d *Download) FinalPath() string {
	return joinPath(d.SaveDir, d.FileName)
}

// Segment is one contiguous byte-range of one Download.
type Segment struct {
	ID         uuid.UUID    `json:"id"`
	Offset     int64        `json:"offset"`
	Length     int64        `json:"length"`
	Downloaded int64        `json:"downloaded"`
	State      SegmentState `json:"state"`
	RetryCount int          `json:"retry_count"`
	LastActive time.Time    `json:"last_active,omitempty"`
}

// PartFileName is the leaf name of the part-file backing this segment.
func (s *Segment) PartFileName() string {
	return s.ID.String() + ".part"
}

// EndOffset is the absolute (exclusive) end byte of this segment within the
// final file, valid only when Length != UnknownSize.
func (s *Segment) EndOffset() int64 {
	if s.Length == UnknownSize {
		return UnknownSize
	}
	return s.Offset + s.Length
}

// Schedule optionally gates a Queue's admission to a weekly time window.
type Schedule struct {
	StartHHMM string `json:"start_hhmm"`
	EndHHMM   string `json:"end_hhmm"`
	Days      []int  `json:"days"` // 0=Sunday .. 6=Saturday
}

// Queue is an ordered set of Download ids sharing an admission policy.
type Queue struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Enabled       bool        `json:"enabled"`
	MaxConcurrent int         `json:"max_concurrent"`
	DownloadIDs   []uuid.UUID `json:"download_ids"`
	Schedule      *Schedule   `json:"schedule,omitempty"`
}

// MediaItem is a URL reported by a browser agent as a candidate download.
type MediaItem struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Description   string            `json:"description,omitempty"`
	SourceTabURL  string            `json:"source_tab_url,omitempty"`
	URL           string            `json:"url"`
	Kind          MediaKind         `json:"kind"`
	ContentType   string            `json:"content_type,omitempty"`
	Size          int64             `json:"size,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Cookies       string            `json:"cookies,omitempty"`
	DateAdded     time.Time         `json:"date_added"`
}

// GlobalStats aggregates engine-wide counters for the UI shell / CLI.
type GlobalStats struct {
	ActiveDownloads    int
	QueuedDownloads    int
	CompletedDownloads int
	FailedDownloads    int
	PausedDownloads    int
	TotalDownloaded    int64
	CurrentSpeed       int64
	MaxConcurrent      int
	CurrentConcurrent  int
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	if dir[len(dir)-1] == '/' {
		return dir + name
	}
	return dir + "/" + name
}
