// Package segment implements the Segmenter, the Segment Worker, and the
// Assembler — grounded on the teacher's internal/chunk manager (chunk
// sizing and merge) and internal/http worker (retry/backoff read loop),
// generalized onto the byte-range Segment model instead of a chunk.Manager
// tied to one protocol handler.
package segment

import (
	"github.com/google/uuid"
	"github.com/nshaw/qdm/internal/common"
)

// minSegmentSize matches the spec's 256 KiB partition granularity.
const minSegmentSize int64 = 256 * 1024

// Plan computes the initial partition of [0, totalSize) into N contiguous
// segments. When totalSize is unknown or the server is not resumable, it
// yields a single segment of unknown length.
func Plan(totalSize int64, resumable bool, maxSegments int) []*common.Segment {
	if totalSize == common.UnknownSize || !resumable {
		return []*common.Segment{
			{ID: uuid.New(), Offset: 0, Length: common.UnknownSize, State: common.SegmentNotStarted},
		}
	}

	n := maxSegments
	if byBudget := int((totalSize + minSegmentSize - 1) / minSegmentSize); byBudget < n {
		if byBudget < 1 {
			byBudget = 1
		}
		n = byBudget
	}
	if n < 1 {
		n = 1
	}

	segments := make([]*common.Segment, 0, n)
	base := totalSize / int64(n)
	var offset int64

	for i := 0; i < n; i++ {
		length := base
		if i == n-1 {
			length = totalSize - offset
		}
		segments = append(segments, &common.Segment{
			ID:     uuid.New(),
			Offset: offset,
			Length: length,
			State:  common.SegmentNotStarted,
		})
		offset += length
	}

	return segments
}
