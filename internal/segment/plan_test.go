package segment_test

import (
	"testing"

	"github.com/nshaw/qdm/internal/common"
	"github.com/nshaw/qdm/internal/segment"
)

func TestPlan_UnknownSizeYieldsSingleSegment(t *testing.T) {
	segs := segment.Plan(common.UnknownSize, false, 8)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Length != common.UnknownSize {
		t.Errorf("expected unknown length, got %d", segs[0].Length)
	}
}

func TestPlan_NonResumableYieldsSingleSegment(t *testing.T) {
	segs := segment.Plan(1000000, false, 8)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
}

func TestPlan_PartitionsExactly(t *testing.T) {
	segs := segment.Plan(1000000, true, 4)
	if len(segs) != 4 {
		t.Fatalf("expected 4 segments, got %d", len(segs))
	}

	var coveredTo int64
	var sum int64
	for i, s := range segs {
		if s.Offset != coveredTo {
			t.Fatalf("segment %d offset %d, expected %d (disjoint/contiguous union)", i, s.Offset, coveredTo)
		}
		coveredTo += s.Length
		sum += s.Length
	}
	if sum != 1000000 {
		t.Errorf("expected segments to sum to 1000000, got %d", sum)
	}
	if coveredTo != 1000000 {
		t.Errorf("expected union to cover [0,1000000), covered to %d", coveredTo)
	}
	for _, s := range segs {
		if s.Length != 250000 {
			t.Errorf("expected each of 4 equal segments to be 250000 bytes, got %d", s.Length)
		}
	}
}

func TestPlan_CapsAtSizeBudgetBelowMax(t *testing.T) {
	// 768KiB total, 256KiB minimum -> only 3 segments fit the budget even
	// though maxSegments allows many more.
	segs := segment.Plan(768*1024, true, 8)
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments under the 256KiB budget, got %d", len(segs))
	}
}
