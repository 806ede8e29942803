package metadata

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/segalloc/heap"
	"github.com/vkngwrapper/segalloc/memutils"
)

// Segment is the half-open address range [Left, Right)
type Segment struct {
	Left  int
	Right int
}

// Size returns Right - Left, or 0 for an inverted range
func (s Segment) Size() int {
	return memutils.ClampedSize(s.Left, s.Right)
}

// Adjacent returns true if the two segments share a boundary
func (s Segment) Adjacent(other Segment) bool {
	return s.Left == other.Right || s.Right == other.Left
}

// Unite returns the segment spanning both s and other. The segments must be adjacent;
// uniting anything else is a bug in the caller and panics.
func (s Segment) Unite(other Segment) Segment {
	if s.Left == other.Right {
		return Segment{Left: other.Left, Right: s.Right}
	} else if s.Right == other.Left {
		return Segment{Left: s.Left, Right: other.Right}
	}

	panic(errors.WithAssertionFailure(errors.Wrapf(memutils.ErrSegmentsNotAdjacent, "cannot unite %s and %s", s, other)))
}

func (s Segment) String() string {
	return fmt.Sprintf("[%d, %d)", s.Left, s.Right)
}

// SegmentOrdering returns true if a should be preferred over b when choosing a free segment:
// larger segments first, and the leftmost of equally-sized segments
func SegmentOrdering(a, b Segment) bool {
	aSize, bSize := a.Size(), b.Size()
	if aSize == bSize {
		return a.Left < b.Left
	}

	return aSize > bSize
}

// segmentNode is a Segment's entry in the block's physical chain. heapIndex is
// heap.NullIndex exactly when the segment is allocated.
type segmentNode struct {
	Segment

	heapIndex int
	prev      *segmentNode
	next      *segmentNode

	handle   BlockAllocationHandle
	userData any
}

func (n *segmentNode) IsFree() bool {
	return n.heapIndex != heap.NullIndex
}

func compareNodes(a, b *segmentNode) bool {
	return SegmentOrdering(a.Segment, b.Segment)
}

func observeNodeIndex(node *segmentNode, newIndex int) {
	node.heapIndex = newIndex
}
