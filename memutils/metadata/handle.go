package metadata

import (
	"math"
	"strconv"
)

// BlockAllocationHandle identifies a single segment, free or allocated, within a block.
// A handle remains valid until its segment is merged into a neighbor.
type BlockAllocationHandle uint64

const (
	// NoAllocation is the BlockAllocationHandle value that never identifies a segment
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

func (h BlockAllocationHandle) String() string {
	if h == NoAllocation {
		return "NoAllocation"
	}

	return strconv.FormatUint(uint64(h), 10)
}
