package metadata

import (
	"fmt"
	"io"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/segalloc/memutils"
	"golang.org/x/exp/slog"
)

// BlockMetadata represents a single contiguous address space [0, Size()). It manages
// segments within the block, allowing allocations to be requested and freed, as well as
// enumerated and queried.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It sizes the block and resets it
	// to a single free segment spanning the whole address space.
	Init(size int)
	// Size retrieves the size that the block was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. These checks walk every
	// segment in the block. When the implementation is functioning correctly, it should not be
	// possible for this method to return an error.
	Validate() error
	// AllocationCount returns the number of live allocations in the block
	AllocationCount() int
	// FreeRegionsCount returns the number of free segments in the block. Adjacent free segments
	// are always merged, so this is also the number of distinct free regions.
	FreeRegionsCount() int
	// SumFreeSize returns the total size of all free segments in the block
	SumFreeSize() int
	// MayHaveFreeBlock returns true if an allocation of the provided size would succeed
	MayHaveFreeBlock(size int) bool
	// IsEmpty will return true if this block has no live allocations
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each allocated and free segment in
	// the block, in address order. Iteration stops at the first error, which is returned.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error

	// AllocationOffset returns the offset of the segment identified by allocHandle, which
	// may be free or allocated
	AllocationOffset(allocHandle BlockAllocationHandle) (int, error)
	// AllocationSize returns the size of the segment identified by allocHandle, which
	// may be free or allocated
	AllocationSize(allocHandle BlockAllocationHandle) (int, error)
	// AllocationUserData returns the userData that was attached to a live allocation
	AllocationUserData(allocHandle BlockAllocationHandle) (any, error)
	// SetAllocationUserData replaces the userData attached to a live allocation
	SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error

	// AddDetailedStatistics sums this block's statistics into the provided memutils.DetailedStatistics
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's statistics into the provided memutils.Statistics
	AddStatistics(stats *memutils.Statistics)

	// Clear instantly frees all allocations
	Clear()
	// BlockJsonData populates a json object with summary information about this block
	BlockJsonData(json *jwriter.ObjectState)
	// PrintDetailedMap populates a json object with summary information about this block
	// along with an entry for every segment
	PrintDetailedMap(json *jwriter.ObjectState)

	// CreateAllocationRequest finds the free segment that an allocation of allocSize would be
	// carved from. It returns false, with no error, if no free segment is large enough.
	CreateAllocationRequest(allocSize int) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest and returns the handle of the new allocation. It returns
	// an error if the request no longer matches the block.
	Alloc(request AllocationRequest, userData any) (BlockAllocationHandle, error)
	// Allocate combines CreateAllocationRequest and Alloc. It returns false, with no error,
	// if no free segment is large enough.
	Allocate(allocSize int, userData any) (BlockAllocationHandle, bool, error)
	// Free returns an allocation to the block, merging it with adjacent free segments
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase holds the state shared by BlockMetadata implementations in this package
type BlockMetadataBase struct {
	size   int
	logger *slog.Logger
}

// NewBlockMetadata creates a new BlockMetadataBase. A nil logger discards all output.
func NewBlockMetadata(logger *slog.Logger) BlockMetadataBase {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return BlockMetadataBase{
		logger: logger,
	}
}

// Init sizes the block
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block
func (m *BlockMetadataBase) Size() int { return m.size }

// BlockJsonData populates a json object with information about this block
func (m *BlockMetadataBase) BlockJsonData(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}

func (m *BlockMetadataBase) printSegment(json *jwriter.ArrayState, handle BlockAllocationHandle, offset, size int, userData any, free bool) {
	obj := json.Object()
	defer obj.End()

	obj.Name("Handle").String(handle.String())
	obj.Name("Offset").Int(offset)
	obj.Name("Size").Int(size)

	if free {
		obj.Name("Type").String("FREE")
		return
	}

	obj.Name("Type").String("ALLOCATED")
	if userData != nil {
		obj.Name("CustomData").String(fmt.Sprintf("%+v", userData))
	}
}
