package metadata

import (
	"context"
	"fmt"
	"sync"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/segalloc/heap"
	"github.com/vkngwrapper/segalloc/internal/utils"
	"github.com/vkngwrapper/segalloc/memutils"
	"golang.org/x/exp/slog"
)

var nodeAllocator = sync.Pool{
	New: func() any {
		return &segmentNode{}
	},
}

// BestFitBlockMetadata is a BlockMetadata implementation that always carves allocations
// from the largest free segment in the block, choosing the leftmost of equally-sized
// segments. Freed segments are merged with free neighbors immediately.
//
// Segments are kept in a doubly linked chain in address order, which makes merging
// neighbors O(1). Free segments are additionally kept in an IndexedHeap ordered by
// SegmentOrdering, and each free segment records its own slot in that heap so it can be
// removed from the middle of the heap in O(log n). Allocate and Free are O(log n).
type BestFitBlockMetadata struct {
	BlockMetadataBase

	mutex utils.OptionalRWMutex

	allocCount   int
	freeSize     int
	segmentCount int

	nextHandle   BlockAllocationHandle
	handleKey    *swiss.Map[BlockAllocationHandle, *segmentNode]
	freeSegments *heap.IndexedHeap[*segmentNode]
	head         *segmentNode
}

var _ BlockMetadata = &BestFitBlockMetadata{}

// NewBestFitBlockMetadata creates a new BestFitBlockMetadata. Init must be called before it
// is used.
func NewBestFitBlockMetadata(logger *slog.Logger, options CreateOptions) *BestFitBlockMetadata {
	m := &BestFitBlockMetadata{
		BlockMetadataBase: NewBlockMetadata(logger),
		freeSegments:      heap.New[*segmentNode](compareNodes, observeNodeIndex),
	}
	m.mutex.Init(options.Flags&CreateExternallySynchronized == 0)

	return m
}

func (m *BestFitBlockMetadata) allocateNode(segment Segment) *segmentNode {
	n := nodeAllocator.Get().(*segmentNode)
	n.Segment = segment
	n.heapIndex = heap.NullIndex
	n.prev = nil
	n.next = nil
	n.userData = nil
	n.handle = m.nextHandle
	m.nextHandle++

	m.handleKey.Put(n.handle, n)
	m.segmentCount++
	return n
}

func (m *BestFitBlockMetadata) releaseNode(n *segmentNode) {
	m.handleKey.Delete(n.handle)
	m.segmentCount--

	n.prev = nil
	n.next = nil
	n.userData = nil
	nodeAllocator.Put(n)
}

func (m *BestFitBlockMetadata) getNode(handle BlockAllocationHandle) (*segmentNode, error) {
	if m.handleKey == nil {
		return nil, cerrors.Wrapf(memutils.ErrInvalidHandle, "handle %s used before Init", handle)
	}

	n, ok := m.handleKey.Get(handle)
	if !ok {
		return nil, cerrors.Wrapf(memutils.ErrInvalidHandle, "handle %s", handle)
	}
	return n, nil
}

// insertBefore links n into the chain directly in front of position
func (m *BestFitBlockMetadata) insertBefore(position *segmentNode, n *segmentNode) {
	n.next = position
	n.prev = position.prev
	if position.prev != nil {
		position.prev.next = n
	} else {
		m.head = n
	}
	position.prev = n
}

func (m *BestFitBlockMetadata) unlink(n *segmentNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		m.head = n.next
	}

	if n.next != nil {
		n.next.prev = n.prev
	}
}

// Init prepares this structure for allocations. Any existing segments are discarded and the
// block becomes a single free segment [0, size).
func (m *BestFitBlockMetadata) Init(size int) {
	if err := memutils.CheckSize(size, "block size"); err != nil {
		panic(cerrors.WithAssertionFailure(err))
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.BlockMetadataBase.Init(size)
	m.reset()
}

func (m *BestFitBlockMetadata) reset() {
	// Detach from the heap first so that nodes are not touched after returning to the pool
	m.freeSegments.Clear()

	for n := m.head; n != nil; {
		next := n.next
		m.releaseNode(n)
		n = next
	}

	m.handleKey = swiss.NewMap[BlockAllocationHandle, *segmentNode](42)
	m.head = nil
	m.allocCount = 0
	m.segmentCount = 0

	m.head = m.allocateNode(Segment{Left: 0, Right: m.size})
	m.freeSegments.Push(m.head)
	m.freeSize = m.size
}

// Clear instantly frees all allocations, leaving a single free segment spanning the block
func (m *BestFitBlockMetadata) Clear() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "BestFitBlockMetadata::Clear",
		slog.Int("AllocationCount", m.allocCount))
	m.reset()
}

// CreateAllocationRequest looks at the largest free segment and reports whether an allocation
// of allocSize can be carved from it. No other free segment can succeed if that one fails.
func (m *BestFitBlockMetadata) CreateAllocationRequest(allocSize int) (bool, AllocationRequest, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.createAllocationRequest(allocSize)
}

func (m *BestFitBlockMetadata) createAllocationRequest(allocSize int) (bool, AllocationRequest, error) {
	var request AllocationRequest

	if err := memutils.CheckSize(allocSize, "allocSize"); err != nil {
		return false, request, err
	}

	memutils.DebugValidate(memutils.ValidatorFunc(m.validate))

	if m.freeSegments.Empty() {
		return false, request, nil
	}

	largest := m.freeSegments.Top()
	if allocSize > largest.Size() {
		return false, request, nil
	}

	request.FreeSegment = largest.handle
	request.Offset = largest.Left
	request.Size = allocSize
	request.FreeSize = largest.Size()
	return true, request, nil
}

// Alloc commits an AllocationRequest. If the allocation consumes the whole free segment, that
// segment becomes allocated in place and keeps its handle. Otherwise a new allocated segment
// is split off the front of the free segment and its handle is returned.
func (m *BestFitBlockMetadata) Alloc(request AllocationRequest, userData any) (BlockAllocationHandle, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.alloc(request, userData)
}

func (m *BestFitBlockMetadata) alloc(request AllocationRequest, userData any) (BlockAllocationHandle, error) {
	free, err := m.getNode(request.FreeSegment)
	if err != nil {
		return NoAllocation, cerrors.Mark(err, memutils.ErrStaleRequest)
	}

	if !free.IsFree() {
		return NoAllocation, cerrors.Wrapf(memutils.ErrStaleRequest, "segment %s is no longer free", free.Segment)
	}
	if free.Left != request.Offset {
		return NoAllocation, cerrors.Wrapf(memutils.ErrStaleRequest, "segment %s no longer starts at %d", free.Segment, request.Offset)
	}
	if request.Size < 0 || free.Size() < request.Size {
		return NoAllocation, cerrors.Wrapf(memutils.ErrStaleRequest, "segment %s cannot hold %d", free.Segment, request.Size)
	}

	var allocated *segmentNode
	if request.Size == free.Size() {
		m.freeSegments.Erase(free.heapIndex)
		allocated = free
	} else {
		allocated = m.allocateNode(Segment{Left: free.Left, Right: free.Left + request.Size})
		m.insertBefore(free, allocated)

		// The free segment only shrinks, so it must be pushed again rather than sifted in place
		m.freeSegments.Erase(free.heapIndex)
		free.Left = allocated.Right
		m.freeSegments.Push(free)
	}

	allocated.userData = userData
	m.allocCount++
	m.freeSize -= request.Size

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "BestFitBlockMetadata::Alloc",
		slog.String("Handle", allocated.handle.String()),
		slog.Int("Offset", allocated.Left),
		slog.Int("Size", allocated.Size()))

	memutils.DebugValidate(memutils.ValidatorFunc(m.validate))
	return allocated.handle, nil
}

// Allocate carves an allocation of allocSize out of the largest free segment, leftmost on
// ties. It returns false, with no error, when no free segment is large enough. A zero-size
// allocation succeeds whenever any free segment exists and occupies no space.
func (m *BestFitBlockMetadata) Allocate(allocSize int, userData any) (BlockAllocationHandle, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ok, request, err := m.createAllocationRequest(allocSize)
	if err != nil || !ok {
		return NoAllocation, false, err
	}

	handle, err := m.alloc(request, userData)
	if err != nil {
		return NoAllocation, false, err
	}

	return handle, true, nil
}

// Free returns an allocation to the block and merges it with whichever of its neighbors
// are free. Freeing a handle that is unknown, or that belongs to a free segment, returns an
// error and leaves the block untouched.
func (m *BestFitBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	n, err := m.getNode(allocHandle)
	if err != nil {
		return err
	}
	if n.IsFree() {
		return cerrors.Wrapf(memutils.ErrAlreadyFree, "handle %s, segment %s", allocHandle, n.Segment)
	}

	m.allocCount--
	m.freeSize += n.Size()
	n.userData = nil

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "BestFitBlockMetadata::Free",
		slog.String("Handle", allocHandle.String()),
		slog.Int("Offset", n.Left),
		slog.Int("Size", n.Size()))

	if n.prev != nil {
		m.mergeIfFree(n, n.prev)
	}
	if n.next != nil {
		m.mergeIfFree(n, n.next)
	}

	m.freeSegments.Push(n)

	memutils.DebugValidate(memutils.ValidatorFunc(m.validate))
	return nil
}

// mergeIfFree folds neighbor into remaining when neighbor is free
func (m *BestFitBlockMetadata) mergeIfFree(remaining, neighbor *segmentNode) {
	if !neighbor.IsFree() {
		return
	}

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Merged free neighbor",
		slog.String("Neighbor", neighbor.Segment.String()))

	m.freeSegments.Erase(neighbor.heapIndex)
	remaining.Segment = remaining.Segment.Unite(neighbor.Segment)
	m.unlink(neighbor)
	m.releaseNode(neighbor)
}

// Validate performs internal consistency checks on the metadata: the segments cover the block
// exactly and in order, no two free segments are adjacent, and every free segment (and only the
// free segments) sits in the free heap at the slot it has recorded.
func (m *BestFitBlockMetadata) Validate() error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.validate()
}

func (m *BestFitBlockMetadata) validate() error {
	if m.head == nil {
		return errors.New("metadata has no segments; Init was not called")
	}
	if m.head.prev != nil {
		return errors.New("the first segment has a previous segment")
	}

	var freeCount, allocCount, freeSize, segmentCount int
	nextOffset := 0
	var prev *segmentNode

	for n := m.head; n != nil; n = n.next {
		segmentCount++

		if n.prev != prev {
			return errors.Errorf("segment %s has a broken reverse reference", n.Segment)
		}
		if n.Left != nextOffset {
			return errors.Errorf("segment %s should start at offset %d", n.Segment, nextOffset)
		}
		if n.Right < n.Left {
			return errors.Errorf("segment %s is inverted", n.Segment)
		}

		stored, ok := m.handleKey.Get(n.handle)
		if !ok || stored != n {
			return errors.Errorf("segment %s is not reachable through its handle %s", n.Segment, n.handle)
		}

		if n.IsFree() {
			freeCount++
			freeSize += n.Size()

			if prev != nil && prev.IsFree() {
				return errors.Errorf("free segments %s and %s are adjacent and should have been merged", prev.Segment, n.Segment)
			}
			if n.heapIndex < 0 || n.heapIndex >= m.freeSegments.Len() {
				return errors.Errorf("free segment %s records heap index %d, but the heap has %d entries", n.Segment, n.heapIndex, m.freeSegments.Len())
			}
			if n.userData != nil {
				return errors.Errorf("free segment %s still carries user data", n.Segment)
			}
		} else {
			allocCount++
		}

		nextOffset = n.Right
		prev = n
	}

	if nextOffset != m.size {
		return errors.Errorf("the segments end at offset %d, but the block size is %d", nextOffset, m.size)
	}

	err := m.freeSegments.Visit(func(index int, n *segmentNode) error {
		if n.heapIndex != index {
			return errors.Errorf("free segment %s records heap index %d, but it is at index %d", n.Segment, n.heapIndex, index)
		}
		return nil
	})
	if err != nil {
		return err
	}

	err = m.freeSegments.Validate()
	if err != nil {
		return err
	}

	if freeCount != m.freeSegments.Len() {
		return errors.Errorf("found %d free segments in the chain, but the free heap has %d entries", freeCount, m.freeSegments.Len())
	}
	if allocCount != m.allocCount {
		return errors.Errorf("the allocation count of the metadata is %d, but there are %d allocated segments", m.allocCount, allocCount)
	}
	if freeSize != m.freeSize {
		return errors.Errorf("the free size of the metadata is %d, but the free segments add up to %d", m.freeSize, freeSize)
	}
	if segmentCount != m.segmentCount || segmentCount != m.handleKey.Count() {
		return errors.Errorf("found %d segments in the chain, but the metadata tracks %d segments and %d handles", segmentCount, m.segmentCount, m.handleKey.Count())
	}

	return nil
}

// AllocationCount returns the number of live allocations in the block
func (m *BestFitBlockMetadata) AllocationCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.allocCount
}

// FreeRegionsCount returns the number of free segments in the block
func (m *BestFitBlockMetadata) FreeRegionsCount() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.freeSegments.Len()
}

// SumFreeSize returns the total size of the free segments in the block
func (m *BestFitBlockMetadata) SumFreeSize() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.freeSize
}

// IsEmpty will return true if this block has no live allocations
func (m *BestFitBlockMetadata) IsEmpty() bool {
	return m.AllocationCount() == 0
}

// MayHaveFreeBlock returns true if Allocate would succeed for the provided size. Unlike
// heuristic implementations, the answer is exact.
func (m *BestFitBlockMetadata) MayHaveFreeBlock(size int) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return !m.freeSegments.Empty() && size <= m.freeSegments.Top().Size()
}

// LargestFreeRegion returns the free segment the next allocation will be carved from,
// or false if the block is fully allocated
func (m *BestFitBlockMetadata) LargestFreeRegion() (Segment, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if m.freeSegments.Empty() {
		return Segment{}, false
	}

	return m.freeSegments.Top().Segment, true
}

// VisitAllRegions calls handleBlock for each segment in the block in address order
func (m *BestFitBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.visitAllRegions(handleBlock)
}

func (m *BestFitBlockMetadata) visitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	for n := m.head; n != nil; n = n.next {
		err := handleBlock(n.handle, n.Left, n.Size(), n.userData, n.IsFree())
		if err != nil {
			return err
		}
	}

	return nil
}

// AllocationOffset returns the offset of the segment identified by allocHandle
func (m *BestFitBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	n, err := m.getNode(allocHandle)
	if err != nil {
		return 0, err
	}

	return n.Left, nil
}

// AllocationSize returns the size of the segment identified by allocHandle
func (m *BestFitBlockMetadata) AllocationSize(allocHandle BlockAllocationHandle) (int, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	n, err := m.getNode(allocHandle)
	if err != nil {
		return 0, err
	}

	return n.Size(), nil
}

// AllocationUserData returns the userData attached to a live allocation
func (m *BestFitBlockMetadata) AllocationUserData(allocHandle BlockAllocationHandle) (any, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	n, err := m.getNode(allocHandle)
	if err != nil {
		return nil, err
	}
	if n.IsFree() {
		return nil, cerrors.Wrap(memutils.ErrAlreadyFree, "user data cannot be retrieved for a free segment")
	}

	return n.userData, nil
}

// SetAllocationUserData replaces the userData attached to a live allocation
func (m *BestFitBlockMetadata) SetAllocationUserData(allocHandle BlockAllocationHandle, userData any) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	n, err := m.getNode(allocHandle)
	if err != nil {
		return err
	}
	if n.IsFree() {
		return cerrors.Wrap(memutils.ErrAlreadyFree, "user data cannot be set for a free segment")
	}

	n.userData = userData
	return nil
}

// AddDetailedStatistics sums this block's statistics into stats
func (m *BestFitBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	m.addDetailedStatistics(stats)
}

func (m *BestFitBlockMetadata) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size

	for n := m.head; n != nil; n = n.next {
		if n.IsFree() {
			stats.AddUnusedRange(n.Size())
		} else {
			stats.AddAllocation(n.Size())
		}
	}
}

// AddStatistics sums this block's statistics into stats
func (m *BestFitBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	stats.BlockCount++
	stats.AllocationCount += m.allocCount
	stats.BlockBytes += m.size
	stats.AllocationBytes += m.size - m.freeSize
}

// BlockJsonData populates a json object with summary information about this block
func (m *BestFitBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	m.BlockMetadataBase.BlockJsonData(json, m.freeSize, m.allocCount, m.freeSegments.Len())
}

// PrintDetailedMap populates a json object with summary information about this block and a
// "Segments" array holding every segment in address order
func (m *BestFitBlockMetadata) PrintDetailedMap(json *jwriter.ObjectState) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	m.addDetailedStatistics(&stats)

	if stats.UnusedBytes() != m.freeSize {
		panic(fmt.Sprintf("the metadata's free size %d does not match its free segments %d", m.freeSize, stats.UnusedBytes()))
	}

	m.BlockMetadataBase.BlockJsonData(json, stats.UnusedBytes(), stats.AllocationCount, stats.UnusedRangeCount)

	arrayState := json.Name("Segments").Array()
	defer arrayState.End()

	_ = m.visitAllRegions(func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		m.printSegment(&arrayState, handle, offset, size, userData, free)
		return nil
	})
}
