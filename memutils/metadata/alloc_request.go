package metadata

// AllocationRequest is returned from BestFitBlockMetadata.CreateAllocationRequest and indicates
// which free segment the metadata intends to carve the allocation from. It can be committed
// with BestFitBlockMetadata.Alloc as long as the block has not changed in a way that
// invalidates it.
type AllocationRequest struct {
	// FreeSegment is the handle of the free segment the allocation will be taken from
	FreeSegment BlockAllocationHandle
	// Offset is the offset of the free segment, which is also where the allocation will start
	Offset int
	// Size is the size of the requested allocation
	Size int
	// FreeSize is the size of the free segment at the time the request was created
	FreeSize int
}

// ExactFit returns true if the allocation will consume the whole free segment
func (r AllocationRequest) ExactFit() bool {
	return r.Size == r.FreeSize
}
