package memutils

import "github.com/pkg/errors"

var (
	// ErrInvalidHandle is returned when a handle does not map to a live segment in the block,
	// either because it was never issued or because its segment has since been merged away
	ErrInvalidHandle error = errors.New("handle does not map to a live segment")
	// ErrAlreadyFree is returned when a handle is freed while its segment is already free
	ErrAlreadyFree error = errors.New("segment is already free")
	// ErrSegmentsNotAdjacent is the cause of the panic raised when two segments that do not
	// share a boundary are united
	ErrSegmentsNotAdjacent error = errors.New("segments to unite are not adjacent")
	// ErrInvalidSize is returned when a negative size is requested
	ErrInvalidSize error = errors.New("size must not be negative")
	// ErrStaleRequest is returned from Alloc when the free segment an AllocationRequest
	// was built against has changed since the request was created
	ErrStaleRequest error = errors.New("allocation request no longer matches the block")
)
