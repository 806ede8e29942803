package metadata_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/segalloc/memutils"
	"github.com/vkngwrapper/segalloc/memutils/metadata"
)

func TestSegmentSize(t *testing.T) {
	require.Equal(t, 5, metadata.Segment{Left: 3, Right: 8}.Size())
	require.Equal(t, 0, metadata.Segment{Left: 4, Right: 4}.Size())
	require.Equal(t, 0, metadata.Segment{Left: 9, Right: 4}.Size())
}

func TestSegmentUnite(t *testing.T) {
	left := metadata.Segment{Left: 0, Right: 4}
	right := metadata.Segment{Left: 4, Right: 10}

	require.True(t, left.Adjacent(right))
	require.True(t, right.Adjacent(left))
	require.Equal(t, metadata.Segment{Left: 0, Right: 10}, left.Unite(right))
	require.Equal(t, metadata.Segment{Left: 0, Right: 10}, right.Unite(left))

	empty := metadata.Segment{Left: 4, Right: 4}
	require.Equal(t, left, left.Unite(empty))
	require.Equal(t, right, empty.Unite(right))
}

func TestSegmentUniteNonAdjacentPanics(t *testing.T) {
	left := metadata.Segment{Left: 0, Right: 3}
	right := metadata.Segment{Left: 4, Right: 10}
	require.False(t, left.Adjacent(right))

	var recovered any
	func() {
		defer func() { recovered = recover() }()
		left.Unite(right)
	}()

	require.NotNil(t, recovered)
	err, isErr := recovered.(error)
	require.True(t, isErr)
	require.True(t, errors.Is(err, memutils.ErrSegmentsNotAdjacent))
	require.True(t, errors.HasAssertionFailure(err))
}

func TestSegmentOrdering(t *testing.T) {
	big := metadata.Segment{Left: 10, Right: 30}
	small := metadata.Segment{Left: 0, Right: 5}
	sameSizeLeft := metadata.Segment{Left: 0, Right: 20}

	// Larger first
	require.True(t, metadata.SegmentOrdering(big, small))
	require.False(t, metadata.SegmentOrdering(small, big))

	// Leftmost of equal sizes
	require.True(t, metadata.SegmentOrdering(sameSizeLeft, big))
	require.False(t, metadata.SegmentOrdering(big, sameSizeLeft))

	// Irreflexive
	require.False(t, metadata.SegmentOrdering(big, big))
}

func TestSegmentString(t *testing.T) {
	require.Equal(t, "[2, 7)", metadata.Segment{Left: 2, Right: 7}.String())
	require.Equal(t, "NoAllocation", metadata.NoAllocation.String())
	require.Equal(t, "12", metadata.BlockAllocationHandle(12).String())
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "None", metadata.CreateFlags(0).String())
	require.Equal(t, "CreateExternallySynchronized", metadata.CreateExternallySynchronized.String())
	require.Equal(t, "CreateExternallySynchronized|Unknown", (metadata.CreateExternallySynchronized | 2).String())
}
