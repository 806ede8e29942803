package heap_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/segalloc/heap"
)

type trackedItem struct {
	value int
	id    int
	index int
}

func itemLess(a, b *trackedItem) bool {
	if a.value == b.value {
		return a.id < b.id
	}
	return a.value < b.value
}

func newTrackedHeap() *heap.IndexedHeap[*trackedItem] {
	return heap.New[*trackedItem](itemLess, func(item *trackedItem, newIndex int) {
		item.index = newIndex
	})
}

func requireIndicesMatch(t *testing.T, h *heap.IndexedHeap[*trackedItem], live map[int]*trackedItem) {
	t.Helper()

	require.Equal(t, len(live), h.Len())
	seen := 0
	err := h.Visit(func(index int, element *trackedItem) error {
		require.Equal(t, index, element.index, "item %d", element.id)
		require.Same(t, live[element.id], element)
		seen++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, len(live), seen)
	require.NoError(t, h.Validate())
}

func TestHeapPushTop(t *testing.T) {
	h := newTrackedHeap()
	require.True(t, h.Empty())

	items := []*trackedItem{
		{value: 5, id: 0},
		{value: 3, id: 1},
		{value: 8, id: 2},
		{value: 1, id: 3},
	}

	for _, item := range items {
		h.Push(item)
	}

	require.False(t, h.Empty())
	require.Equal(t, 4, h.Len())
	require.Same(t, items[3], h.Top())
	require.Equal(t, 0, items[3].index)
	require.NoError(t, h.Validate())
}

func TestHeapPushReturnsRestingIndex(t *testing.T) {
	h := newTrackedHeap()

	first := &trackedItem{value: 10, id: 0}
	require.Equal(t, 0, h.Push(first))

	second := &trackedItem{value: 20, id: 1}
	require.Equal(t, 1, h.Push(second))
	require.Equal(t, 1, second.index)

	third := &trackedItem{value: 1, id: 2}
	require.Equal(t, 0, h.Push(third))
	require.Equal(t, 0, third.index)
	require.Equal(t, 2, first.index)
}

func TestHeapPopOrder(t *testing.T) {
	h := newTrackedHeap()

	values := []int{9, 4, 7, 1, 8, 2, 6, 3, 5, 0}
	items := make([]*trackedItem, len(values))
	for i, v := range values {
		items[i] = &trackedItem{value: v, id: i}
		h.Push(items[i])
	}

	for expected := 0; expected < len(values); expected++ {
		top := h.Top()
		require.Equal(t, expected, top.value)
		h.Pop()
		require.Equal(t, heap.NullIndex, top.index)
		require.NoError(t, h.Validate())
	}

	require.True(t, h.Empty())
}

func TestHeapEraseMiddle(t *testing.T) {
	h := newTrackedHeap()
	live := map[int]*trackedItem{}

	for i := 0; i < 16; i++ {
		item := &trackedItem{value: (i * 7) % 16, id: i}
		live[i] = item
		h.Push(item)
	}
	requireIndicesMatch(t, h, live)

	target := live[5]
	h.Erase(target.index)
	delete(live, 5)
	require.Equal(t, heap.NullIndex, target.index)
	requireIndicesMatch(t, h, live)

	// Erase the last slot, where no element is moved into the erased position
	var last *trackedItem
	_ = h.Visit(func(index int, element *trackedItem) error {
		if index == h.Len()-1 {
			last = element
		}
		return nil
	})
	h.Erase(last.index)
	delete(live, last.id)
	require.Equal(t, heap.NullIndex, last.index)
	requireIndicesMatch(t, h, live)
}

func TestHeapEraseSiftsUp(t *testing.T) {
	h := newTrackedHeap()

	// A deep, small leaf on the right subtree will be moved under a large node on the left
	values := []int{0, 10, 1, 11, 12, 2, 3}
	items := make([]*trackedItem, len(values))
	for i, v := range values {
		items[i] = &trackedItem{value: v, id: i}
		h.Push(items[i])
	}
	require.NoError(t, h.Validate())

	h.Erase(items[3].index)
	require.NoError(t, h.Validate())
	require.Equal(t, heap.NullIndex, items[3].index)
	require.Same(t, items[0], h.Top())
}

func TestHeapClear(t *testing.T) {
	h := newTrackedHeap()
	items := []*trackedItem{{value: 1, id: 0}, {value: 2, id: 1}, {value: 3, id: 2}}
	for _, item := range items {
		h.Push(item)
	}

	h.Clear()
	require.True(t, h.Empty())
	for _, item := range items {
		require.Equal(t, heap.NullIndex, item.index)
	}

	h.Push(items[1])
	require.Same(t, items[1], h.Top())
	require.Equal(t, 0, items[1].index)
}

func TestHeapNilObserver(t *testing.T) {
	h := heap.New[int](func(a, b int) bool { return a > b }, nil)
	h.Push(3)
	h.Push(9)
	h.Push(1)

	require.Equal(t, 9, h.Top())
	h.Erase(0)
	require.Equal(t, 3, h.Top())
	h.Pop()
	require.Equal(t, 1, h.Top())
}

func TestHeapContractViolationsPanic(t *testing.T) {
	h := newTrackedHeap()

	require.Panics(t, func() { h.Top() })
	require.Panics(t, func() { h.Pop() })
	require.Panics(t, func() { h.Erase(0) })

	h.Push(&trackedItem{value: 1})
	require.Panics(t, func() { h.Erase(1) })
	require.Panics(t, func() { h.Erase(heap.NullIndex) })

	require.Panics(t, func() { heap.New[int](nil, nil) })
}

func TestHeapRandomOperations(t *testing.T) {
	rng := rand.New(rand.NewSource(1337))
	h := newTrackedHeap()
	live := map[int]*trackedItem{}
	nextID := 0

	for step := 0; step < 5000; step++ {
		switch op := rng.Intn(10); {
		case op < 5 || len(live) == 0:
			item := &trackedItem{value: rng.Intn(64), id: nextID}
			nextID++
			live[item.id] = item
			index := h.Push(item)
			require.Equal(t, index, item.index)
		case op < 8:
			ids := make([]int, 0, len(live))
			for id := range live {
				ids = append(ids, id)
			}
			sort.Ints(ids)
			victim := live[ids[rng.Intn(len(ids))]]
			h.Erase(victim.index)
			require.Equal(t, heap.NullIndex, victim.index)
			delete(live, victim.id)
		default:
			top := h.Top()
			h.Pop()
			require.Equal(t, heap.NullIndex, top.index)
			delete(live, top.id)
		}

		requireIndicesMatch(t, h, live)

		if len(live) > 0 {
			var best *trackedItem
			for _, item := range live {
				if best == nil || itemLess(item, best) {
					best = item
				}
			}
			require.Same(t, best, h.Top())
		}
	}
}
