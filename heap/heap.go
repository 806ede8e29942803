// Package heap provides a binary heap that reports every element's slot in its backing
// storage to an observer. Consumers that remember the last reported slot for an element
// can remove that element in O(log n) with Erase, which container/heap only offers when
// the element type itself carries its index.
package heap

import (
	"github.com/cockroachdb/errors"
)

// NullIndex is reported to the IndexChangeObserver when an element leaves the heap.
// It is never a valid slot.
const NullIndex = -1

// Compare returns true if a must end up nearer the root than b. The heap does not care
// whether that makes it a min-heap or a max-heap. For deterministic results, Compare
// should totally order the elements it will see.
type Compare[T any] func(a, b T) bool

// IndexChangeObserver is called with an element and its new slot every time the element
// moves within the heap's storage: on Push, on every swap during sifting, and with
// NullIndex when the element is removed.
type IndexChangeObserver[T any] func(element T, newIndex int)

// IndexedHeap is a binary heap ordered by a Compare func which publishes element
// positions through an IndexChangeObserver
type IndexedHeap[T any] struct {
	compare  Compare[T]
	observer IndexChangeObserver[T]
	elements []T
}

// New creates an empty IndexedHeap. compare must not be nil; observer may be nil, in
// which case Erase can only be used with indices learned some other way.
func New[T any](compare Compare[T], observer IndexChangeObserver[T]) *IndexedHeap[T] {
	if compare == nil {
		panic(errors.AssertionFailedf("heap compare func must not be nil"))
	}

	return &IndexedHeap[T]{
		compare:  compare,
		observer: observer,
	}
}

// Len returns the number of elements in the heap
func (h *IndexedHeap[T]) Len() int { return len(h.elements) }

// Empty returns true if the heap has no elements
func (h *IndexedHeap[T]) Empty() bool { return len(h.elements) == 0 }

// Push inserts value and returns the slot it came to rest in
func (h *IndexedHeap[T]) Push(value T) int {
	h.elements = append(h.elements, value)
	last := len(h.elements) - 1
	h.notify(value, last)
	return h.siftUp(last)
}

// Top returns the element that compares ahead of every other element. It panics if
// the heap is empty.
func (h *IndexedHeap[T]) Top() T {
	if len(h.elements) == 0 {
		panic(errors.AssertionFailedf("Top called on an empty heap"))
	}

	return h.elements[0]
}

// Pop removes the element returned by Top. It panics if the heap is empty.
func (h *IndexedHeap[T]) Pop() {
	if len(h.elements) == 0 {
		panic(errors.AssertionFailedf("Pop called on an empty heap"))
	}

	h.removeLast(0)
	h.siftDown(0)
}

// Erase removes the element currently at index. It panics if index is not a
// slot in the heap.
func (h *IndexedHeap[T]) Erase(index int) {
	if index < 0 || index >= len(h.elements) {
		panic(errors.AssertionFailedf("Erase called with index %d on a heap of length %d", index, len(h.elements)))
	}

	h.removeLast(index)

	// The element moved into index may belong either above or below it; at most one
	// of these does any work
	if index < len(h.elements) {
		h.siftUp(index)
		h.siftDown(index)
	}
}

// Clear removes every element, reporting NullIndex for each
func (h *IndexedHeap[T]) Clear() {
	for i := len(h.elements) - 1; i >= 0; i-- {
		h.notify(h.elements[i], NullIndex)
	}

	clear(h.elements)
	h.elements = h.elements[:0]
}

// Validate verifies that no element compares ahead of its parent
func (h *IndexedHeap[T]) Validate() error {
	for index := 1; index < len(h.elements); index++ {
		parent := parentIndex(index)
		if h.less(index, parent) {
			return errors.Newf("heap element at index %d compares ahead of its parent at index %d", index, parent)
		}
	}

	return nil
}

// Visit calls visitor for each element in storage order, stopping at the first error
func (h *IndexedHeap[T]) Visit(visitor func(index int, element T) error) error {
	for index, element := range h.elements {
		err := visitor(index, element)
		if err != nil {
			return err
		}
	}

	return nil
}

func parentIndex(index int) int { return (index - 1) / 2 }
func leftChild(index int) int   { return 2*index + 1 }
func rightChild(index int) int  { return 2*index + 2 }

func (h *IndexedHeap[T]) less(first, second int) bool {
	return h.compare(h.elements[first], h.elements[second])
}

func (h *IndexedHeap[T]) notify(element T, newIndex int) {
	if h.observer != nil {
		h.observer(element, newIndex)
	}
}

func (h *IndexedHeap[T]) swap(first, second int) {
	h.notify(h.elements[first], second)
	h.notify(h.elements[second], first)
	h.elements[first], h.elements[second] = h.elements[second], h.elements[first]
}

// removeLast swaps index with the final slot and drops the final slot
func (h *IndexedHeap[T]) removeLast(index int) {
	last := len(h.elements) - 1
	h.swap(index, last)
	h.notify(h.elements[last], NullIndex)

	var zero T
	h.elements[last] = zero
	h.elements = h.elements[:last]
}

func (h *IndexedHeap[T]) siftUp(index int) int {
	for index > 0 {
		parent := parentIndex(index)
		if !h.less(index, parent) {
			break
		}

		h.swap(index, parent)
		index = parent
	}

	return index
}

func (h *IndexedHeap[T]) siftDown(index int) {
	count := len(h.elements)
	for {
		best := leftChild(index)
		if best >= count {
			return
		}

		if right := rightChild(index); right < count && h.less(right, best) {
			best = right
		}

		if !h.less(best, index) {
			return
		}

		h.swap(best, index)
		index = best
	}
}
