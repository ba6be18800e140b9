package query

import (
	"container/heap"

	"embeddb/internal/bdoc"
)

// orderItem is one matched document carried through the ordering
// buffer: the resolved sort-key node (nil if the order-by path is
// absent on this document) plus enough to rebuild the output.
type orderItem struct {
	id  uint64
	doc *bdoc.Node
	key *bdoc.Node
}

// compareOrderKeys compares two sort-key nodes for the ordering
// buffer. Numeric values compare numerically, strings lexically; a
// missing key (nil) sorts before any present value; mismatched,
// non-numeric types fall back to comparing their tag, which is stable
// but arbitrary (documented as a resolved design choice, since the
// query language does not specify cross-type ordering).
func compareOrderKeys(a, b *bdoc.Node) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	an, bn := isNumericNode(a), isNumericNode(b)
	switch {
	case an && bn:
		return floatCompare(a.Float64(), b.Float64())
	case a.Tag == bdoc.TagString && b.Tag == bdoc.TagString:
		if a.String() < b.String() {
			return -1
		}
		if a.String() > b.String() {
			return 1
		}
		return 0
	default:
		switch {
		case a.Tag < b.Tag:
			return -1
		case a.Tag > b.Tag:
			return 1
		default:
			return 0
		}
	}
}

// orderHeap is a container/heap.Interface over orderItem. When desc is
// false its root is always the largest kept key (the first candidate
// to evict, keeping the smallest N); when desc is true its root is
// always the smallest kept key (keeping the largest N).
type orderHeap struct {
	items []orderItem
	desc  bool
}

func (h *orderHeap) Len() int { return len(h.items) }
func (h *orderHeap) Less(i, j int) bool {
	c := compareOrderKeys(h.items[i].key, h.items[j].key)
	if h.desc {
		return c < 0
	}
	return c > 0
}
func (h *orderHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *orderHeap) Push(x any)    { h.items = append(h.items, x.(orderItem)) }
func (h *orderHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}

// boundedBuffer accumulates matches for a query that cannot use index
// order directly. When capacity is positive it never holds more than
// capacity items (skip+limit), evicting the current worst kept item
// via container/heap as better candidates arrive; this bounds memory
// regardless of total result-set size whenever limit is set. capacity
// <= 0 means unbounded: every match is kept, ordering the full result
// set.
type boundedBuffer struct {
	h   *orderHeap
	cap int
}

func newBoundedBuffer(capacity int, desc bool) *boundedBuffer {
	h := &orderHeap{desc: desc}
	heap.Init(h)
	return &boundedBuffer{h: h, cap: capacity}
}

func (b *boundedBuffer) add(it orderItem) {
	if b.cap <= 0 || b.h.Len() < b.cap {
		heap.Push(b.h, it)
		return
	}
	root := b.h.items[0]
	c := compareOrderKeys(it.key, root.key)
	replace := c < 0
	if b.h.desc {
		replace = c > 0
	}
	if replace {
		b.h.items[0] = it
		heap.Fix(b.h, 0)
	}
}

// drain empties the buffer into final sort order (ascending if desc is
// false, descending if true).
func (b *boundedBuffer) drain() []orderItem {
	n := b.h.Len()
	out := make([]orderItem, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(b.h).(orderItem)
	}
	return out
}
