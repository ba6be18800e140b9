package collection

import (
	"sync"
	"sync/atomic"

	"embeddb/internal/kvstore"
)

// Collection is one named collection's in-memory descriptor: its
// primary KV database id, its monotonic id allocator, and its index
// list. Its own read-write lock serializes writers against readers of
// its primary database and any of its indexes.
type Collection struct {
	Name string
	DBID kvstore.DB

	mu   sync.RWMutex
	seed uint64
	idx  []*IndexDescriptor
}

// Lock/Unlock/RLock/RUnlock expose the collection's per-collection
// read-write lock to callers (the facade) that must hold it across a
// document write plus its index maintenance.
func (c *Collection) Lock()    { c.mu.Lock() }
func (c *Collection) Unlock()  { c.mu.Unlock() }
func (c *Collection) RLock()   { c.mu.RLock() }
func (c *Collection) RUnlock() { c.mu.RUnlock() }

func (c *Collection) idSeed() uint64 { return atomic.LoadUint64(&c.seed) }

// NextID allocates the next monotonic document id for this collection,
// via an atomic increment of id_seed.
func (c *Collection) NextID() uint64 { return atomic.AddUint64(&c.seed, 1) }

// SetIDSeedFloor ensures the id seed is at least floor, used when
// loading a collection whose highest assigned id is already known.
func (c *Collection) SetIDSeedFloor(floor uint64) {
	for {
		cur := atomic.LoadUint64(&c.seed)
		if cur >= floor {
			return
		}
		if atomic.CompareAndSwapUint64(&c.seed, cur, floor) {
			return
		}
	}
}

func (c *Collection) indexes() []*IndexDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*IndexDescriptor, len(c.idx))
	copy(out, c.idx)
	return out
}

// Indexes returns a snapshot of the collection's current index list.
func (c *Collection) Indexes() []*IndexDescriptor { return c.indexes() }

// IndexesLocked returns the same snapshot as Indexes without taking
// c.mu itself. sync.RWMutex does not support recursive locking on one
// goroutine, so callers that already hold Lock or RLock across a
// document write and its index maintenance (the facade's Put/Del/
// mutate/Exec, and the query executor's reindexOne) must use this
// instead of Indexes to avoid deadlocking against themselves.
func (c *Collection) IndexesLocked() []*IndexDescriptor {
	out := make([]*IndexDescriptor, len(c.idx))
	copy(out, c.idx)
	return out
}

// IndexAt returns the index descriptor at path, if one exists. Caller
// must hold at least RLock.
func (c *Collection) IndexAt(path string) (*IndexDescriptor, bool) {
	for _, idx := range c.idx {
		if idx.Path == path {
			return idx, true
		}
	}
	return nil, false
}

// addIndex appends idx to the collection's index list. Caller must
// hold Lock.
func (c *Collection) addIndex(idx *IndexDescriptor) { c.idx = append(c.idx, idx) }

// removeIndex drops the index at path, reporting whether one existed.
// Caller must hold Lock.
func (c *Collection) removeIndex(path string) (*IndexDescriptor, bool) {
	for i, idx := range c.idx {
		if idx.Path == path {
			c.idx = append(c.idx[:i], c.idx[i+1:]...)
			return idx, true
		}
	}
	return nil, false
}
