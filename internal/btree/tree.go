// Package btree implements the engine's B+ tree index layer over the
// abstract kvstore.Store: an ordered key→value(s)
// structure with leaf/node pages, a selectable comparator, an LRU page
// cache with clock-stamped cursor invalidation, splits on insert, and
// collapse of emptied pages on delete (siblings are not merged). It is the one component the core implements itself rather
// than delegating to the KV store.
package btree

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"embeddb/internal/kvstore"
)

// ErrCorruptPage is returned when a stored page fails to decode.
var ErrCorruptPage = errors.New("btree: corrupt_page")

// ErrUniqueViolation is returned by Put on a unique tree when key
// already has a value.
var ErrUniqueViolation = errors.New("btree: unique_violation")

// ErrNotFound is returned by Del/DelKV when the key (or key+value) is
// absent.
var ErrNotFound = errors.New("btree: not_found")

// Options configures a tree's page sizing.
type Options struct {
	LeafMaxRecords int // default 64
	NodeMaxEntries int // default 64
	CacheSize      int // max cached pages per kind, default 256
}

func (o Options) withDefaults() Options {
	if o.LeafMaxRecords <= 0 {
		o.LeafMaxRecords = 64
	}
	if o.NodeMaxEntries <= 0 {
		o.NodeMaxEntries = 64
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 256
	}
	return o
}

// Tree is one B+ tree index, backed by a single kvstore database.
type Tree struct {
	store  kvstore.Store
	db     kvstore.DB
	cmp    Comparator
	unique bool
	opts   Options

	mu     sync.Mutex
	clock  uint64
	rootID PageID
	nextID uint64

	leaves *lru[*leaf]
	nodes  *lru[*node]
}

const headerMagic = "EMDBBT01"

// Open loads (or initializes) the tree stored in db, using cmp as its
// comparator. unique is fixed at creation time and recorded in the
// header; reopening with a different cmp/unique than what created the
// tree is a caller bug, not validated here, since the comparator and
// uniqueness of an index never change across its lifetime.
func Open(store kvstore.Store, db kvstore.DB, cmp Comparator, unique bool, opts Options) (*Tree, error) {
	opts = opts.withDefaults()
	t := &Tree{
		store:  store,
		db:     db,
		cmp:    cmp,
		unique: unique,
		opts:   opts,
		leaves: newLRU[*leaf](opts.CacheSize),
		nodes:  newLRU[*node](opts.CacheSize),
	}

	hdr, err := store.Header(db)
	if err != nil {
		return nil, err
	}
	if isZero(hdr) {
		// Fresh tree: allocate an empty root leaf.
		t.nextID = 1
		t.rootID = PageID(t.nextID)
		t.nextID++
		root := &leaf{id: t.rootID}
		if err := store.Update(func(tx kvstore.Tx) error {
			b, err := tx.CreateBucketIfNotExists(db)
			if err != nil {
				return err
			}
			return b.Put(t.rootID.leafKey(), encodeLeaf(root))
		}); err != nil {
			return nil, err
		}
		if err := t.saveHeader(); err != nil {
			return nil, err
		}
		return t, nil
	}

	root, nextID, uniq, err := decodeHeader(hdr)
	if err != nil {
		return nil, err
	}
	t.rootID = root
	t.nextID = nextID
	t.unique = uniq
	return t, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (t *Tree) saveHeader() error {
	buf := make([]byte, 0, kvstore.MinHeaderSize)
	buf = append(buf, headerMagic...)
	var tmp [8]byte
	putU64(tmp[:], uint64(t.rootID))
	buf = append(buf, tmp[:]...)
	putU64(tmp[:], t.nextID)
	buf = append(buf, tmp[:]...)
	if t.unique {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	name := t.cmp.Name()
	buf = append(buf, byte(len(name)))
	buf = append(buf, name...)
	return t.store.SetHeader(t.db, buf)
}

func decodeHeader(hdr []byte) (root PageID, nextID uint64, unique bool, err error) {
	if len(hdr) < len(headerMagic)+8+8+1+1 || string(hdr[:len(headerMagic)]) != headerMagic {
		return 0, 0, false, fmt.Errorf("%w: bad header", ErrCorruptPage)
	}
	p := len(headerMagic)
	root = PageID(getU64(hdr[p:]))
	p += 8
	nextID = getU64(hdr[p:])
	p += 8
	unique = hdr[p] != 0
	return root, nextID, unique, nil
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// Clock returns the tree's current structural-change counter, for
// cursor staleness checks.
func (t *Tree) Clock() uint64 { return atomic.LoadUint64(&t.clock) }

func (t *Tree) bumpClock() { atomic.AddUint64(&t.clock, 1) }

// txCtx carries the page loads/writes of one structural operation so
// that every touched page is flushed exactly once, at the end of the
// enclosing kvstore transaction.
type txCtx struct {
	tree    *Tree
	bucket  kvstore.Bucket
	dirtyL  map[PageID]*leaf
	dirtyN  map[PageID]*node
	deleted map[PageID]bool // page ids removed this tx (either kind)
}

func (t *Tree) newTxCtx(b kvstore.Bucket) *txCtx {
	return &txCtx{tree: t, bucket: b, dirtyL: map[PageID]*leaf{}, dirtyN: map[PageID]*node{}, deleted: map[PageID]bool{}}
}

func (c *txCtx) loadLeaf(id PageID) (*leaf, error) {
	if l, ok := c.dirtyL[id]; ok {
		return l, nil
	}
	if l, ok := c.tree.leaves.get(id); ok {
		return l, nil
	}
	raw := c.bucket.Get(id.leafKey())
	if raw == nil {
		return nil, fmt.Errorf("%w: missing leaf %d", ErrCorruptPage, id)
	}
	l, err := decodeLeaf(id, raw)
	if err != nil {
		return nil, err
	}
	c.tree.leaves.put(id, l)
	return l, nil
}

func (c *txCtx) loadNode(id PageID) (*node, error) {
	if n, ok := c.dirtyN[id]; ok {
		return n, nil
	}
	if n, ok := c.tree.nodes.get(id); ok {
		return n, nil
	}
	raw := c.bucket.Get(id.nodeKey())
	if raw == nil {
		return nil, fmt.Errorf("%w: missing node %d", ErrCorruptPage, id)
	}
	n, err := decodeNode(id, raw)
	if err != nil {
		return nil, err
	}
	c.tree.nodes.put(id, n)
	return n, nil
}

func (c *txCtx) putLeaf(l *leaf) { c.dirtyL[l.id] = l; c.tree.leaves.put(l.id, l) }
func (c *txCtx) putNode(n *node) { c.dirtyN[n.id] = n; c.tree.nodes.put(n.id, n) }

func (c *txCtx) deleteLeaf(id PageID) {
	delete(c.dirtyL, id)
	c.tree.leaves.delete(id)
	c.deleted[id] = true
}

func (c *txCtx) deleteNode(id PageID) {
	delete(c.dirtyN, id)
	c.tree.nodes.delete(id)
	c.deleted[id] = true
}

func (c *txCtx) allocLeafID() PageID {
	id := PageID(c.tree.nextID)
	c.tree.nextID++
	return id
}

func (c *txCtx) allocNodeID() PageID {
	id := PageID(c.tree.nextID)
	c.tree.nextID++
	return id
}

// flush writes every dirty page and removes every deleted page from
// the bucket, at the end of one structural operation.
func (c *txCtx) flush() error {
	for id, l := range c.dirtyL {
		if c.deleted[id] {
			continue
		}
		if err := c.bucket.Put(id.leafKey(), encodeLeaf(l)); err != nil {
			return err
		}
	}
	for id, n := range c.dirtyN {
		if c.deleted[id] {
			continue
		}
		if err := c.bucket.Put(id.nodeKey(), encodeNode(n)); err != nil {
			return err
		}
	}
	for id := range c.deleted {
		if err := c.bucket.Delete(id.leafKey()); err != nil {
			return err
		}
		if err := c.bucket.Delete(id.nodeKey()); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tree) mutate(fn func(c *txCtx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	err := t.store.Update(func(tx kvstore.Tx) error {
		b, err := tx.CreateBucketIfNotExists(t.db)
		if err != nil {
			return err
		}
		c := t.newTxCtx(b)
		if err := fn(c); err != nil {
			return err
		}
		return c.flush()
	})
	if err != nil {
		return err
	}
	return t.saveHeader()
}

func (t *Tree) read(fn func(c *txCtx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.View(func(tx kvstore.Tx) error {
		b := tx.Bucket(t.db)
		if b == nil {
			return fmt.Errorf("%w: missing database", ErrCorruptPage)
		}
		c := t.newTxCtx(b)
		return fn(c)
	})
}

// findLeaf descends from root to the leaf that would hold key,
// recording the path of node ids walked (for split/merge propagation).
func (c *txCtx) findLeaf(key []byte) (*leaf, []PageID, error) {
	var path []PageID
	id := c.tree.rootID
	for {
		if isNodeLoaded, _ := c.maybeNode(id); !isNodeLoaded {
			l, err := c.loadLeaf(id)
			return l, path, err
		}
		n, err := c.loadNode(id)
		if err != nil {
			return nil, nil, err
		}
		path = append(path, id)
		id = c.childFor(n, key)
	}
}

// maybeNode reports whether id currently names a node page (vs a
// leaf), without erroring if it's actually a leaf.
func (c *txCtx) maybeNode(id PageID) (bool, error) {
	if _, ok := c.dirtyN[id]; ok {
		return true, nil
	}
	if _, ok := c.tree.nodes.get(id); ok {
		return true, nil
	}
	if _, ok := c.dirtyL[id]; ok {
		return false, nil
	}
	if _, ok := c.tree.leaves.get(id); ok {
		return false, nil
	}
	if raw := c.bucket.Get(id.nodeKey()); raw != nil {
		return true, nil
	}
	return false, nil
}

func (c *txCtx) childFor(n *node, key []byte) PageID {
	child := n.heir
	for _, e := range n.entries {
		if c.tree.cmp.Compare(key, e.key) >= 0 {
			child = e.child
		} else {
			break
		}
	}
	return child
}

// locate finds the record index for key within l, or the insertion
// point if absent.
func locateIn(cmp Comparator, l *leaf, key []byte) (idx int, found bool) {
	lo, hi := 0, len(l.records)
	for lo < hi {
		mid := (lo + hi) / 2
		c := cmp.Compare(l.records[mid].key, key)
		switch {
		case c < 0:
			lo = mid + 1
		case c > 0:
			hi = mid
		default:
			return mid, true
		}
	}
	return lo, false
}

// Put sets key's sole value to value. On a non-unique tree an existing
// record for key is overwritten, its duplicate values included; on a
// unique tree an existing key is refused with ErrUniqueViolation.
func (t *Tree) Put(key, value []byte) error {
	return t.mutate(func(c *txCtx) error {
		l, path, err := c.findLeaf(key)
		if err != nil {
			return err
		}
		idx, found := locateIn(t.cmp, l, key)
		if found {
			if t.unique {
				return ErrUniqueViolation
			}
			l.records[idx] = record{key: append([]byte(nil), key...), value: append([]byte(nil), value...)}
			c.putLeaf(l)
			return nil
		}
		rec := record{key: append([]byte(nil), key...), value: append([]byte(nil), value...)}
		insertRecord(l, idx, rec)
		c.putLeaf(l)
		return c.tree.splitIfNeeded(c, l, path)
	})
}

// PutDup adds value as an additional value for key, appended after any
// values already present (insertion order preserved).
func (t *Tree) PutDup(key, value []byte) error {
	return t.putDup(key, value, true)
}

// PutDupBack inserts value as the new primary value for key, pushing
// any existing value(s) back in the duplicate list.
func (t *Tree) PutDupBack(key, value []byte) error {
	return t.putDup(key, value, false)
}

func (t *Tree) putDup(key, value []byte, append_ bool) error {
	return t.mutate(func(c *txCtx) error {
		l, path, err := c.findLeaf(key)
		if err != nil {
			return err
		}
		idx, found := locateIn(t.cmp, l, key)
		v := append([]byte(nil), value...)
		if found {
			r := &l.records[idx]
			if append_ {
				r.rest = append(r.rest, v)
			} else {
				r.rest = append([][]byte{r.value}, r.rest...)
				r.value = v
			}
			c.putLeaf(l)
			return nil
		}
		rec := record{key: append([]byte(nil), key...), value: v}
		insertRecord(l, idx, rec)
		c.putLeaf(l)
		return c.tree.splitIfNeeded(c, l, path)
	})
}

func insertRecord(l *leaf, idx int, rec record) {
	l.records = append(l.records, record{})
	copy(l.records[idx+1:], l.records[idx:])
	l.records[idx] = rec
}

// Get returns every value stored for key (primary then rest, in
// order), or ok=false if key is absent.
func (t *Tree) Get(key []byte) (values [][]byte, ok bool, err error) {
	err = t.read(func(c *txCtx) error {
		l, _, ferr := c.findLeaf(key)
		if ferr != nil {
			return ferr
		}
		idx, found := locateIn(t.cmp, l, key)
		if !found {
			return nil
		}
		ok = true
		r := l.records[idx]
		values = append(values, r.value)
		values = append(values, r.rest...)
		return nil
	})
	return values, ok, err
}

// Del removes key and every value stored for it.
func (t *Tree) Del(key []byte) error {
	return t.mutate(func(c *txCtx) error {
		l, path, err := c.findLeaf(key)
		if err != nil {
			return err
		}
		idx, found := locateIn(t.cmp, l, key)
		if !found {
			return ErrNotFound
		}
		l.records = append(l.records[:idx], l.records[idx+1:]...)
		c.putLeaf(l)
		return c.tree.collapseIfEmpty(c, l, path)
	})
}

// DelKV removes exactly one value (matched by equality) from key's
// duplicate list, leaving any others intact.
func (t *Tree) DelKV(key, value []byte) error {
	return t.mutate(func(c *txCtx) error {
		l, path, err := c.findLeaf(key)
		if err != nil {
			return err
		}
		idx, found := locateIn(t.cmp, l, key)
		if !found {
			return ErrNotFound
		}
		r := &l.records[idx]
		if bytes.Equal(r.value, value) {
			if len(r.rest) > 0 {
				r.value = r.rest[0]
				r.rest = r.rest[1:]
				c.putLeaf(l)
				return nil
			}
			l.records = append(l.records[:idx], l.records[idx+1:]...)
			c.putLeaf(l)
			return c.tree.collapseIfEmpty(c, l, path)
		}
		for i, rv := range r.rest {
			if bytes.Equal(rv, value) {
				r.rest = append(r.rest[:i], r.rest[i+1:]...)
				c.putLeaf(l)
				return nil
			}
		}
		return ErrNotFound
	})
}

// Cardinality counts the total number of (key, value) pairs in the
// tree, walking the leaf sibling chain once.
func (t *Tree) Cardinality() (int, error) {
	count := 0
	err := t.read(func(c *txCtx) error {
		id := c.tree.firstLeafID(c)
		for id != 0 {
			l, err := c.loadLeaf(id)
			if err != nil {
				return err
			}
			for _, r := range l.records {
				count += 1 + len(r.rest)
			}
			id = l.next
		}
		return nil
	})
	return count, err
}

func (t *Tree) lastLeafID(c *txCtx) (PageID, error) {
	id := t.rootID
	for {
		isNode, err := c.maybeNode(id)
		if err != nil {
			return 0, err
		}
		if !isNode {
			return id, nil
		}
		n, err := c.loadNode(id)
		if err != nil {
			return 0, err
		}
		if len(n.entries) == 0 {
			id = n.heir
			continue
		}
		id = n.entries[len(n.entries)-1].child
	}
}

func (t *Tree) firstLeafID(c *txCtx) PageID {
	id := t.rootID
	for {
		isNode, _ := c.maybeNode(id)
		if !isNode {
			return id
		}
		n, err := c.loadNode(id)
		if err != nil {
			return 0
		}
		if len(n.entries) == 0 {
			id = n.heir
			continue
		}
		id = n.heir
	}
}
