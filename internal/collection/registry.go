package collection

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"embeddb/internal/bdoc"
	"embeddb/internal/btree"
	"embeddb/internal/kvstore"
)

var (
	ErrExists           = errors.New("collection: exists")
	ErrNotFound         = errors.New("collection: not_found")
	ErrInvalidName      = errors.New("collection: invalid_name")
	ErrMismatchedUnique = errors.New("collection: mismatched_unique")
	ErrInvalidMode      = errors.New("collection: invalid_mode")
)

// Registry is the process-wide (per engine handle) collection name →
// descriptor map. It is a field of the engine struct rather than a
// package-level singleton, so multiple open engines never share state.
type Registry struct {
	store kvstore.Store

	mu     sync.RWMutex // registry lock: protects byName
	byName map[string]*Collection

	nextDB uint32 // atomic allocator for collection/index database ids
}

// Load opens store's metadata database (kvstore.MetaDB) and populates
// an in-memory registry from its packed per-collection records,
// opening each collection's indexes as it goes.
func Load(store kvstore.Store) (*Registry, error) {
	r := &Registry{store: store, byName: map[string]*Collection{}, nextDB: uint32(kvstore.MetaDB)}

	var records [][]byte
	err := store.View(func(tx kvstore.Tx) error {
		b := tx.Bucket(kvstore.MetaDB)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			records = append(records, append([]byte(nil), v...))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, raw := range records {
		n, err := bdoc.Parse(bdoc.Doc(raw))
		if err != nil {
			return nil, fmt.Errorf("collection: corrupt metadata record: %w", err)
		}
		name, dbID, idSeed, idxs, err := unmarshalDescriptor(n)
		if err != nil {
			return nil, err
		}
		coll := &Collection{Name: name, DBID: dbID, seed: idSeed}
		r.bumpNextDB(uint32(dbID))
		if err := store.View(func(tx kvstore.Tx) error {
			b := tx.Bucket(dbID)
			if b == nil {
				return nil
			}
			k, _ := b.Cursor().Last()
			if id, ok := DocID(k); ok {
				coll.SetIDSeedFloor(id)
			}
			return nil
		}); err != nil {
			return nil, err
		}
		for _, ri := range idxs {
			tree, err := btree.Open(store, ri.dbID, ri.mode.comparator(), ri.mode.Unique(), btree.Options{})
			if err != nil {
				return nil, fmt.Errorf("collection: open index %s/%s: %w", name, ri.path, err)
			}
			idx := &IndexDescriptor{Path: ri.path, Mode: ri.mode, DBID: ri.dbID, Tree: tree}
			if ri.mode.Unique() {
				keys, err := collectKeys(tree)
				if err != nil {
					return nil, fmt.Errorf("collection: prime bloom filter %s/%s: %w", name, ri.path, err)
				}
				idx.rebuildBloom(keys)
			}
			coll.addIndex(idx)
			r.bumpNextDB(uint32(ri.dbID))
		}
		r.byName[name] = coll
	}
	return r, nil
}

// collectKeys walks tree with a read-only cursor and returns every
// key, for priming a freshly-opened UNIQUE index's bloom filter.
func collectKeys(tree *btree.Tree) ([][]byte, error) {
	cur, err := tree.CursorFirst()
	if err != nil {
		return nil, err
	}
	var keys [][]byte
	for {
		k, _, ok := cur.Record()
		if !ok {
			break
		}
		keys = append(keys, append([]byte(nil), k...))
		if !cur.Next() {
			break
		}
	}
	return keys, nil
}

func (r *Registry) bumpNextDB(seen uint32) {
	for {
		cur := atomic.LoadUint32(&r.nextDB)
		if seen < cur {
			return
		}
		if atomic.CompareAndSwapUint32(&r.nextDB, cur, seen+1) {
			return
		}
	}
}

func (r *Registry) allocDB() kvstore.DB {
	return kvstore.DB(atomic.AddUint32(&r.nextDB, 1))
}

// Get returns the named collection, if it exists.
func (r *Registry) Get(name string) (*Collection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// All returns a snapshot of every collection in the registry.
func (r *Registry) All() []*Collection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Collection, 0, len(r.byName))
	for _, c := range r.byName {
		out = append(out, c)
	}
	return out
}

func validName(name string) bool { return name != "" }

// EnsureCollection returns the named collection, creating it (with a
// freshly allocated primary database) if it does not already exist.
// A second call with the same name is a no-op.
func (r *Registry) EnsureCollection(name string) (*Collection, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byName[name]; ok {
		return c, nil
	}
	coll := &Collection{Name: name, DBID: r.allocDB()}
	if err := r.persist(coll); err != nil {
		return nil, err
	}
	r.byName[name] = coll
	return coll, nil
}

// RemoveCollection drops the named collection's metadata record, its
// primary database, and every index database. Idempotent: removing an
// unknown collection is not an error.
func (r *Registry) RemoveCollection(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	coll, ok := r.byName[name]
	if !ok {
		return nil
	}
	err := r.store.Update(func(tx kvstore.Tx) error {
		if err := tx.DeleteBucket(coll.DBID); err != nil {
			return err
		}
		for _, idx := range coll.indexes() {
			if err := tx.DeleteBucket(idx.DBID); err != nil {
				return err
			}
		}
		b, err := tx.CreateBucketIfNotExists(kvstore.MetaDB)
		if err != nil {
			return err
		}
		return b.Delete([]byte(name))
	})
	if err != nil {
		return err
	}
	delete(r.byName, name)
	return nil
}

// RenameCollection renames a collection atomically: the registry entry
// is renamed and the metadata record rewritten within one KV
// transaction.
func (r *Registry) RenameCollection(oldName, newName string) error {
	if !validName(newName) {
		return ErrInvalidName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	coll, ok := r.byName[oldName]
	if !ok {
		return ErrNotFound
	}
	if _, exists := r.byName[newName]; exists {
		return ErrExists
	}
	coll.Name = newName
	if err := r.store.Update(func(tx kvstore.Tx) error {
		b, err := tx.CreateBucketIfNotExists(kvstore.MetaDB)
		if err != nil {
			return err
		}
		if err := b.Delete([]byte(oldName)); err != nil {
			return err
		}
		return b.Put([]byte(newName), bdocBytes(coll))
	}); err != nil {
		coll.Name = oldName
		return err
	}
	delete(r.byName, oldName)
	r.byName[newName] = coll
	return nil
}

// EnsureIndex creates (or returns, if already present with matching
// mode) an index on coll at path. Creating a new index triggers a full
// synchronous rebuild, scanning every document currently in the
// collection (grounded on the teacher's BloomFilterManager.Rebuild
// scan-and-repopulate pattern).
func (r *Registry) EnsureIndex(coll *Collection, path string, mode IndexMode) (*IndexDescriptor, error) {
	if path == "" {
		return nil, ErrInvalidMode
	}
	coll.Lock()
	defer coll.Unlock()
	if existing, ok := coll.IndexAt(path); ok {
		if existing.Mode != mode {
			return nil, ErrMismatchedUnique
		}
		return existing, nil
	}
	dbID := r.allocDB()
	tree, err := btree.Open(r.store, dbID, mode.comparator(), mode.Unique(), btree.Options{})
	if err != nil {
		return nil, err
	}
	idx := &IndexDescriptor{Path: path, Mode: mode, DBID: dbID, Tree: tree}
	if err := rebuildIndex(r.store, coll, idx); err != nil {
		return nil, err
	}
	coll.addIndex(idx)
	if err := r.persistLocked(coll); err != nil {
		_, _ = coll.removeIndex(path)
		return nil, err
	}
	return idx, nil
}

// rebuildIndex populates idx from every document currently in coll's
// primary database. Caller must hold coll.Lock.
//
// idx.Tree's Put/PutDup each open their own store transaction, so they
// can never run from inside the store.View scan below without nesting
// two transactions on one goroutine; the scan only collects entries,
// and the tree is populated afterward once the read transaction has
// closed (mirroring the same two-phase shape internal/query's executor
// uses for its own index maintenance, for the same reason).
func rebuildIndex(store kvstore.Store, coll *Collection, idx *IndexDescriptor) error {
	ptr, err := bdoc.ParsePointer("/" + idx.Path)
	if err != nil {
		return err
	}
	type entry struct{ key, docKey []byte }
	var entries []entry
	err = store.View(func(tx kvstore.Tx) error {
		b := tx.Bucket(coll.DBID)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			doc, err := bdoc.Parse(bdoc.Doc(v))
			if err != nil {
				return fmt.Errorf("collection: rebuild index %s: %w", idx.Path, err)
			}
			field, ok := bdoc.ResolveNode(doc, ptr)
			if !ok {
				continue
			}
			key, ok := EncodeIndexKey(idx.Mode, field)
			if !ok {
				continue
			}
			entries = append(entries, entry{key: key, docKey: append([]byte(nil), k...)})
		}
		return nil
	})
	if err != nil {
		return err
	}
	keys := make([][]byte, 0, len(entries))
	for _, e := range entries {
		if idx.Mode.Unique() {
			if err := idx.Tree.Put(e.key, e.docKey); err != nil {
				return err
			}
		} else if err := idx.Tree.PutDup(e.key, e.docKey); err != nil {
			return err
		}
		keys = append(keys, e.key)
	}
	idx.rebuildBloom(keys)
	return nil
}

// RemoveIndex drops the index at path on coll. Idempotent.
func (r *Registry) RemoveIndex(coll *Collection, path string) error {
	coll.Lock()
	defer coll.Unlock()
	idx, ok := coll.removeIndex(path)
	if !ok {
		return nil
	}
	if err := r.store.Update(func(tx kvstore.Tx) error {
		if err := tx.DeleteBucket(idx.DBID); err != nil {
			return err
		}
		b, err := tx.CreateBucketIfNotExists(kvstore.MetaDB)
		if err != nil {
			return err
		}
		return b.Put([]byte(coll.Name), bdocBytes(coll))
	}); err != nil {
		coll.addIndex(idx)
		return err
	}
	return nil
}

// persist writes coll's metadata record in its own transaction.
// Caller must hold r.mu (Lock).
func (r *Registry) persist(coll *Collection) error {
	return r.store.Update(func(tx kvstore.Tx) error {
		b, err := tx.CreateBucketIfNotExists(kvstore.MetaDB)
		if err != nil {
			return err
		}
		return b.Put([]byte(coll.Name), bdocBytes(coll))
	})
}

// persistLocked writes coll's metadata record; caller must hold
// coll.Lock (not r.mu) since this is invoked from EnsureIndex.
func (r *Registry) persistLocked(coll *Collection) error {
	return r.store.Update(func(tx kvstore.Tx) error {
		b, err := tx.CreateBucketIfNotExists(kvstore.MetaDB)
		if err != nil {
			return err
		}
		return b.Put([]byte(coll.Name), bdocBytes(coll))
	})
}

func bdocBytes(coll *Collection) []byte {
	doc, err := bdoc.Serialize(marshalDescriptor(coll))
	if err != nil {
		// marshalDescriptor only ever builds well-formed nodes; a
		// serialize failure here means memory corruption, not a
		// reachable runtime condition.
		panic(fmt.Sprintf("collection: marshal %s: %v", coll.Name, err))
	}
	return []byte(doc)
}
