package embeddb

import (
	"bytes"
	"errors"
	"fmt"

	"embeddb/internal/bdoc"
	"embeddb/internal/btree"
	"embeddb/internal/collection"
	"embeddb/internal/kvstore"
	"embeddb/internal/patch"
)

var errDocNotFound = errors.New("embeddb: document not found")

// Put writes doc into collName, assigning a fresh monotonic id when id
// is 0, or overwriting the document already at id otherwise. The
// collection is created first if it does not already exist. A UNIQUE
// index violation leaves the primary document and every index
// unchanged.
func (e *Engine) Put(collName string, doc *bdoc.Node, id uint64) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen("put"); err != nil {
		return 0, err
	}
	coll, err := e.registry.EnsureCollection(collName)
	if err != nil {
		return 0, wrapCollErr("put", err)
	}

	coll.Lock()
	defer coll.Unlock()

	if id == 0 {
		id = coll.NextID()
	}
	docKey := collection.DocKey(id)

	var oldDoc *bdoc.Node
	err = e.store.View(func(tx kvstore.Tx) error {
		b := tx.Bucket(coll.DBID)
		if b == nil {
			return nil
		}
		raw := b.Get(docKey)
		if raw == nil {
			return nil
		}
		var perr error
		oldDoc, perr = bdoc.Parse(bdoc.Doc(raw))
		return perr
	})
	if err != nil {
		return 0, newErr("put", KindCorrupt, err)
	}

	// Every index's Tree.Get opens its own kvstore transaction, so the
	// uniqueness precheck must finish before the write transaction
	// below starts: btree.Tree's methods cannot nest inside an
	// already-open transaction on this goroutine.
	for _, idx := range coll.IndexesLocked() {
		newKey, ok := indexKeyOf(doc, idx)
		if !ok || !idx.Mode.Unique() {
			continue
		}
		if !idx.MaybeContains(newKey) {
			continue
		}
		vals, found, gerr := idx.Tree.Get(newKey)
		if gerr != nil {
			return 0, newErr("put", KindIO, gerr)
		}
		if found && !(len(vals) == 1 && bytes.Equal(vals[0], docKey)) {
			return 0, newErr("put", KindUniqueViolation, fmt.Errorf("index %s", idx.Path))
		}
	}

	packed, err := bdoc.Serialize(doc)
	if err != nil {
		return 0, newErr("put", KindInvalidArgument, err)
	}
	err = e.store.Update(func(tx kvstore.Tx) error {
		b, err := tx.CreateBucketIfNotExists(coll.DBID)
		if err != nil {
			return err
		}
		return b.Put(docKey, []byte(packed))
	})
	if err != nil {
		return 0, newErr("put", KindIO, err)
	}

	if err := reindex(coll, docKey, oldDoc, doc); err != nil {
		return 0, newErr("put", KindIO, err)
	}
	return id, nil
}

// Get returns the document at id in collName.
func (e *Engine) Get(collName string, id uint64) (*bdoc.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen("get"); err != nil {
		return nil, err
	}
	coll, ok := e.registry.Get(collName)
	if !ok {
		return nil, newErr("get", KindNotFound, collection.ErrNotFound)
	}
	coll.RLock()
	defer coll.RUnlock()

	var raw []byte
	err := e.store.View(func(tx kvstore.Tx) error {
		b := tx.Bucket(coll.DBID)
		if b == nil {
			return nil
		}
		raw = b.Get(collection.DocKey(id))
		return nil
	})
	if err != nil {
		return nil, newErr("get", KindIO, err)
	}
	if raw == nil {
		return nil, newErr("get", KindNotFound, errDocNotFound)
	}
	doc, err := bdoc.Parse(bdoc.Doc(raw))
	if err != nil {
		return nil, newErr("get", KindCorrupt, err)
	}
	return doc, nil
}

// Del removes the document at id in collName and its index entries.
func (e *Engine) Del(collName string, id uint64) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen("del"); err != nil {
		return err
	}
	coll, ok := e.registry.Get(collName)
	if !ok {
		return newErr("del", KindNotFound, collection.ErrNotFound)
	}
	coll.Lock()
	defer coll.Unlock()

	docKey := collection.DocKey(id)
	var oldDoc *bdoc.Node
	err := e.store.Update(func(tx kvstore.Tx) error {
		b := tx.Bucket(coll.DBID)
		if b == nil {
			return errDocNotFound
		}
		raw := b.Get(docKey)
		if raw == nil {
			return errDocNotFound
		}
		var perr error
		oldDoc, perr = bdoc.Parse(bdoc.Doc(raw))
		if perr != nil {
			return perr
		}
		return b.Delete(docKey)
	})
	if errors.Is(err, errDocNotFound) {
		return newErr("del", KindNotFound, errDocNotFound)
	}
	if err != nil {
		return newErr("del", KindIO, err)
	}
	if err := reindex(coll, docKey, oldDoc, nil); err != nil {
		return newErr("del", KindIO, err)
	}
	return nil
}

// Patch applies an RFC 6902 JSON Patch document to the document at id
// in collName and writes the result back, maintaining indexes.
func (e *Engine) Patch(collName string, id uint64, patchDoc *bdoc.Node) error {
	ops, err := patch.ParseOps(patchDoc)
	if err != nil {
		return newErr("patch", patchErrKind(err), err)
	}
	return e.mutate(collName, id, "patch", func(doc *bdoc.Node) (*bdoc.Node, error) {
		out, err := patch.Apply(doc, ops)
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// MergeOrPut applies an RFC 7396 JSON Merge Patch to the document at
// id in collName (creating it first, as an empty object, if absent),
// writing the result back and maintaining indexes.
func (e *Engine) MergeOrPut(collName string, id uint64, mergeDoc *bdoc.Node) error {
	return e.mutate(collName, id, "merge_or_put", func(doc *bdoc.Node) (*bdoc.Node, error) {
		if doc == nil {
			doc = bdoc.NewObject()
		}
		return patch.MergePatch(doc, mergeDoc), nil
	})
}

// mutate is the shared read-modify-write path for Patch/MergeOrPut:
// read the current document (errDocNotFound if Patch requires one and
// it is missing), apply fn, write the result back, and reindex.
func (e *Engine) mutate(collName string, id uint64, op string, fn func(*bdoc.Node) (*bdoc.Node, error)) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(op); err != nil {
		return err
	}
	coll, ok := e.registry.Get(collName)
	if !ok {
		return newErr(op, KindNotFound, collection.ErrNotFound)
	}
	coll.Lock()
	defer coll.Unlock()

	docKey := collection.DocKey(id)
	var oldDoc, newDoc *bdoc.Node
	var fnErr error
	err := e.store.Update(func(tx kvstore.Tx) error {
		b, err := tx.CreateBucketIfNotExists(coll.DBID)
		if err != nil {
			return err
		}
		raw := b.Get(docKey)
		if raw != nil {
			oldDoc, err = bdoc.Parse(bdoc.Doc(raw))
			if err != nil {
				return err
			}
		} else if op == "patch" {
			return errDocNotFound
		}
		newDoc, fnErr = fn(oldDoc)
		if fnErr != nil {
			return fnErr
		}
		packed, err := bdoc.Serialize(newDoc)
		if err != nil {
			return err
		}
		return b.Put(docKey, []byte(packed))
	})
	if errors.Is(err, errDocNotFound) {
		return newErr(op, KindNotFound, errDocNotFound)
	}
	if fnErr != nil {
		return newErr(op, patchErrKind(fnErr), fnErr)
	}
	if err != nil {
		return newErr(op, KindIO, err)
	}
	if err := reindex(coll, docKey, oldDoc, newDoc); err != nil {
		return newErr(op, KindIO, err)
	}
	return nil
}

func patchErrKind(err error) ErrKind {
	switch {
	case errors.Is(err, patch.ErrParse):
		return KindPatchParse
	case errors.Is(err, patch.ErrTargetInvalid):
		return KindPatchTargetInvalid
	case errors.Is(err, patch.ErrTestFailed):
		return KindPatchTestFailed
	case errors.Is(err, patch.ErrInvalidValue):
		return KindPatchInvalidValue
	default:
		return KindInvalidArgument
	}
}

// indexKeyOf resolves idx's path against doc and encodes it into the
// index's sortable key form, or reports ok=false for a sparse miss.
func indexKeyOf(doc *bdoc.Node, idx *collection.IndexDescriptor) ([]byte, bool) {
	if doc == nil {
		return nil, false
	}
	ptr, err := bdoc.ParsePointer("/" + idx.Path)
	if err != nil {
		return nil, false
	}
	v, ok := bdoc.ResolveNode(doc, ptr)
	if !ok {
		return nil, false
	}
	return collection.EncodeIndexKey(idx.Mode, v)
}

// reindex brings every index on coll in line with one document's
// before/after state (before nil: newly inserted; after nil: deleted),
// mirroring internal/query/exec.go's reindexOne. Called after the
// document write transaction has committed: btree.Tree's
// Put/PutDup/Del/DelKV each open their own transaction and must never
// run from inside one.
func reindex(coll *collection.Collection, docKey []byte, before, after *bdoc.Node) error {
	for _, idx := range coll.IndexesLocked() {
		oldKey, oldOK := indexKeyOf(before, idx)
		newKey, newOK := indexKeyOf(after, idx)
		if oldOK && newOK && bytes.Equal(oldKey, newKey) {
			continue
		}
		if oldOK {
			var err error
			if idx.Mode.Unique() {
				err = idx.Tree.Del(oldKey)
			} else {
				err = idx.Tree.DelKV(oldKey, docKey)
			}
			if err != nil && err != btree.ErrNotFound {
				return err
			}
		}
		if newOK {
			var err error
			if idx.Mode.Unique() {
				err = idx.Tree.Put(newKey, docKey)
			} else {
				err = idx.Tree.PutDup(newKey, docKey)
			}
			if err != nil {
				return err
			}
			idx.BloomAdd(newKey)
		}
	}
	return nil
}
