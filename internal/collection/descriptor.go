// Package collection implements the collection/index metadata registry:
// a single metadata database (well-known KV database id 1) holding a
// packed record per collection, loaded at open time into an in-memory
// registry keyed by name.
package collection

import (
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"

	"embeddb/internal/bdoc"
	"embeddb/internal/btree"
	"embeddb/internal/kvstore"
)

// IndexMode is a bitmask: one comparator-kind bit plus an optional
// Unique bit, the mode argument of ensure_index.
type IndexMode uint8

const (
	ModeString IndexMode = 1 << iota
	ModeI64
	ModeDecimal
	ModeUnique
)

func (m IndexMode) comparatorKind() IndexMode { return m &^ ModeUnique }

func (m IndexMode) comparator() btree.Comparator {
	switch m.comparatorKind() {
	case ModeI64:
		return btree.SignedInt
	case ModeDecimal:
		return btree.Decimal
	default:
		return btree.Lex
	}
}

// Unique reports whether mode requests a unique index.
func (m IndexMode) Unique() bool { return m&ModeUnique != 0 }

func (m IndexMode) String() string {
	s := "string"
	switch m.comparatorKind() {
	case ModeI64:
		s = "i64"
	case ModeDecimal:
		s = "decimal"
	}
	if m.Unique() {
		s += "|unique"
	}
	return s
}

// IndexDescriptor describes one index on a collection.
type IndexDescriptor struct {
	Path string
	Mode IndexMode
	DBID kvstore.DB
	Tree *btree.Tree

	// filter accelerates UNIQUE index lookups: a negative probe proves
	// the key is absent without touching the B+ tree at all. Generalized
	// from the teacher's BloomFilterManager (one filter per collection)
	// to one filter per UNIQUE index. nil for non-unique indexes, which
	// have no uniqueness check to accelerate.
	filter *bloom.BloomFilter
}

// Rnum returns the index's record cardinality.
func (d *IndexDescriptor) Rnum() (int, error) {
	if d.Tree == nil {
		return 0, nil
	}
	return d.Tree.Cardinality()
}

// MaybeContains reports whether key might already be present in a
// UNIQUE index. A non-unique index, or one whose filter has not been
// built yet, always answers true (fall through to the real lookup).
func (d *IndexDescriptor) MaybeContains(key []byte) bool {
	if d.filter == nil {
		return true
	}
	return d.filter.Test(key)
}

// BloomAdd records key as present, for a UNIQUE index's filter. A
// no-op on a non-unique index.
func (d *IndexDescriptor) BloomAdd(key []byte) {
	if d.filter != nil {
		d.filter.Add(key)
	}
}

// rebuildBloom replaces d's filter (if d.Mode is UNIQUE) with one sized
// for n entries and pre-populated from keys, mirroring bloom.go's
// Rebuild: clear, then repopulate from a fresh scan rather than trying
// to patch the existing filter (bloom filters do not support removal).
func (d *IndexDescriptor) rebuildBloom(keys [][]byte) {
	if !d.Mode.Unique() {
		d.filter = nil
		return
	}
	d.filter = bloom.NewWithEstimates(uint(len(keys))+1000, 0.01)
	for _, k := range keys {
		d.filter.Add(k)
	}
}

func marshalDescriptor(coll *Collection) *bdoc.Node {
	n := bdoc.NewObject()
	n.Set("name", bdoc.NewString(coll.Name))
	n.Set("kv_db_id", bdoc.NewU64(uint64(coll.DBID)))
	n.Set("id_seed", bdoc.NewU64(coll.idSeed()))
	idxArr := bdoc.NewArray()
	for _, idx := range coll.indexes() {
		e := bdoc.NewObject()
		e.Set("path", bdoc.NewString(idx.Path))
		e.Set("mode", bdoc.NewI64(int64(idx.Mode)))
		e.Set("db_id", bdoc.NewU64(uint64(idx.DBID)))
		idxArr.Append(e)
	}
	n.Set("indexes", idxArr)
	return n
}

func unmarshalDescriptor(n *bdoc.Node) (name string, dbID kvstore.DB, idSeed uint64, idxs []rawIndex, err error) {
	nameNode, ok := n.Get("name")
	if !ok {
		return "", 0, 0, nil, fmt.Errorf("collection: metadata record missing name")
	}
	name = nameNode.String()
	if dbNode, ok := n.Get("kv_db_id"); ok {
		dbID = kvstore.DB(dbNode.Uint64())
	}
	if seedNode, ok := n.Get("id_seed"); ok {
		idSeed = seedNode.Uint64()
	}
	if arr, ok := n.Get("indexes"); ok {
		for _, e := range arr.Items() {
			var ri rawIndex
			if p, ok := e.Get("path"); ok {
				ri.path = p.String()
			}
			if m, ok := e.Get("mode"); ok {
				ri.mode = IndexMode(m.Int64())
			}
			if d, ok := e.Get("db_id"); ok {
				ri.dbID = kvstore.DB(d.Uint64())
			}
			idxs = append(idxs, ri)
		}
	}
	return name, dbID, idSeed, idxs, nil
}

type rawIndex struct {
	path string
	mode IndexMode
	dbID kvstore.DB
}
