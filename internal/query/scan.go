package query

import (
	"bytes"

	"embeddb/internal/collection"
	"embeddb/internal/jql"
	"embeddb/internal/kvstore"
)

// candidateIDs enumerates, once, the ordered set of document ids a
// plan's pass will visit: either a bounded walk of plan.Index or a
// full scan of the collection's primary database in id order. Built
// before any mutation starts, so apply/del never revisits or skips a
// document that was part of the original match set.
func candidateIDs(store kvstore.Store, coll *collection.Collection, plan *Plan) ([]uint64, error) {
	var ids []uint64
	var err error
	if plan.Index != nil && plan.IndexExpr != nil {
		ids, err = indexCandidateIDs(plan.Index, plan.IndexExpr)
	} else {
		ids, err = fullScanIDs(store, coll)
	}
	if err != nil {
		return nil, err
	}
	if plan.Inverse {
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
	}
	return ids, nil
}

func fullScanIDs(store kvstore.Store, coll *collection.Collection) ([]uint64, error) {
	var ids []uint64
	err := store.View(func(tx kvstore.Tx) error {
		b := tx.Bucket(coll.DBID)
		if b == nil {
			return nil
		}
		cur := b.Cursor()
		k, _ := cur.First()
		for k != nil {
			if id, ok := collection.DocID(k); ok {
				ids = append(ids, id)
			}
			k, _ = cur.Next()
		}
		return nil
	})
	return ids, err
}

func indexCandidateIDs(idx *collection.IndexDescriptor, e *jql.Expr) ([]uint64, error) {
	switch e.Op {
	case jql.OpEq:
		key, ok := collection.EncodeIndexKey(idx.Mode, literalToNode(e.Value))
		if !ok {
			return nil, nil
		}
		return walkEqual(idx, key)
	case jql.OpIn:
		seen := make(map[uint64]bool)
		var ids []uint64
		for _, item := range e.Value.Items {
			key, ok := collection.EncodeIndexKey(idx.Mode, literalToNode(item))
			if !ok {
				continue
			}
			sub, err := walkEqual(idx, key)
			if err != nil {
				return nil, err
			}
			for _, id := range sub {
				if !seen[id] {
					seen[id] = true
					ids = append(ids, id)
				}
			}
		}
		return ids, nil
	case jql.OpGt, jql.OpGe:
		bound, ok := collection.EncodeIndexKey(idx.Mode, literalToNode(e.Value))
		if !ok {
			return nil, nil
		}
		return walkFromBound(idx, bound, e.Op == jql.OpGt)
	case jql.OpLt, jql.OpLe:
		bound, ok := collection.EncodeIndexKey(idx.Mode, literalToNode(e.Value))
		if !ok {
			return nil, nil
		}
		return walkUpTo(idx, bound, e.Op == jql.OpLe)
	case jql.OpLike:
		prefix, ok := likePrefix(e.Value.Str)
		if !ok {
			return nil, nil
		}
		return walkPrefix(idx, []byte(prefix))
	default:
		return nil, nil
	}
}

func walkEqual(idx *collection.IndexDescriptor, key []byte) ([]uint64, error) {
	cur, err := idx.Tree.CursorJumpFwd(key)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	k, v, ok := cur.Record()
	for ok && bytes.Equal(k, key) {
		if id, idOK := collection.DocID(v); idOK {
			ids = append(ids, id)
		}
		if !cur.Next() {
			break
		}
		k, v, ok = cur.Record()
	}
	return ids, nil
}

// walkFromBound walks forward from the first key >= bound to the end
// of the index, skipping entries equal to bound when strict is set
// (a '>' bound rather than '>=').
func walkFromBound(idx *collection.IndexDescriptor, bound []byte, strict bool) ([]uint64, error) {
	cur, err := idx.Tree.CursorJumpFwd(bound)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	k, v, ok := cur.Record()
	for ok {
		if strict && collection.CompareIndexKeys(idx.Mode, k, bound) == 0 {
			if !cur.Next() {
				break
			}
			k, v, ok = cur.Record()
			continue
		}
		if id, idOK := collection.DocID(v); idOK {
			ids = append(ids, id)
		}
		if !cur.Next() {
			break
		}
		k, v, ok = cur.Record()
	}
	return ids, nil
}

// walkUpTo walks forward from the start of the index until bound,
// inclusive when inclusive is set (a '<=' bound rather than '<').
func walkUpTo(idx *collection.IndexDescriptor, bound []byte, inclusive bool) ([]uint64, error) {
	cur, err := idx.Tree.CursorFirst()
	if err != nil {
		return nil, err
	}
	var ids []uint64
	k, v, ok := cur.Record()
	for ok {
		cmp := collection.CompareIndexKeys(idx.Mode, k, bound)
		if cmp > 0 || (cmp == 0 && !inclusive) {
			break
		}
		if id, idOK := collection.DocID(v); idOK {
			ids = append(ids, id)
		}
		if !cur.Next() {
			break
		}
		k, v, ok = cur.Record()
	}
	return ids, nil
}

func walkPrefix(idx *collection.IndexDescriptor, prefix []byte) ([]uint64, error) {
	cur, err := idx.Tree.CursorJumpFwd(prefix)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	k, v, ok := cur.Record()
	for ok && bytes.HasPrefix(k, prefix) {
		if id, idOK := collection.DocID(v); idOK {
			ids = append(ids, id)
		}
		if !cur.Next() {
			break
		}
		k, v, ok = cur.Record()
	}
	return ids, nil
}
