package embeddb

import (
	"embeddb/internal/bdoc"
	"embeddb/internal/collection"
	"embeddb/internal/kvstore"
)

const engineVersion = "embeddb/1"

// GetMeta returns a BDOC document describing the open engine: its
// version string and, per collection, its name, record count, and
// index list (each index's path, mode, and cardinality).
func (e *Engine) GetMeta() (*bdoc.Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	meta := bdoc.NewObject()
	meta.Set("version", bdoc.NewString(engineVersion))

	colls := bdoc.NewArray()
	for _, coll := range e.registry.All() {
		cn := bdoc.NewObject()
		cn.Set("name", bdoc.NewString(coll.Name))

		rnum, err := e.countDocs(coll)
		if err != nil {
			return nil, newErr("get_meta", KindIO, err)
		}
		cn.Set("rnum", bdoc.NewU64(uint64(rnum)))

		idxArr := bdoc.NewArray()
		for _, idx := range coll.Indexes() {
			in := bdoc.NewObject()
			in.Set("path", bdoc.NewString(idx.Path))
			in.Set("mode", bdoc.NewString(idx.Mode.String()))
			irnum, err := idx.Rnum()
			if err != nil {
				return nil, newErr("get_meta", KindIO, err)
			}
			in.Set("rnum", bdoc.NewU64(uint64(irnum)))
			idxArr.Append(in)
		}
		cn.Set("indexes", idxArr)
		colls.Append(cn)
	}
	meta.Set("collections", colls)
	return meta, nil
}

// countDocs counts coll's primary-database records with one read-only
// cursor scan. get_meta is a diagnostic/introspection call, not a hot
// path, so a full scan per collection is an acceptable cost.
func (e *Engine) countDocs(coll *collection.Collection) (int, error) {
	n := 0
	err := e.store.View(func(tx kvstore.Tx) error {
		b := tx.Bucket(coll.DBID)
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			n++
		}
		return nil
	})
	return n, err
}
