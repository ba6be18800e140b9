package query

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"embeddb/internal/bdoc"
	"embeddb/internal/collection"
	"embeddb/internal/jql"
	"embeddb/internal/kvstore"
	"embeddb/internal/kvstore/bboltstore"
)

func newTestStore(t *testing.T) kvstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "query.db")
	st, err := bboltstore.Open(bboltstore.Options{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestCollection(t *testing.T, store kvstore.Store) (*collection.Registry, *collection.Collection) {
	t.Helper()
	reg, err := collection.Load(store)
	require.NoError(t, err)
	coll, err := reg.EnsureCollection("people")
	require.NoError(t, err)
	return reg, coll
}

// putDoc writes doc under id into coll's primary database and, for
// every index currently on coll, inserts the corresponding index
// entry. Mirrors the write path the facade will eventually own.
func putDoc(t *testing.T, store kvstore.Store, coll *collection.Collection, id uint64, doc *bdoc.Node) {
	t.Helper()
	packed, err := bdoc.Serialize(doc)
	require.NoError(t, err)
	err = store.Update(func(tx kvstore.Tx) error {
		b, err := tx.CreateBucketIfNotExists(coll.DBID)
		if err != nil {
			return err
		}
		return b.Put(collection.DocKey(id), []byte(packed))
	})
	require.NoError(t, err)

	for _, idx := range coll.Indexes() {
		v, ok := resolveField(doc, idx.Path)
		if !ok {
			continue
		}
		key, ok := collection.EncodeIndexKey(idx.Mode, v)
		if !ok {
			continue
		}
		if idx.Mode.Unique() {
			require.NoError(t, idx.Tree.Put(key, collection.DocKey(id)))
		} else {
			require.NoError(t, idx.Tree.PutDup(key, collection.DocKey(id)))
		}
	}
}

func person(name string, age int64, email string) *bdoc.Node {
	n := bdoc.NewObject()
	n.Set("name", bdoc.NewString(name))
	n.Set("age", bdoc.NewI64(age))
	n.Set("email", bdoc.NewString(email))
	return n
}

func mustParse(t *testing.T, src string) *jql.Query {
	t.Helper()
	q, err := jql.Parse(src)
	require.NoError(t, err)
	require.True(t, jql.Bound(q))
	return q
}

// collect runs plan and returns the ids visited, in visitation order.
func collect(t *testing.T, store kvstore.Store, plan *Plan) ([]uint64, Result) {
	t.Helper()
	var ids []uint64
	res, err := Execute(store, plan.Collection, plan, func(id uint64, doc *bdoc.Node) (Opcode, error) {
		ids = append(ids, id)
		return Continue, nil
	})
	require.NoError(t, err)
	return ids, res
}
