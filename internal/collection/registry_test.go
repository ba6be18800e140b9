package collection

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"embeddb/internal/kvstore"
	"embeddb/internal/kvstore/bboltstore"
)

func newStore(t *testing.T) kvstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meta.db")
	st, err := bboltstore.Open(bboltstore.Options{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestEnsureCollectionIsIdempotent(t *testing.T) {
	store := newStore(t)
	reg, err := Load(store)
	require.NoError(t, err)

	c1, err := reg.EnsureCollection("users")
	require.NoError(t, err)
	c2, err := reg.EnsureCollection("users")
	require.NoError(t, err)
	require.Same(t, c1, c2)
}

func TestEnsureIndexAndReload(t *testing.T) {
	store := newStore(t)
	reg, err := Load(store)
	require.NoError(t, err)

	coll, err := reg.EnsureCollection("users")
	require.NoError(t, err)
	_, err = reg.EnsureIndex(coll, "/name", ModeString|ModeUnique)
	require.NoError(t, err)

	reg2, err := Load(store)
	require.NoError(t, err)
	coll2, ok := reg2.Get("users")
	require.True(t, ok)
	idx, ok := coll2.IndexAt("/name")
	require.True(t, ok)
	require.True(t, idx.Mode.Unique())
	require.Equal(t, ModeString, idx.Mode.comparatorKind())
}

func TestMismatchedUniqueOnReEnsure(t *testing.T) {
	store := newStore(t)
	reg, err := Load(store)
	require.NoError(t, err)
	coll, err := reg.EnsureCollection("users")
	require.NoError(t, err)

	_, err = reg.EnsureIndex(coll, "/name", ModeString)
	require.NoError(t, err)
	_, err = reg.EnsureIndex(coll, "/name", ModeString|ModeUnique)
	require.ErrorIs(t, err, ErrMismatchedUnique)
}

func TestRemoveCollectionIsIdempotent(t *testing.T) {
	store := newStore(t)
	reg, err := Load(store)
	require.NoError(t, err)
	_, err = reg.EnsureCollection("users")
	require.NoError(t, err)

	require.NoError(t, reg.RemoveCollection("users"))
	require.NoError(t, reg.RemoveCollection("users"))
	_, ok := reg.Get("users")
	require.False(t, ok)
}

func TestRenameCollection(t *testing.T) {
	store := newStore(t)
	reg, err := Load(store)
	require.NoError(t, err)
	_, err = reg.EnsureCollection("old")
	require.NoError(t, err)

	require.NoError(t, reg.RenameCollection("old", "new"))
	_, ok := reg.Get("old")
	require.False(t, ok)
	c, ok := reg.Get("new")
	require.True(t, ok)
	require.Equal(t, "new", c.Name)
}

func TestNextIDSurvivesReload(t *testing.T) {
	store := newStore(t)
	reg, err := Load(store)
	require.NoError(t, err)
	coll, err := reg.EnsureCollection("users")
	require.NoError(t, err)

	var lastID uint64
	for i := 0; i < 3; i++ {
		lastID = coll.NextID()
	}
	require.NoError(t, store.Update(func(tx kvstore.Tx) error {
		b, err := tx.CreateBucketIfNotExists(coll.DBID)
		if err != nil {
			return err
		}
		return b.Put(DocKey(lastID), []byte("{}"))
	}))

	reg2, err := Load(store)
	require.NoError(t, err)
	coll2, ok := reg2.Get("users")
	require.True(t, ok)
	require.Equal(t, lastID+1, coll2.NextID())
}
