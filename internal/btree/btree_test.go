package btree

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"embeddb/internal/kvstore"
	"embeddb/internal/kvstore/bboltstore"
)

func newStore(t *testing.T) kvstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idx.db")
	st, err := bboltstore.Open(bboltstore.Options{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestPutGetDelRoundTrip(t *testing.T) {
	store := newStore(t)
	tr, err := Open(store, kvstore.DB(10), Lex, false, Options{LeafMaxRecords: 4})
	require.NoError(t, err)

	require.NoError(t, tr.Put([]byte("b"), []byte("2")))
	require.NoError(t, tr.Put([]byte("a"), []byte("1")))
	require.NoError(t, tr.Put([]byte("c"), []byte("3")))

	vs, ok, err := tr.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [][]byte{[]byte("1")}, vs)

	require.NoError(t, tr.Del([]byte("b")))
	_, ok, err = tr.Get([]byte("b"))
	require.NoError(t, err)
	require.False(t, ok)

	card, err := tr.Cardinality()
	require.NoError(t, err)
	require.Equal(t, 2, card)
}

func TestUniqueViolation(t *testing.T) {
	store := newStore(t)
	tr, err := Open(store, kvstore.DB(11), Lex, true, Options{})
	require.NoError(t, err)

	require.NoError(t, tr.Put([]byte("andy"), []byte("1")))
	err = tr.Put([]byte("andy"), []byte("2"))
	require.ErrorIs(t, err, ErrUniqueViolation)
}

func TestPutDupAndDelKV(t *testing.T) {
	store := newStore(t)
	tr, err := Open(store, kvstore.DB(12), Lex, false, Options{})
	require.NoError(t, err)

	require.NoError(t, tr.PutDup([]byte("k"), []byte("1")))
	require.NoError(t, tr.PutDup([]byte("k"), []byte("2")))
	require.NoError(t, tr.PutDup([]byte("k"), []byte("3")))

	vs, ok, err := tr.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [][]byte{[]byte("1"), []byte("2"), []byte("3")}, vs)

	require.NoError(t, tr.DelKV([]byte("k"), []byte("2")))
	vs, _, err = tr.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("1"), []byte("3")}, vs)
}

func TestSplitAcrossManyLeaves(t *testing.T) {
	store := newStore(t)
	tr, err := Open(store, kvstore.DB(13), Lex, false, Options{LeafMaxRecords: 4, NodeMaxEntries: 4})
	require.NoError(t, err)

	const n = 200
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		require.NoError(t, tr.Put(key, []byte(fmt.Sprintf("v%d", i))))
	}
	card, err := tr.Cardinality()
	require.NoError(t, err)
	require.Equal(t, n, card)

	cur, err := tr.CursorFirst()
	require.NoError(t, err)
	count := 0
	var lastKey string
	for {
		k, _, ok := cur.Record()
		if !ok {
			break
		}
		if lastKey != "" {
			require.True(t, lastKey < string(k), "cursor must walk in strictly increasing key order")
		}
		lastKey = string(k)
		count++
		if !cur.Next() {
			break
		}
	}
	require.Equal(t, n, count)
}

func TestDeleteCollapsesLeavesAndRoot(t *testing.T) {
	store := newStore(t)
	tr, err := Open(store, kvstore.DB(14), Lex, false, Options{LeafMaxRecords: 4, NodeMaxEntries: 4})
	require.NoError(t, err)

	const n = 100
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		require.NoError(t, tr.Put(key, []byte("v")))
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		require.NoError(t, tr.Del(key))
	}
	card, err := tr.Cardinality()
	require.NoError(t, err)
	require.Equal(t, 0, card)

	require.NoError(t, tr.Put([]byte("z"), []byte("last")))
	vs, ok, err := tr.Get([]byte("z"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [][]byte{[]byte("last")}, vs)
}

func TestCursorJumpFwdAndBack(t *testing.T) {
	store := newStore(t)
	tr, err := Open(store, kvstore.DB(15), Lex, false, Options{LeafMaxRecords: 4})
	require.NoError(t, err)
	for _, k := range []string{"a", "c", "e", "g", "i"} {
		require.NoError(t, tr.Put([]byte(k), []byte(k)))
	}

	cur, err := tr.CursorJumpFwd([]byte("d"))
	require.NoError(t, err)
	k, _, ok := cur.Record()
	require.True(t, ok)
	require.Equal(t, "e", string(k))

	cur2, err := tr.CursorJumpBack([]byte("d"))
	require.NoError(t, err)
	k2, _, ok := cur2.Record()
	require.True(t, ok)
	require.Equal(t, "c", string(k2))
}

func TestDecimalAndSignedIntComparators(t *testing.T) {
	require.Equal(t, -1, Decimal.Compare([]byte("2"), []byte("10")))
	require.Equal(t, 1, Lex.Compare([]byte("2"), []byte("10")))

	require.Equal(t, -1, SignedInt.Compare(EncodeInt64(-1), EncodeInt64(1)))
	require.Equal(t, 0, SignedInt.Compare(EncodeInt64(42), EncodeInt64(42)))
}

func TestCursorSurvivesStructuralChange(t *testing.T) {
	store := newStore(t)
	tr, err := Open(store, kvstore.DB(16), Lex, false, Options{LeafMaxRecords: 4, NodeMaxEntries: 4})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Put([]byte(fmt.Sprintf("k%d", i)), []byte("v")))
	}
	cur, err := tr.CursorFirst()
	require.NoError(t, err)

	for i := 3; i < 50; i++ {
		require.NoError(t, tr.Put([]byte(fmt.Sprintf("k%02d", i)), []byte("v")))
	}

	k, _, ok := cur.Record()
	require.True(t, ok)
	require.Equal(t, "k0", string(k))
}
