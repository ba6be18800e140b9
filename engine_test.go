package embeddb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"embeddb/internal/bdoc"
	"embeddb/internal/collection"
	"embeddb/internal/query"
)

func testOpen(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	e, err := Open(DefaultOptions(path))
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestOpenCreatesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.db")
	e, err := Open(DefaultOptions(path))
	require.NoError(t, err)
	require.NoError(t, e.EnsureCollection("people"))
	require.NoError(t, e.Close())

	e2, err := Open(DefaultOptions(path))
	require.NoError(t, err)
	defer e2.Close()
	meta, err := e2.GetMeta()
	require.NoError(t, err)
	colls, ok := meta.Get("collections")
	require.True(t, ok)
	require.Equal(t, 1, colls.Len())
}

func TestCloseIsIdempotent(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestOperationsFailAfterClose(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.Close())

	_, err := e.Put("people", bdoc.NewObject(), 0)
	require.Error(t, err)
	require.Equal(t, KindInvalidState, KindOf(err))
}

func TestEnsureCollectionIsIdempotent(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	require.NoError(t, e.EnsureCollection("people"))
}

func TestRemoveCollectionDropsIndexesToo(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	require.NoError(t, e.EnsureIndex("people", "email", collection.ModeString|collection.ModeUnique))
	require.NoError(t, e.RemoveCollection("people"))

	require.NoError(t, e.EnsureCollection("people"))
	require.NoError(t, e.EnsureIndex("people", "email", collection.ModeString))
}

func TestRenameCollection(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	id, err := e.Put("people", person("Alice", 30, "alice@x.com"), 0)
	require.NoError(t, err)

	require.NoError(t, e.RenameCollection("people", "folks"))
	doc, err := e.Get("folks", id)
	require.NoError(t, err)
	name, ok := doc.Get("name")
	require.True(t, ok)
	require.Equal(t, "Alice", name.String())

	_, err = e.Get("people", id)
	require.Error(t, err)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestMismatchedUniqueOnReEnsureIndex(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	require.NoError(t, e.EnsureIndex("people", "email", collection.ModeString))
	err := e.EnsureIndex("people", "email", collection.ModeString|collection.ModeUnique)
	require.Error(t, err)
	require.Equal(t, KindMismatchedUnique, KindOf(err))
}

func TestExecUnboundQueryRejected(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	q, err := ParseQuery(`@people/[age > ?]`)
	require.NoError(t, err)

	_, err = e.Exec("people", q, func(id uint64, doc *bdoc.Node) (query.Opcode, error) {
		return query.Continue, nil
	})
	require.Error(t, err)
	require.Equal(t, KindInvalidArgument, KindOf(err))
}

func TestExecRunsBoundQuery(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	_, err := e.Put("people", person("Alice", 30, "alice@x.com"), 0)
	require.NoError(t, err)
	_, err = e.Put("people", person("Bob", 20, "bob@x.com"), 0)
	require.NoError(t, err)

	q, err := ParseQuery(`@people/[age >= 25]`)
	require.NoError(t, err)
	var ids []uint64
	res, err := e.Exec("people", q, func(id uint64, doc *bdoc.Node) (query.Opcode, error) {
		ids = append(ids, id)
		return query.Continue, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Matched)
	require.Equal(t, []uint64{1}, ids)
}

func TestParseQueryErrorCarriesQueryParseKind(t *testing.T) {
	_, err := ParseQuery(`@people/[age >`)
	require.Error(t, err)
	require.Equal(t, KindQueryParse, KindOf(err))
}

func TestOnlineBackupProducesOpenableCopy(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	_, err := e.Put("people", person("Alice", 30, "alice@x.com"), 0)
	require.NoError(t, err)

	dst := filepath.Join(t.TempDir(), "backup.db")
	ts, err := e.OnlineBackup(dst)
	require.NoError(t, err)
	require.Greater(t, ts, int64(0))

	e2, err := Open(DefaultOptions(dst))
	require.NoError(t, err)
	defer e2.Close()
	doc, err := e2.Get("people", 1)
	require.NoError(t, err)
	name, ok := doc.Get("name")
	require.True(t, ok)
	require.Equal(t, "Alice", name.String())
}

func person(name string, age int64, email string) *bdoc.Node {
	n := bdoc.NewObject()
	n.Set("name", bdoc.NewString(name))
	n.Set("age", bdoc.NewI64(age))
	n.Set("email", bdoc.NewString(email))
	return n
}
