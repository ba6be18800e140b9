package embeddb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"embeddb/internal/bdoc"
	"embeddb/internal/collection"
	"embeddb/internal/query"
)

func TestPutAssignsIDAndGetRoundTrips(t *testing.T) {
	e := testOpen(t)
	id, err := e.Put("people", person("Alice", 30, "alice@x.com"), 0)
	require.NoError(t, err)
	require.NotZero(t, id)

	doc, err := e.Get("people", id)
	require.NoError(t, err)
	name, ok := doc.Get("name")
	require.True(t, ok)
	require.Equal(t, "Alice", name.String())
}

func TestPutOverwritesExistingID(t *testing.T) {
	e := testOpen(t)
	id, err := e.Put("people", person("Alice", 30, "alice@x.com"), 0)
	require.NoError(t, err)

	_, err = e.Put("people", person("Alice", 31, "alice@x.com"), id)
	require.NoError(t, err)

	doc, err := e.Get("people", id)
	require.NoError(t, err)
	age, ok := doc.Get("age")
	require.True(t, ok)
	require.Equal(t, int64(31), age.Int64())
}

func TestGetMissingDocumentIsNotFound(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	_, err := e.Get("people", 999)
	require.Error(t, err)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestDelRemovesDocumentAndIndexEntries(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	require.NoError(t, e.EnsureIndex("people", "email", collection.ModeString|collection.ModeUnique))
	id, err := e.Put("people", person("Alice", 30, "alice@x.com"), 0)
	require.NoError(t, err)

	require.NoError(t, e.Del("people", id))
	_, err = e.Get("people", id)
	require.Error(t, err)
	require.Equal(t, KindNotFound, KindOf(err))

	// The unique slot is free again.
	id2, err := e.Put("people", person("Bob", 20, "alice@x.com"), 0)
	require.NoError(t, err)
	require.NotEqual(t, id, id2) // NextID keeps climbing even past a delete
}

func TestDelMissingDocumentIsNotFound(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	err := e.Del("people", 42)
	require.Error(t, err)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestPutUniqueViolationLeavesStateUnchanged(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	require.NoError(t, e.EnsureIndex("people", "email", collection.ModeString|collection.ModeUnique))
	id1, err := e.Put("people", person("Alice", 30, "alice@x.com"), 0)
	require.NoError(t, err)

	_, err = e.Put("people", person("Eve", 99, "alice@x.com"), 0)
	require.Error(t, err)
	require.Equal(t, KindUniqueViolation, KindOf(err))

	// The original document is untouched; no phantom second document
	// with Eve's data was written under a new id.
	doc, err := e.Get("people", id1)
	require.NoError(t, err)
	name, ok := doc.Get("name")
	require.True(t, ok)
	require.Equal(t, "Alice", name.String())
}

func TestPutSelfOverwriteSkipsOwnUniqueKey(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	require.NoError(t, e.EnsureIndex("people", "email", collection.ModeString|collection.ModeUnique))
	id, err := e.Put("people", person("Alice", 30, "alice@x.com"), 0)
	require.NoError(t, err)

	_, err = e.Put("people", person("Alice", 31, "alice@x.com"), id)
	require.NoError(t, err)
}

func TestPatchAppliesRFC6902Ops(t *testing.T) {
	e := testOpen(t)
	id, err := e.Put("people", person("Alice", 30, "alice@x.com"), 0)
	require.NoError(t, err)

	ops := bdoc.NewArray()
	op := bdoc.NewObject()
	op.Set("op", bdoc.NewString("replace"))
	op.Set("path", bdoc.NewString("/age"))
	op.Set("value", bdoc.NewI64(31))
	ops.Append(op)

	require.NoError(t, e.Patch("people", id, ops))
	doc, err := e.Get("people", id)
	require.NoError(t, err)
	age, ok := doc.Get("age")
	require.True(t, ok)
	require.Equal(t, int64(31), age.Int64())
}

func TestPatchOnMissingDocumentIsNotFound(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	ops := bdoc.NewArray()
	err := e.Patch("people", 7, ops)
	require.Error(t, err)
	require.Equal(t, KindNotFound, KindOf(err))
}

func TestPatchInvalidOpIsReported(t *testing.T) {
	e := testOpen(t)
	id, err := e.Put("people", person("Alice", 30, "alice@x.com"), 0)
	require.NoError(t, err)

	ops := bdoc.NewArray()
	op := bdoc.NewObject()
	op.Set("op", bdoc.NewString("not-a-real-op"))
	op.Set("path", bdoc.NewString("/age"))
	ops.Append(op)

	err = e.Patch("people", id, ops)
	require.Error(t, err)
}

func TestMergeOrPutCreatesMissingDocument(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))

	merge := bdoc.NewObject()
	merge.Set("name", bdoc.NewString("Fresh"))
	require.NoError(t, e.MergeOrPut("people", 5, merge))

	doc, err := e.Get("people", 5)
	require.NoError(t, err)
	name, ok := doc.Get("name")
	require.True(t, ok)
	require.Equal(t, "Fresh", name.String())
}

func TestMergeOrPutMergesExistingDocument(t *testing.T) {
	e := testOpen(t)
	id, err := e.Put("people", person("Alice", 30, "alice@x.com"), 0)
	require.NoError(t, err)

	merge := bdoc.NewObject()
	merge.Set("age", bdoc.NewI64(31))
	require.NoError(t, e.MergeOrPut("people", id, merge))

	doc, err := e.Get("people", id)
	require.NoError(t, err)
	age, ok := doc.Get("age")
	require.True(t, ok)
	require.Equal(t, int64(31), age.Int64())
	name, ok := doc.Get("name")
	require.True(t, ok)
	require.Equal(t, "Alice", name.String())
}

func TestMergeOrPutRemovesFieldOnNullValue(t *testing.T) {
	e := testOpen(t)
	id, err := e.Put("people", person("Alice", 30, "alice@x.com"), 0)
	require.NoError(t, err)

	merge := bdoc.NewObject()
	merge.Set("email", bdoc.NewNull())
	require.NoError(t, e.MergeOrPut("people", id, merge))

	doc, err := e.Get("people", id)
	require.NoError(t, err)
	_, ok := doc.Get("email")
	require.False(t, ok)
}

func TestIndexFollowsMergeOrPutFieldChange(t *testing.T) {
	e := testOpen(t)
	require.NoError(t, e.EnsureCollection("people"))
	require.NoError(t, e.EnsureIndex("people", "age", collection.ModeI64))
	id, err := e.Put("people", person("Alice", 30, "alice@x.com"), 0)
	require.NoError(t, err)

	merge := bdoc.NewObject()
	merge.Set("age", bdoc.NewI64(99))
	require.NoError(t, e.MergeOrPut("people", id, merge))

	q, err := ParseQuery(`@people/[age = 99]`)
	require.NoError(t, err)
	var ids []uint64
	res, err := e.Exec("people", q, func(gotID uint64, doc *bdoc.Node) (query.Opcode, error) {
		ids = append(ids, gotID)
		return query.Continue, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Matched)
	require.Equal(t, []uint64{id}, ids)

	q2, err := ParseQuery(`@people/[age = 30]`)
	require.NoError(t, err)
	res2, err := e.Exec("people", q2, func(gotID uint64, doc *bdoc.Node) (query.Opcode, error) {
		return query.Continue, nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, res2.Matched)
}
