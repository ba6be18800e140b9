package patch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"embeddb/internal/bdoc"
)

func mustParse(t *testing.T, js string) *bdoc.Node {
	t.Helper()
	n, err := bdoc.FromJSON([]byte(js))
	require.NoError(t, err)
	return n
}

func mustOps(t *testing.T, js string) []Op {
	t.Helper()
	n := mustParse(t, js)
	ops, err := ParseOps(n)
	require.NoError(t, err)
	return ops
}

func TestApplyAddReplaceRemove(t *testing.T) {
	doc := mustParse(t, `{"a":1,"b":{"c":2}}`)
	ops := mustOps(t, `[
		{"op":"add","path":"/b/d","value":3},
		{"op":"replace","path":"/a","value":10},
		{"op":"remove","path":"/b/c"}
	]`)
	out, err := Apply(doc, ops)
	require.NoError(t, err)

	v, ok := out.Get("a")
	require.True(t, ok)
	require.Equal(t, int64(10), v.Int64())

	b, _ := out.Get("b")
	_, ok = b.Get("c")
	require.False(t, ok)
	d, ok := b.Get("d")
	require.True(t, ok)
	require.Equal(t, int64(3), d.Int64())
}

func TestRemoveRootYieldsEmptyObject(t *testing.T) {
	doc := mustParse(t, `{"a":1}`)
	ops := mustOps(t, `[{"op":"remove","path":""}]`)
	out, err := Apply(doc, ops)
	require.NoError(t, err)
	require.Equal(t, bdoc.TagObject, out.Tag)
	require.Equal(t, 0, out.Len())
}

func TestAddToMissingParentFailsWithoutCreate(t *testing.T) {
	doc := mustParse(t, `{"a":1}`)
	ops := mustOps(t, `[{"op":"add","path":"/missing/x","value":1}]`)
	_, err := Apply(doc, ops)
	require.ErrorIs(t, err, ErrTargetInvalid)
}

func TestAddCreateBuildsIntermediates(t *testing.T) {
	doc := mustParse(t, `{"a":1}`)
	ops := mustOps(t, `[{"op":"add_create","path":"/missing/x","value":7}]`)
	out, err := Apply(doc, ops)
	require.NoError(t, err)
	m, ok := out.Get("missing")
	require.True(t, ok)
	x, ok := m.Get("x")
	require.True(t, ok)
	require.Equal(t, int64(7), x.Int64())
}

func TestAppendWithDash(t *testing.T) {
	doc := mustParse(t, `{"list":[1,2]}`)
	ops := mustOps(t, `[{"op":"add","path":"/list/-","value":3}]`)
	out, err := Apply(doc, ops)
	require.NoError(t, err)
	list, _ := out.Get("list")
	require.Equal(t, 3, list.Len())
	require.Equal(t, int64(3), list.Items()[2].Int64())
}

func TestTestOpStructuralNoCoercion(t *testing.T) {
	doc := mustParse(t, `{"a":{"x":1,"y":2},"n":10}`)

	ops := mustOps(t, `[{"op":"test","path":"/a","value":{"y":2,"x":1}}]`)
	_, err := Apply(doc, ops)
	require.NoError(t, err, "object test is structural, independent of key order")

	ops = mustOps(t, `[{"op":"test","path":"/n","value":"10"}]`)
	_, err = Apply(doc, ops)
	require.ErrorIs(t, err, ErrTestFailed, "number vs string must never coerce")
}

func TestMoveAndCopy(t *testing.T) {
	doc := mustParse(t, `{"a":1,"b":{}}`)
	ops := mustOps(t, `[{"op":"move","from":"/a","path":"/b/a"}]`)
	out, err := Apply(doc, ops)
	require.NoError(t, err)
	_, ok := out.Get("a")
	require.False(t, ok)
	b, _ := out.Get("b")
	a, ok := b.Get("a")
	require.True(t, ok)
	require.Equal(t, int64(1), a.Int64())

	doc2 := mustParse(t, `{"a":1,"b":{}}`)
	ops2 := mustOps(t, `[{"op":"copy","from":"/a","path":"/b/a"}]`)
	out2, err := Apply(doc2, ops2)
	require.NoError(t, err)
	orig, ok := out2.Get("a")
	require.True(t, ok)
	require.Equal(t, int64(1), orig.Int64())
}

func TestIncrementAndSwap(t *testing.T) {
	doc := mustParse(t, `{"count":5,"other":10}`)
	ops := mustOps(t, `[{"op":"increment","path":"/count","value":3}]`)
	out, err := Apply(doc, ops)
	require.NoError(t, err)
	c, _ := out.Get("count")
	require.Equal(t, int64(8), c.Int64())

	ops2 := mustOps(t, `[{"op":"swap","path":"/count","from":"/other"}]`)
	out2, err := Apply(out, ops2)
	require.NoError(t, err)
	c2, _ := out2.Get("count")
	o2, _ := out2.Get("other")
	require.Equal(t, int64(10), c2.Int64())
	require.Equal(t, int64(8), o2.Int64())
}

func TestMergePatchRemovesNullKeysAndMergesRecursively(t *testing.T) {
	target := mustParse(t, `{"a":"b","c":{"d":"e","f":"g"}}`)
	patchDoc := mustParse(t, `{"a":"z","c":{"f":null}}`)
	out := MergePatch(target, patchDoc)

	a, ok := out.Get("a")
	require.True(t, ok)
	require.Equal(t, "z", a.String())

	c, ok := out.Get("c")
	require.True(t, ok)
	d, ok := c.Get("d")
	require.True(t, ok)
	require.Equal(t, "e", d.String())
	_, ok = c.Get("f")
	require.False(t, ok, "null in merge patch removes the key")
}

func TestMergePatchNonObjectReplacesWholesale(t *testing.T) {
	target := mustParse(t, `{"a":{"x":1}}`)
	patchDoc := mustParse(t, `{"a":[1,2,3]}`)
	out := MergePatch(target, patchDoc)
	a, ok := out.Get("a")
	require.True(t, ok)
	require.Equal(t, bdoc.TagArray, a.Tag)
	require.Equal(t, 3, a.Len())
}
