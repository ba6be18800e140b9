package bdoc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSample() *Node {
	obj := NewObject()
	obj.Set("name", NewString("Andy"))
	obj.Set("age", NewI64(30))
	obj.Set("active", NewBool(true))
	arr := NewArray()
	arr.Append(NewI64(1))
	arr.Append(NewI64(2))
	arr.Append(NewString("three"))
	obj.Set("tags", arr)
	obj.Set("score", NewF64(3.5))
	obj.Set("nothing", NewNull())
	return obj
}

func TestRoundTrip(t *testing.T) {
	n := buildSample()
	doc, err := Serialize(n)
	require.NoError(t, err)

	require.NoError(t, Walk(doc))

	back, err := Parse(doc)
	require.NoError(t, err)
	require.True(t, Equal(n, back), "round trip must preserve structure and key order")

	// Key order specifically.
	var keys []string
	for _, m := range back.Members() {
		keys = append(keys, m.Key)
	}
	require.Equal(t, []string{"name", "age", "active", "tags", "score", "nothing"}, keys)
}

func TestNarrowestInt(t *testing.T) {
	cases := []struct {
		v   int64
		tag Tag
	}{
		{0, TagI8},
		{127, TagI8},
		{-128, TagI8},
		{200, TagU8},
		{-200, TagI16},
		{60000, TagU16},
		{-40000, TagI32},
		{5_000_000_000, TagI64},
	}
	for _, c := range cases {
		n := NewI64(c.v)
		require.Equalf(t, c.tag, n.Tag, "value %d", c.v)
		require.Equal(t, c.v, n.Int64())
	}
}

func TestZeroCopyView(t *testing.T) {
	n := buildSample()
	doc, err := Serialize(n)
	require.NoError(t, err)

	v := NewView(doc)
	require.Equal(t, TagObject, v.Tag())
	require.Equal(t, 6, v.Len())

	name, ok := v.Field("name")
	require.True(t, ok)
	require.Equal(t, "Andy", name.Str())

	tags, ok := v.Field("tags")
	require.True(t, ok)
	require.Equal(t, TagArray, tags.Tag())
	require.Equal(t, 3, tags.Len())
	el, ok := tags.Index(2)
	require.True(t, ok)
	require.Equal(t, "three", el.Str())
}

func TestPointerResolution(t *testing.T) {
	n := buildSample()
	doc, err := Serialize(n)
	require.NoError(t, err)

	ptr, err := ParsePointer("/tags/1")
	require.NoError(t, err)
	v, ok, err := At(doc, ptr)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), v.Int64())

	ptr2, err := ParsePointer("/tags/*")
	require.NoError(t, err)
	v2, ok, err := At(doc, ptr2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), v2.Int64())

	root, ok, err := At(doc, Pointer{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, TagObject, root.Tag())

	_, err = ParsePointer("/")
	require.ErrorIs(t, err, ErrInvalidPointer)
	_, err = ParsePointer("//")
	require.ErrorIs(t, err, ErrInvalidPointer)

	_, ok, err = At(doc, mustPointer(t, "/missing/deep"))
	require.NoError(t, err)
	require.False(t, ok)
}

func mustPointer(t *testing.T, s string) Pointer {
	t.Helper()
	p, err := ParsePointer(s)
	require.NoError(t, err)
	return p
}

func TestFromJSONPreservesOrderAndNumberKinds(t *testing.T) {
	n, err := FromJSON([]byte(`{"b":1,"a":{"x":true,"y":null},"c":[1,2.5,"s"]}`))
	require.NoError(t, err)
	require.Equal(t, TagObject, n.Tag)

	var keys []string
	for _, m := range n.Members() {
		keys = append(keys, m.Key)
	}
	require.Equal(t, []string{"b", "a", "c"}, keys)

	cNode, ok := n.Get("c")
	require.True(t, ok)
	require.Equal(t, TagI8, cNode.Items()[0].Tag)
	require.Equal(t, TagF64, cNode.Items()[1].Tag)
}

func TestAsJSONRoundTrip(t *testing.T) {
	n := buildSample()
	doc, err := Serialize(n)
	require.NoError(t, err)

	out, err := AsJSON(doc, Printer{})
	require.NoError(t, err)

	back, err := FromJSON(out)
	require.NoError(t, err)
	require.True(t, Equal(n, back))
}

func TestEqualNumberStringNoCoercion(t *testing.T) {
	require.True(t, Equal(NewI64(10), NewI64(10)))
	require.False(t, Equal(NewI64(10), NewString("10")))
}
