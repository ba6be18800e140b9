package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"embeddb/internal/collection"
)

func TestBuildChoosesUniqueEqOverNonUniqueRange(t *testing.T) {
	store := newTestStore(t)
	reg, coll := newTestCollection(t, store)
	_, err := reg.EnsureIndex(coll, "email", collection.ModeString|collection.ModeUnique)
	require.NoError(t, err)
	_, err = reg.EnsureIndex(coll, "age", collection.ModeI64)
	require.NoError(t, err)

	q := mustParse(t, `@people/[age > 10 and email = "a@x.com"]`)
	plan := Build(coll, q)
	require.NotNil(t, plan.Index)
	require.Equal(t, "email", plan.Index.Path)
}

func TestBuildFallsBackToFullScanWithoutMatchingIndex(t *testing.T) {
	store := newTestStore(t)
	_, coll := newTestCollection(t, store)

	q := mustParse(t, `@people/[age > 10]`)
	plan := Build(coll, q)
	require.Nil(t, plan.Index)
}

func TestBuildRespectsNoIdxDirective(t *testing.T) {
	store := newTestStore(t)
	reg, coll := newTestCollection(t, store)
	_, err := reg.EnsureIndex(coll, "age", collection.ModeI64)
	require.NoError(t, err)

	q := mustParse(t, `@people/[age > 10] | noidx`)
	plan := Build(coll, q)
	require.Nil(t, plan.Index)
	require.True(t, plan.NoIdx)
}

func TestBuildSkipSortWhenOrderMatchesIndex(t *testing.T) {
	store := newTestStore(t)
	reg, coll := newTestCollection(t, store)
	_, err := reg.EnsureIndex(coll, "age", collection.ModeI64)
	require.NoError(t, err)

	q := mustParse(t, `@people/[age > 10] | asc /age`)
	plan := Build(coll, q)
	require.NotNil(t, plan.Index)
	require.True(t, plan.SkipSort)
}

func TestBuildDoesNotSkipSortOnDifferentOrderField(t *testing.T) {
	store := newTestStore(t)
	reg, coll := newTestCollection(t, store)
	_, err := reg.EnsureIndex(coll, "age", collection.ModeI64)
	require.NoError(t, err)

	q := mustParse(t, `@people/[age > 10] | asc /name`)
	plan := Build(coll, q)
	require.NotNil(t, plan.Index)
	require.False(t, plan.SkipSort)
}

func TestBuildIgnoresIndexOnIncompatibleLiteralType(t *testing.T) {
	store := newTestStore(t)
	reg, coll := newTestCollection(t, store)
	_, err := reg.EnsureIndex(coll, "age", collection.ModeI64)
	require.NoError(t, err)

	// age is a ModeI64 index; comparing it against a string literal
	// can't be encoded into that domain, so the index must be skipped.
	q := mustParse(t, `@people/[age = "thirty"]`)
	plan := Build(coll, q)
	require.Nil(t, plan.Index)
}

func TestBuildLikePrefixEligibleOnStringIndex(t *testing.T) {
	store := newTestStore(t)
	reg, coll := newTestCollection(t, store)
	_, err := reg.EnsureIndex(coll, "name", collection.ModeString)
	require.NoError(t, err)

	q := mustParse(t, `@people/[name like "al%"]`)
	plan := Build(coll, q)
	require.NotNil(t, plan.Index)
	require.Equal(t, "name", plan.Index.Path)
}

func TestBuildLikeNonPrefixIneligible(t *testing.T) {
	store := newTestStore(t)
	reg, coll := newTestCollection(t, store)
	_, err := reg.EnsureIndex(coll, "name", collection.ModeString)
	require.NoError(t, err)

	q := mustParse(t, `@people/[name like "%al%"]`)
	plan := Build(coll, q)
	require.Nil(t, plan.Index)
}

func TestBuildSkipsIndexOutsideSingleBracketPath(t *testing.T) {
	store := newTestStore(t)
	reg, coll := newTestCollection(t, store)
	_, err := reg.EnsureIndex(coll, "age", collection.ModeI64)
	require.NoError(t, err)

	q := mustParse(t, `@people/profile/[age > 10]`)
	plan := Build(coll, q)
	require.Nil(t, plan.Index)
}
