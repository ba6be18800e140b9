package jql

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBasicFilter(t *testing.T) {
	q, err := Parse(`@users/[age > 18]`)
	require.NoError(t, err)
	require.Equal(t, "users", q.Collection)
	require.Len(t, q.Path, 1)
	require.Equal(t, NodeExpr, q.Path[0].Kind)
	require.Len(t, q.Path[0].Group.Exprs, 1)
	require.Equal(t, "age", q.Path[0].Group.Exprs[0].Field)
	require.Equal(t, OpGt, q.Path[0].Group.Exprs[0].Op)
	require.Equal(t, int64(18), q.Path[0].Group.Exprs[0].Value.I64)
}

func TestParseWildcardAndRecursive(t *testing.T) {
	q, err := Parse(`@logs/**/*`)
	require.NoError(t, err)
	require.Len(t, q.Path, 2)
	require.Equal(t, NodeRecursive, q.Path[0].Kind)
	require.Equal(t, NodeWildcard, q.Path[1].Kind)
}

func TestParseAndOrConjunction(t *testing.T) {
	q, err := Parse(`@users/[age >= 18 and status = "active" or vip = true]`)
	require.NoError(t, err)
	g := q.Path[0].Group
	require.Len(t, g.Exprs, 3)
	require.Equal(t, []string{"and", "or"}, g.Conj)
}

func TestParseInNiSet(t *testing.T) {
	q, err := Parse(`@users/[role in ["admin", "editor"]]`)
	require.NoError(t, err)
	val := q.Path[0].Group.Exprs[0].Value
	require.Equal(t, LitArray, val.Kind)
	require.Len(t, val.Items, 2)
	require.Equal(t, "admin", val.Items[0].Str)
}

func TestParseRegexpOps(t *testing.T) {
	q, err := Parse(`@users/[name re "^A.*"]`)
	require.NoError(t, err)
	val := q.Path[0].Group.Exprs[0].Value
	require.Equal(t, LitRegexp, val.Kind)
	require.True(t, val.Regexp.MatchString("Alice"))
}

func TestParseDirectivesPipeline(t *testing.T) {
	q, err := Parse(`@users/[age > 0] | noidx | asc /name | limit 10 | skip 5 | fields /name, /age`)
	require.NoError(t, err)
	require.Len(t, q.Directives, 5)
	require.Equal(t, DirNoIdx, q.Directives[0].Kind)
	require.Equal(t, DirAsc, q.Directives[1].Kind)
	require.Equal(t, "/name", q.Directives[1].Ptr)
	require.Equal(t, DirLimit, q.Directives[2].Kind)
	require.Equal(t, int64(10), q.Directives[2].Int)
	require.Equal(t, DirSkip, q.Directives[3].Kind)
	require.Equal(t, int64(5), q.Directives[3].Int)
	require.Equal(t, DirFields, q.Directives[4].Kind)
	require.Equal(t, []string{"/name", "/age"}, q.Directives[4].Ptrs)
}

func TestParseApplyDirectiveRawJSON(t *testing.T) {
	q, err := Parse(`@users/[id = 1] | apply {"status": "archived", "n": 3}`)
	require.NoError(t, err)
	require.Len(t, q.Directives, 1)
	d := q.Directives[0]
	require.Equal(t, DirApply, d.Kind)
	require.Equal(t, LitJSON, d.JSON.Kind)
	require.NotNil(t, d.JSON.Doc)
}

func TestParseUpsertDirective(t *testing.T) {
	q, err := Parse(`@users/[id = 1] | upsert {"id": 1, "name": "new"}`)
	require.NoError(t, err)
	require.Equal(t, DirUpsert, q.Directives[0].Kind)
}

func TestParseCountInverseDel(t *testing.T) {
	q, err := Parse(`@users/[age > 0] | count`)
	require.NoError(t, err)
	require.Equal(t, DirCount, q.Directives[0].Kind)

	q, err = Parse(`@users/[age > 0] | inverse | del`)
	require.NoError(t, err)
	require.Equal(t, DirInverse, q.Directives[0].Kind)
	require.Equal(t, DirDel, q.Directives[1].Kind)
}

func TestParseErrorReported(t *testing.T) {
	q, err := Parse(`@users/[age >]`)
	require.Error(t, err)
	require.NotEmpty(t, q.Error())
}

func TestParamBindingPositionalAndNamed(t *testing.T) {
	q, err := Parse(`@users/[age > ? and name = :nm]`)
	require.NoError(t, err)
	require.Len(t, q.positional, 1)
	require.Contains(t, q.named, "nm")

	require.NoError(t, SetI64(q, 0, 21))
	require.NoError(t, SetStr(q, "nm", "Alice"))

	require.Equal(t, int64(21), q.Path[0].Group.Exprs[0].Value.I64)
	require.Equal(t, "Alice", q.Path[0].Group.Exprs[1].Value.Str)
	require.True(t, Bound(q))
}

func TestParamBindingSharedAcrossOccurrences(t *testing.T) {
	q, err := Parse(`@users/[a = :x or b = :x]`)
	require.NoError(t, err)
	require.NoError(t, SetI64(q, "x", 7))
	require.Equal(t, int64(7), q.Path[0].Group.Exprs[0].Value.I64)
	require.Equal(t, int64(7), q.Path[0].Group.Exprs[1].Value.I64)
}

func TestBindJSONParam(t *testing.T) {
	q, err := Parse(`@users/[id = 1] | apply ?`)
	require.NoError(t, err)
	require.NoError(t, SetJSON(q, 0, []byte(`{"status":"closed"}`)))
	require.Equal(t, LitJSON, q.Directives[0].JSON.Kind)
	require.NotNil(t, q.Directives[0].JSON.Doc)
}

func TestBindUnknownParamFails(t *testing.T) {
	q, err := Parse(`@users/[a = ?]`)
	require.NoError(t, err)
	require.Error(t, SetStr(q, 5, "x"))
	require.Error(t, SetStr(q, "nope", "x"))
}

func TestParseLikeAndSim(t *testing.T) {
	q, err := Parse(`@users/[name like "Al*"]`)
	require.NoError(t, err)
	require.Equal(t, OpLike, q.Path[0].Group.Exprs[0].Op)

	q, err = Parse(`@users/[name ~ "ali"]`)
	require.NoError(t, err)
	require.Equal(t, OpSim, q.Path[0].Group.Exprs[0].Op)
}

func TestParseNestedKeyPath(t *testing.T) {
	q, err := Parse(`@users/profile/address/[city = "NYC"]`)
	require.NoError(t, err)
	require.Len(t, q.Path, 3)
	require.Equal(t, NodeKey, q.Path[0].Kind)
	require.Equal(t, "profile", q.Path[0].Key)
	require.Equal(t, NodeKey, q.Path[1].Kind)
	require.Equal(t, "address", q.Path[1].Key)
}
