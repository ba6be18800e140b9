// Package query implements the planner and executor that sit on top
// of internal/jql's parsed AST: choosing whether an index accelerates
// a filter, walking either an index or the primary database in id
// order, and running the apply/fields/skip/limit output pipeline the
// executor's visitor sees.
package query

import (
	"strings"

	"embeddb/internal/bdoc"
	"embeddb/internal/collection"
	"embeddb/internal/jql"
)

// Plan is a compiled, collection-bound execution strategy for one
// jql.Query. Building a Plan never touches the KV store; only
// Execute does.
type Plan struct {
	Query      *jql.Query
	Collection *collection.Collection

	Index     *collection.IndexDescriptor
	IndexExpr *jql.Expr // the predicate the index satisfies, nil on a full scan

	Skip, Limit int64
	HasLimit    bool // distinguishes an explicit "limit 0" from no limit directive at all
	Count       bool
	NoIdx       bool
	Inverse     bool

	OrderBy   string
	OrderDesc bool
	SkipSort  bool // true when Index's natural order already satisfies OrderBy

	Fields []string
	Apply  *jql.Literal
	Upsert *jql.Literal
	Del    bool
}

// Build compiles q against coll's current index list. q must already
// be fully bound (jql.Bound(q)); Build does not check this itself.
func Build(coll *collection.Collection, q *jql.Query) *Plan {
	p := &Plan{Query: q, Collection: coll}
	for _, d := range q.Directives {
		switch d.Kind {
		case jql.DirSkip:
			p.Skip = d.Int
		case jql.DirLimit:
			p.Limit = d.Int
			p.HasLimit = true
		case jql.DirCount:
			p.Count = true
		case jql.DirNoIdx:
			p.NoIdx = true
		case jql.DirInverse:
			p.Inverse = true
		case jql.DirAsc:
			p.OrderBy, p.OrderDesc = trimPointer(d.Ptr), false
		case jql.DirDesc:
			p.OrderBy, p.OrderDesc = trimPointer(d.Ptr), true
		case jql.DirApply:
			p.Apply = d.JSON
		case jql.DirUpsert:
			p.Upsert = d.JSON
		case jql.DirDel:
			p.Del = true
		case jql.DirFields:
			p.Fields = make([]string, len(d.Ptrs))
			for i, ptr := range d.Ptrs {
				p.Fields[i] = trimPointer(ptr)
			}
		}
	}

	if !p.NoIdx && len(q.Path) == 1 && q.Path[0].Kind == jql.NodeExpr {
		p.Index, p.IndexExpr = chooseIndex(coll, q.Path[0].Group)
	}
	if p.Index != nil && p.OrderBy != "" && p.OrderBy == p.Index.Path {
		p.SkipSort = true
	}
	return p
}

// chooseIndex picks the lowest-cost indexable predicate in g, per the
// cost surrogate unique-eq ≪ unique-range ≪ non-unique-eq ≪
// non-unique-range ≪ full scan. in/like-prefix are scored at the same
// tier as eq/range respectively, since both still bound a cursor walk
// instead of a full scan.
func chooseIndex(coll *collection.Collection, g *jql.ExprGroup) (*collection.IndexDescriptor, *jql.Expr) {
	var best *collection.IndexDescriptor
	var bestExpr *jql.Expr
	bestCost := -1

	// An index walk yields only its own predicate's matches, which is a
	// superset of the group's matches only when every join is "and".
	for _, conj := range g.Conj {
		if conj == "or" {
			return nil, nil
		}
	}

	for i := range g.Exprs {
		e := &g.Exprs[i]
		idx, ok := coll.IndexAt(e.Field)
		if !ok {
			continue
		}
		cost, eligible := indexCost(idx, e)
		if !eligible {
			continue
		}
		if bestCost == -1 || cost < bestCost {
			bestCost, best, bestExpr = cost, idx, e
		}
	}
	return best, bestExpr
}

// trimPointer strips a directive pointer argument's leading "/", so
// asc/desc/fields pointers line up with the bare-field convention
// jql.Expr.Field and IndexDescriptor.Path both use.
func trimPointer(ptr string) string { return strings.TrimPrefix(ptr, "/") }

// literalToNode renders a jql.Literal as the scalar node
// EncodeIndexKey expects, so index eligibility can be decided by
// attempting the same encoding the executor will use rather than a
// separate type-compatibility table that could drift from it.
func literalToNode(lit *jql.Literal) *bdoc.Node {
	switch lit.Kind {
	case jql.LitI64:
		return bdoc.NewI64(lit.I64)
	case jql.LitF64:
		return bdoc.NewF64(lit.F64)
	case jql.LitString:
		return bdoc.NewString(lit.Str)
	default:
		return nil
	}
}

// indexCost scores an expr's index eligibility against idx, per the
// cost surrogate unique-eq ≪ unique-range ≪ non-unique-eq ≪
// non-unique-range ≪ full scan. in/like-prefix share the eq/range
// tiers since both still bound a cursor walk instead of a full scan. A
// literal that cannot be encoded in idx's comparator domain makes the
// predicate ineligible, falling back to a full scan rather than
// narrowing the candidate set with a key the index can't represent.
func indexCost(idx *collection.IndexDescriptor, e *jql.Expr) (cost int, eligible bool) {
	unique := idx.Mode.Unique()
	switch e.Op {
	case jql.OpEq:
		if _, ok := collection.EncodeIndexKey(idx.Mode, literalToNode(e.Value)); !ok {
			return 0, false
		}
		if unique {
			return 0, true
		}
		return 2, true
	case jql.OpIn:
		if len(e.Value.Items) == 0 {
			return 0, false
		}
		for _, item := range e.Value.Items {
			if _, ok := collection.EncodeIndexKey(idx.Mode, literalToNode(item)); !ok {
				return 0, false
			}
		}
		if unique {
			return 0, true
		}
		return 2, true
	case jql.OpGt, jql.OpGe, jql.OpLt, jql.OpLe:
		if _, ok := collection.EncodeIndexKey(idx.Mode, literalToNode(e.Value)); !ok {
			return 0, false
		}
		if unique {
			return 1, true
		}
		return 3, true
	case jql.OpLike:
		prefix, ok := likePrefix(e.Value.Str)
		if !ok {
			return 0, false
		}
		if _, ok := collection.EncodeIndexKey(idx.Mode, bdoc.NewString(prefix)); !ok {
			return 0, false
		}
		if unique {
			return 1, true
		}
		return 3, true
	default:
		return 0, false
	}
}
