package query

import (
	"strings"

	"embeddb/internal/bdoc"
	"embeddb/internal/jql"
)

// resolveField walks field (an extended JSON Pointer, e.g. "age" or
// "addr/city") from candidate, the current path node's node, not from
// the document root: expr fields are always relative to the node the
// bracket is evaluating.
func resolveField(candidate *bdoc.Node, field string) (*bdoc.Node, bool) {
	ptr, err := bdoc.ParsePointer("/" + field)
	if err != nil {
		return nil, false
	}
	return bdoc.ResolveNode(candidate, ptr)
}

// matchPath reports whether doc is selected by a query's filter path,
// using document-level selection semantics: if any candidate node
// produced by walking the path (through wildcards, recursive descent,
// and key navigation) satisfies the path's final predicate, the whole
// document counts as a match. This mirrors how most embedded document
// stores treat a path-qualified filter rather than selecting the
// sub-node itself.
func matchPath(doc *bdoc.Node, path []jql.PathNode) (bool, error) {
	candidates := []*bdoc.Node{doc}
	for _, pn := range path {
		var next []*bdoc.Node
		switch pn.Kind {
		case jql.NodeKey:
			for _, c := range candidates {
				if c.Tag != bdoc.TagObject {
					continue
				}
				if v, ok := c.Get(pn.Key); ok {
					next = append(next, v)
				}
			}
		case jql.NodeWildcard:
			for _, c := range candidates {
				next = append(next, children(c)...)
			}
		case jql.NodeRecursive:
			for _, c := range candidates {
				next = append(next, descendants(c)...)
			}
		case jql.NodeExpr:
			for _, c := range candidates {
				ok, err := evalGroup(c, pn.Group)
				if err != nil {
					return false, err
				}
				if ok {
					next = append(next, c)
				}
			}
		}
		candidates = next
		if len(candidates) == 0 {
			return false, nil
		}
	}
	return len(candidates) > 0, nil
}

func children(n *bdoc.Node) []*bdoc.Node {
	switch n.Tag {
	case bdoc.TagObject:
		members := n.Members()
		out := make([]*bdoc.Node, len(members))
		for i, m := range members {
			out[i] = m.Value
		}
		return out
	case bdoc.TagArray:
		return n.Items()
	default:
		return nil
	}
}

func descendants(n *bdoc.Node) []*bdoc.Node {
	var out []*bdoc.Node
	var walk func(*bdoc.Node)
	walk = func(cur *bdoc.Node) {
		for _, c := range children(cur) {
			out = append(out, c)
			walk(c)
		}
	}
	walk(n)
	return out
}

// evalGroup evaluates a bracket's expressions left-to-right against
// candidate, joining with "and"/"or" at equal precedence (no
// short-circuit beyond what left-to-right folding already gives).
func evalGroup(candidate *bdoc.Node, g *jql.ExprGroup) (bool, error) {
	if len(g.Exprs) == 0 {
		return true, nil
	}
	result, err := evalExpr(candidate, g.Exprs[0])
	if err != nil {
		return false, err
	}
	for i, conj := range g.Conj {
		next, err := evalExpr(candidate, g.Exprs[i+1])
		if err != nil {
			return false, err
		}
		if conj == "or" {
			result = result || next
		} else {
			result = result && next
		}
	}
	return result, nil
}

func evalExpr(candidate *bdoc.Node, e jql.Expr) (bool, error) {
	field, ok := resolveField(candidate, e.Field)
	switch e.Op {
	case jql.OpEq:
		return ok && literalEquals(field, e.Value), nil
	case jql.OpNe:
		return !ok || !literalEquals(field, e.Value), nil
	case jql.OpGt, jql.OpGe, jql.OpLt, jql.OpLe:
		if !ok {
			return false, nil
		}
		cmp, comparable := literalCompare(field, e.Value)
		if !comparable {
			return false, nil
		}
		switch e.Op {
		case jql.OpGt:
			return cmp > 0, nil
		case jql.OpGe:
			return cmp >= 0, nil
		case jql.OpLt:
			return cmp < 0, nil
		default:
			return cmp <= 0, nil
		}
	case jql.OpIn:
		if !ok {
			return false, nil
		}
		return literalMember(field, e.Value), nil
	case jql.OpNi:
		if !ok {
			return true, nil
		}
		return !literalMember(field, e.Value), nil
	case jql.OpRe:
		if !ok || field.Tag != bdoc.TagString || e.Value.Regexp == nil {
			return false, nil
		}
		return e.Value.Regexp.MatchString(field.String()), nil
	case jql.OpSim:
		if !ok || field.Tag != bdoc.TagString {
			return false, nil
		}
		return strings.Contains(strings.ToLower(field.String()), strings.ToLower(e.Value.Str)), nil
	case jql.OpLike:
		if !ok || field.Tag != bdoc.TagString {
			return false, nil
		}
		return likeMatch(field.String(), e.Value.Str), nil
	default:
		return false, nil
	}
}

func literalEquals(field *bdoc.Node, lit *jql.Literal) bool {
	switch lit.Kind {
	case jql.LitString:
		return field.Tag == bdoc.TagString && field.String() == lit.Str
	case jql.LitI64:
		return isNumericNode(field) && field.Float64() == float64(lit.I64)
	case jql.LitF64:
		return isNumericNode(field) && field.Float64() == lit.F64
	case jql.LitBool:
		return (field.Tag == bdoc.TagTrue || field.Tag == bdoc.TagFalse) && field.Bool() == lit.Bool
	case jql.LitNull:
		return field.Tag == bdoc.TagNull
	case jql.LitJSON:
		return bdoc.Equal(field, lit.Doc)
	default:
		return false
	}
}

func literalCompare(field *bdoc.Node, lit *jql.Literal) (int, bool) {
	switch lit.Kind {
	case jql.LitI64:
		if !isNumericNode(field) {
			return 0, false
		}
		return floatCompare(field.Float64(), float64(lit.I64)), true
	case jql.LitF64:
		if !isNumericNode(field) {
			return 0, false
		}
		return floatCompare(field.Float64(), lit.F64), true
	case jql.LitString:
		if field.Tag != bdoc.TagString {
			return 0, false
		}
		return strings.Compare(field.String(), lit.Str), true
	default:
		return 0, false
	}
}

func literalMember(field *bdoc.Node, lit *jql.Literal) bool {
	for _, item := range lit.Items {
		if literalEquals(field, item) {
			return true
		}
	}
	return false
}

func isNumericNode(n *bdoc.Node) bool {
	switch n.Tag {
	case bdoc.TagI8, bdoc.TagI16, bdoc.TagI32, bdoc.TagI64,
		bdoc.TagU8, bdoc.TagU16, bdoc.TagU32, bdoc.TagU64, bdoc.TagF64:
		return true
	default:
		return false
	}
}

func floatCompare(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
