package jql

import (
	"regexp"

	"embeddb/internal/bdoc"
)

// LitKind tags a Literal's concrete value.
type LitKind int

const (
	LitString LitKind = iota
	LitI64
	LitF64
	LitBool
	LitNull
	LitArray
	LitRegexp
	LitJSON // raw JSON text, for apply/upsert directive arguments
)

// Literal is a leaf value in an expression: a constant, or an
// unbound/bound parameter placeholder. Binding (Set*) mutates a
// Literal in place; since the AST holds pointers to it, every
// occurrence of the same parameter updates together.
type Literal struct {
	Kind LitKind

	Str    string
	I64    int64
	F64    float64
	Bool   bool
	Items  []*Literal
	Regexp *regexp.Regexp
	Doc    *bdoc.Node // parsed value, for LitJSON

	IsParam    bool
	ParamIndex int // index among positional '?' placeholders, in source order; -1 if named
	ParamName  string
	bound      bool // set by a Set* binder once this placeholder has been assigned
}

// Op is a filter expression's comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpIn
	OpNi
	OpRe
	OpSim // '~': case-insensitive substring match
	OpLike
)

// Expr is one `<lhs> <op> <rhs>` comparison: lhs is a field key
// relative to the path node it's nested in, rhs a literal (or bound
// parameter).
type Expr struct {
	Field string
	Op    Op
	Value *Literal
}

// ExprGroup is one bracketed node's predicate: a list of Expr joined
// left-to-right by "and"/"or" (grammar gives and/or equal,
// left-associative precedence, no sub-grouping beyond one bracket.
type ExprGroup struct {
	Exprs []Expr
	// Conj[i] joins Exprs[i] and Exprs[i+1]; "and" or "or".
	Conj []string
}

// PathNodeKind tags one segment of the filter path.
type PathNodeKind int

const (
	NodeWildcard  PathNodeKind = iota // "*"
	NodeRecursive                     // "**"
	NodeKey                           // a literal key
	NodeExpr                          // "[" ExprGroup "]"
)

// PathNode is one `/`-separated segment of a query's filter.
type PathNode struct {
	Kind  PathNodeKind
	Key   string
	Group *ExprGroup
}

// DirectiveKind tags one `|`-separated directive.
type DirectiveKind int

const (
	DirSkip DirectiveKind = iota
	DirLimit
	DirCount
	DirNoIdx
	DirInverse
	DirAsc
	DirDesc
	DirApply
	DirUpsert
	DirDel
	DirFields
)

// Directive is one query pipeline stage after the filter.
type Directive struct {
	Kind   DirectiveKind
	Int    int64
	Ptr    string   // asc/desc
	Ptrs   []string // fields
	JSON   *Literal // apply/upsert argument (LitJSON, possibly parameterized as a whole)
}

// Query is a parsed, bindable JQL query.
type Query struct {
	Collection string
	Path       []PathNode
	Directives []Directive

	positional []*Literal
	named      map[string]*Literal

	source   string
	parseErr string
}

// Source returns the original query text.
func (q *Query) Source() string { return q.source }

// Error returns a human-readable parse-failure message, or "" if
// parsing succeeded).
func (q *Query) Error() string { return q.parseErr }
