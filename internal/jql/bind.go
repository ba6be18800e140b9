package jql

import (
	"fmt"
	"regexp"

	"embeddb/internal/bdoc"
)

// paramTarget resolves a positional index or a named placeholder to the
// Literal(s) it was registered against. Binding mutates those Literals
// in place, so every occurrence of the same parameter in the query
// (e.g. the same `:id` appearing twice) updates together, and no
// re-parse of the query text is needed.
func paramTarget(q *Query, indexOrName any) (*Literal, error) {
	switch v := indexOrName.(type) {
	case int:
		if v < 0 || v >= len(q.positional) {
			return nil, fmt.Errorf("jql: bind: positional parameter %d out of range", v)
		}
		return q.positional[v], nil
	case string:
		lit, ok := q.named[v]
		if !ok {
			return nil, fmt.Errorf("jql: bind: no parameter named %q", v)
		}
		return lit, nil
	default:
		return nil, fmt.Errorf("jql: bind: parameter selector must be int or string, got %T", indexOrName)
	}
}

// SetStr binds a string value to the parameter at indexOrName.
func SetStr(q *Query, indexOrName any, value string) error {
	lit, err := paramTarget(q, indexOrName)
	if err != nil {
		return err
	}
	lit.Kind = LitString
	lit.Str = value
	lit.bound = true
	return nil
}

// SetI64 binds an integer value.
func SetI64(q *Query, indexOrName any, value int64) error {
	lit, err := paramTarget(q, indexOrName)
	if err != nil {
		return err
	}
	lit.Kind = LitI64
	lit.I64 = value
	lit.bound = true
	return nil
}

// SetF64 binds a floating point value.
func SetF64(q *Query, indexOrName any, value float64) error {
	lit, err := paramTarget(q, indexOrName)
	if err != nil {
		return err
	}
	lit.Kind = LitF64
	lit.F64 = value
	lit.bound = true
	return nil
}

// SetBool binds a boolean value.
func SetBool(q *Query, indexOrName any, value bool) error {
	lit, err := paramTarget(q, indexOrName)
	if err != nil {
		return err
	}
	lit.Kind = LitBool
	lit.Bool = value
	lit.bound = true
	return nil
}

// SetNull binds the null literal.
func SetNull(q *Query, indexOrName any) error {
	lit, err := paramTarget(q, indexOrName)
	if err != nil {
		return err
	}
	lit.Kind = LitNull
	lit.bound = true
	return nil
}

// SetJSON binds a raw JSON document, for an apply/upsert directive
// argument supplied as a whole bound parameter.
func SetJSON(q *Query, indexOrName any, raw []byte) error {
	lit, err := paramTarget(q, indexOrName)
	if err != nil {
		return err
	}
	doc, err := bdoc.FromJSON(raw)
	if err != nil {
		return fmt.Errorf("jql: bind: invalid json: %w", err)
	}
	lit.Kind = LitJSON
	lit.Doc = doc
	lit.bound = true
	return nil
}

// SetRegexp binds (and compiles) a regular expression, for a `re`/`~`
// comparison's right-hand side. The compiled *regexp.Regexp is owned
// by this Literal and is dropped along with the Query: a regexp is
// compiled once at bind time, not re-compiled per document evaluated.
func SetRegexp(q *Query, indexOrName any, pattern string) error {
	lit, err := paramTarget(q, indexOrName)
	if err != nil {
		return err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("jql: bind: invalid regexp %q: %w", pattern, err)
	}
	lit.Kind = LitRegexp
	lit.Regexp = re
	lit.bound = true
	return nil
}

// Bound reports whether every parameter placeholder in q has been
// assigned a value via a Set* call.
func Bound(q *Query) bool {
	for _, lit := range q.positional {
		if !lit.bound {
			return false
		}
	}
	for _, lit := range q.named {
		if !lit.bound {
			return false
		}
	}
	return true
}
