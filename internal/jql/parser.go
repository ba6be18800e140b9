package jql

import (
	"fmt"
	"regexp"
	"strconv"

	"embeddb/internal/bdoc"
)

type parser struct {
	lex        *lexer
	cur        token
	q          *Query
	paramCount int
}

// Parse parses src into a bindable Query. On a syntax error, the
// returned Query is non-nil with Error() set to a human-readable
// message, and err is also returned for callers that prefer to fail
// fast.
func Parse(src string) (*Query, error) {
	p := &parser{lex: newLexer(src), q: &Query{source: src, named: map[string]*Literal{}}}
	if err := p.advance(); err != nil {
		p.q.parseErr = err.Error()
		return p.q, err
	}
	if err := p.parseQuery(); err != nil {
		p.q.parseErr = err.Error()
		return p.q, err
	}
	return p.q, nil
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.cur = tok
	return nil
}

func (p *parser) expect(k tokenKind, what string) (token, error) {
	if p.cur.kind != k {
		return token{}, fmt.Errorf("jql: query_parse: expected %s at %d", what, p.cur.pos)
	}
	tok := p.cur
	return tok, p.advance()
}

func (p *parser) parseQuery() error {
	if p.cur.kind == tAt {
		if err := p.advance(); err != nil {
			return err
		}
		name, err := p.expect(tIdent, "collection name")
		if err != nil {
			return err
		}
		p.q.Collection = name.text
	}

	for p.cur.kind == tSlash {
		if err := p.advance(); err != nil {
			return err
		}
		node, err := p.parsePathNode()
		if err != nil {
			return err
		}
		p.q.Path = append(p.q.Path, node)
	}

	for p.cur.kind == tPipe {
		if err := p.advance(); err != nil {
			return err
		}
		d, err := p.parseDirective()
		if err != nil {
			return err
		}
		p.q.Directives = append(p.q.Directives, d)
	}

	if p.cur.kind != tEOF {
		return fmt.Errorf("jql: query_parse: unexpected trailing input at %d", p.cur.pos)
	}
	return nil
}

func (p *parser) parsePathNode() (PathNode, error) {
	switch p.cur.kind {
	case tDSlash:
		if err := p.advance(); err != nil {
			return PathNode{}, err
		}
		return PathNode{Kind: NodeRecursive}, nil
	case tStar:
		if err := p.advance(); err != nil {
			return PathNode{}, err
		}
		return PathNode{Kind: NodeWildcard}, nil
	case tLBracket:
		if err := p.advance(); err != nil {
			return PathNode{}, err
		}
		group, err := p.parseExprGroup()
		if err != nil {
			return PathNode{}, err
		}
		if _, err := p.expect(tRBracket, "']'"); err != nil {
			return PathNode{}, err
		}
		return PathNode{Kind: NodeExpr, Group: group}, nil
	case tIdent:
		key := p.cur.text
		if err := p.advance(); err != nil {
			return PathNode{}, err
		}
		return PathNode{Kind: NodeKey, Key: key}, nil
	case tString:
		key := p.cur.text
		if err := p.advance(); err != nil {
			return PathNode{}, err
		}
		return PathNode{Kind: NodeKey, Key: key}, nil
	default:
		return PathNode{}, fmt.Errorf("jql: query_parse: expected path node at %d", p.cur.pos)
	}
}

func (p *parser) parseExprGroup() (*ExprGroup, error) {
	group := &ExprGroup{}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	group.Exprs = append(group.Exprs, e)
	for p.cur.kind == tIdent && (p.cur.text == "and" || p.cur.text == "or") {
		conj := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		group.Conj = append(group.Conj, conj)
		group.Exprs = append(group.Exprs, e)
	}
	return group, nil
}

func (p *parser) parseExpr() (Expr, error) {
	field, err := p.expect(tIdent, "field name")
	if err != nil {
		return Expr{}, err
	}
	op, err := p.parseOp()
	if err != nil {
		return Expr{}, err
	}
	var val *Literal
	if op == OpIn || op == OpNi {
		val, err = p.parseArrayLiteral()
	} else if op == OpRe || op == OpSim {
		val, err = p.parseRegexpLiteral()
	} else {
		val, err = p.parseLiteral()
	}
	if err != nil {
		return Expr{}, err
	}
	return Expr{Field: field.text, Op: op, Value: val}, nil
}

func (p *parser) parseOp() (Op, error) {
	switch p.cur.kind {
	case tOpEq:
		return p.consumeOp(OpEq)
	case tOpNe:
		return p.consumeOp(OpNe)
	case tOpGt:
		return p.consumeOp(OpGt)
	case tOpGe:
		return p.consumeOp(OpGe)
	case tOpLt:
		return p.consumeOp(OpLt)
	case tOpLe:
		return p.consumeOp(OpLe)
	case tTilde:
		return p.consumeOp(OpSim)
	case tIdent:
		switch p.cur.text {
		case "in":
			return p.consumeOp(OpIn)
		case "ni":
			return p.consumeOp(OpNi)
		case "re":
			return p.consumeOp(OpRe)
		case "like":
			return p.consumeOp(OpLike)
		}
	}
	return 0, fmt.Errorf("jql: query_parse: expected operator at %d", p.cur.pos)
}

func (p *parser) consumeOp(op Op) (Op, error) { return op, p.advance() }

func (p *parser) newParamRef() *Literal {
	lit := &Literal{IsParam: true}
	if p.cur.kind == tQuestion {
		lit.ParamIndex = p.paramCount
		p.paramCount++
		p.q.positional = append(p.q.positional, lit)
	} else {
		lit.ParamIndex = -1
		lit.ParamName = p.cur.text
		p.q.named[lit.ParamName] = lit
	}
	return lit
}

func (p *parser) parseLiteral() (*Literal, error) {
	switch p.cur.kind {
	case tQuestion, tColonName:
		lit := p.newParamRef()
		return lit, p.advance()
	case tString:
		lit := &Literal{Kind: LitString, Str: p.cur.text}
		return lit, p.advance()
	case tNumber:
		lit, err := numberLiteral(p.cur.text)
		if err != nil {
			return nil, err
		}
		return lit, p.advance()
	case tIdent:
		switch p.cur.text {
		case "true":
			return &Literal{Kind: LitBool, Bool: true}, p.advance()
		case "false":
			return &Literal{Kind: LitBool, Bool: false}, p.advance()
		case "null":
			return &Literal{Kind: LitNull}, p.advance()
		default:
			// Bare word used as a literal string (unquoted match value).
			lit := &Literal{Kind: LitString, Str: p.cur.text}
			return lit, p.advance()
		}
	default:
		return nil, fmt.Errorf("jql: query_parse: expected literal at %d", p.cur.pos)
	}
}

func numberLiteral(text string) (*Literal, error) {
	if i, err := strconv.ParseInt(text, 10, 64); err == nil {
		return &Literal{Kind: LitI64, I64: i}, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, fmt.Errorf("jql: query_parse: bad number %q: %w", text, err)
	}
	return &Literal{Kind: LitF64, F64: f}, nil
}

func (p *parser) parseArrayLiteral() (*Literal, error) {
	if p.cur.kind == tQuestion || p.cur.kind == tColonName {
		lit := p.newParamRef()
		lit.Kind = LitArray
		return lit, p.advance()
	}
	if _, err := p.expect(tLBracket, "'[' to start a set literal"); err != nil {
		return nil, err
	}
	arr := &Literal{Kind: LitArray}
	if p.cur.kind != tRBracket {
		for {
			item, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			arr.Items = append(arr.Items, item)
			if p.cur.kind != tComma {
				break
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(tRBracket, "']' to close a set literal"); err != nil {
		return nil, err
	}
	return arr, nil
}

func (p *parser) parseRegexpLiteral() (*Literal, error) {
	if p.cur.kind == tQuestion || p.cur.kind == tColonName {
		lit := p.newParamRef()
		lit.Kind = LitRegexp
		return lit, p.advance()
	}
	tok, err := p.expect(tString, "regular expression literal")
	if err != nil {
		return nil, err
	}
	re, err := regexp.Compile(tok.text)
	if err != nil {
		return nil, fmt.Errorf("jql: query_parse: bad regexp %q: %w", tok.text, err)
	}
	return &Literal{Kind: LitRegexp, Regexp: re}, nil
}

func (p *parser) parseDirective() (Directive, error) {
	if p.cur.kind != tIdent {
		return Directive{}, fmt.Errorf("jql: query_parse: expected directive name at %d", p.cur.pos)
	}
	// apply/upsert take a raw JSON argument that the regular token
	// stream cannot tokenize structurally ('{'/'}'/':' inside an
	// object aren't grammar tokens). The lexer has not yet looked past
	// this directive-name token, so its position is still exactly
	// where the raw scan (or a bound-parameter check) needs to start;
	// dispatch before calling advance() for every other directive.
	if p.cur.text == "apply" || p.cur.text == "upsert" {
		kind := DirApply
		if p.cur.text == "upsert" {
			kind = DirUpsert
		}
		lit, err := p.parseJSONDirectiveArg()
		if err != nil {
			return Directive{}, err
		}
		return Directive{Kind: kind, JSON: lit}, nil
	}

	name := p.cur
	if err := p.advance(); err != nil {
		return Directive{}, err
	}
	switch name.text {
	case "skip":
		n, err := p.parseIntArg()
		if err != nil {
			return Directive{}, err
		}
		return Directive{Kind: DirSkip, Int: n}, nil
	case "limit":
		n, err := p.parseIntArg()
		if err != nil {
			return Directive{}, err
		}
		return Directive{Kind: DirLimit, Int: n}, nil
	case "count":
		return Directive{Kind: DirCount}, nil
	case "noidx":
		return Directive{Kind: DirNoIdx}, nil
	case "inverse":
		return Directive{Kind: DirInverse}, nil
	case "del":
		return Directive{Kind: DirDel}, nil
	case "asc":
		ptr, err := p.parsePointerArg()
		if err != nil {
			return Directive{}, err
		}
		return Directive{Kind: DirAsc, Ptr: ptr}, nil
	case "desc":
		ptr, err := p.parsePointerArg()
		if err != nil {
			return Directive{}, err
		}
		return Directive{Kind: DirDesc, Ptr: ptr}, nil
	case "fields":
		ptrs, err := p.parsePointerList()
		if err != nil {
			return Directive{}, err
		}
		return Directive{Kind: DirFields, Ptrs: ptrs}, nil
	default:
		return Directive{}, fmt.Errorf("jql: query_parse: unknown directive %q at %d", name.text, name.pos)
	}
}

func (p *parser) parseIntArg() (int64, error) {
	if p.cur.kind != tNumber {
		return 0, fmt.Errorf("jql: query_parse: expected integer argument at %d", p.cur.pos)
	}
	tok := p.cur
	n, err := strconv.ParseInt(tok.text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("jql: query_parse: bad integer %q at %d", tok.text, tok.pos)
	}
	return n, p.advance()
}

func (p *parser) parsePointerArg() (string, error) {
	if p.cur.kind == tString {
		s := p.cur.text
		return s, p.advance()
	}
	if p.cur.kind != tSlash {
		return "", fmt.Errorf("jql: query_parse: expected pointer argument at %d", p.cur.pos)
	}
	var out string
	for p.cur.kind == tSlash {
		out += "/"
		if err := p.advance(); err != nil {
			return "", err
		}
		switch p.cur.kind {
		case tIdent:
			out += p.cur.text
		case tNumber:
			out += p.cur.text
		case tStar:
			out += "*"
		default:
			return "", fmt.Errorf("jql: query_parse: bad pointer segment at %d", p.cur.pos)
		}
		if err := p.advance(); err != nil {
			return "", err
		}
	}
	return out, nil
}

func (p *parser) parsePointerList() ([]string, error) {
	var out []string
	for {
		ptr, err := p.parsePointerArg()
		if err != nil {
			return nil, err
		}
		out = append(out, ptr)
		if p.cur.kind != tComma {
			break
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// parseJSONDirectiveArg reads an apply/upsert directive's argument.
// p.cur still holds the directive-name token ("apply"/"upsert"); the
// lexer itself has not advanced past it, so its rune position is
// exactly where the argument starts, letting this choose between a
// bound-parameter reference and a raw JSON scan before any ordinary
// tokenization of what follows is attempted.
func (p *parser) parseJSONDirectiveArg() (*Literal, error) {
	p.lex.skipSpace()
	if r, ok := p.lex.peekRune(); ok && (r == '?' || r == ':') {
		if err := p.advance(); err != nil {
			return nil, err
		}
		lit := p.newParamRef()
		lit.Kind = LitJSON
		return lit, p.advance()
	}
	raw, err := p.lex.scanRawJSON()
	if err != nil {
		return nil, err
	}
	doc, err := bdoc.FromJSON([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("jql: json_parse: %w", err)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return &Literal{Kind: LitJSON, Doc: doc}, nil
}
