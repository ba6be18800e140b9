// Package jql implements the engine's query language:
// a hand-written recursive-descent lexer/parser producing an AST that
// retains its parse tree across parameter binding, so binding `?`/
// `:name` placeholders is cheap and mutates only leaf literal nodes.
package jql

import (
	"fmt"
	"strings"
)

type tokenKind int

const (
	tEOF tokenKind = iota
	tSlash
	tDSlash // "**" path segment, lexed as one token
	tStar
	tLBracket
	tRBracket
	tPipe
	tAt
	tComma
	tQuestion
	tColonName // ":name"
	tString    // quoted string literal
	tNumber    // numeric literal (raw text, sign handled)
	tIdent     // bare word: key, keyword (and/or/in/ni/re/like/true/false/null), directive name
	tOpEq
	tOpNe
	tOpGe
	tOpLe
	tOpGt
	tOpLt
	tTilde
)

type token struct {
	kind tokenKind
	text string // raw text (ident name, string contents, number text, colon-name)
	pos  int
}

type lexer struct {
	src []rune
	pos int
}

func newLexer(src string) *lexer { return &lexer{src: []rune(src)} }

func (l *lexer) peekRune() (rune, bool) {
	if l.pos >= len(l.src) {
		return 0, false
	}
	return l.src[l.pos], true
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	startPos := l.pos
	r, ok := l.peekRune()
	if !ok {
		return token{kind: tEOF, pos: startPos}, nil
	}

	switch r {
	case '/':
		l.pos++
		if p, ok := l.peekRune(); ok && p == '/' {
			// "//" is never valid in a path; treat single '/' tokens
			// only, letting the parser reject the empty node.
			_ = p
		}
		return token{kind: tSlash, pos: startPos}, nil
	case '*':
		l.pos++
		if p, ok := l.peekRune(); ok && p == '*' {
			l.pos++
			return token{kind: tDSlash, pos: startPos}, nil
		}
		return token{kind: tStar, pos: startPos}, nil
	case '[':
		l.pos++
		return token{kind: tLBracket, pos: startPos}, nil
	case ']':
		l.pos++
		return token{kind: tRBracket, pos: startPos}, nil
	case '|':
		l.pos++
		return token{kind: tPipe, pos: startPos}, nil
	case '@':
		l.pos++
		return token{kind: tAt, pos: startPos}, nil
	case ',':
		l.pos++
		return token{kind: tComma, pos: startPos}, nil
	case '?':
		l.pos++
		return token{kind: tQuestion, pos: startPos}, nil
	case '~':
		l.pos++
		return token{kind: tTilde, pos: startPos}, nil
	case '=':
		l.pos++
		return token{kind: tOpEq, pos: startPos}, nil
	case '!':
		l.pos++
		if p, ok := l.peekRune(); ok && p == '=' {
			l.pos++
			return token{kind: tOpNe, pos: startPos}, nil
		}
		return token{}, fmt.Errorf("jql: query_parse: unexpected '!' at %d", startPos)
	case '>':
		l.pos++
		if p, ok := l.peekRune(); ok && p == '=' {
			l.pos++
			return token{kind: tOpGe, pos: startPos}, nil
		}
		return token{kind: tOpGt, pos: startPos}, nil
	case '<':
		l.pos++
		if p, ok := l.peekRune(); ok && p == '=' {
			l.pos++
			return token{kind: tOpLe, pos: startPos}, nil
		}
		return token{kind: tOpLt, pos: startPos}, nil
	case ':':
		l.pos++
		name := l.scanIdentRunes()
		if name == "" {
			return token{}, fmt.Errorf("jql: query_parse: empty parameter name at %d", startPos)
		}
		return token{kind: tColonName, text: name, pos: startPos}, nil
	case '"':
		return l.scanString(startPos)
	}

	if isIdentStart(r) || r == '-' || (r >= '0' && r <= '9') {
		if r == '-' || (r >= '0' && r <= '9') {
			if tok, ok := l.tryScanNumber(startPos); ok {
				return tok, nil
			}
		}
		name := l.scanIdentRunes()
		return token{kind: tIdent, text: name, pos: startPos}, nil
	}

	return token{}, fmt.Errorf("jql: query_parse: unexpected character %q at %d", r, startPos)
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case ' ', '\t', '\n', '\r':
			l.pos++
		default:
			return
		}
	}
}

func isIdentStart(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isIdentPart(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9') || r == '.' || r == '-'
}

func (l *lexer) scanIdentRunes() string {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	return string(l.src[start:l.pos])
}

func (l *lexer) tryScanNumber(startPos int) (token, bool) {
	start := l.pos
	p := l.pos
	if p < len(l.src) && l.src[p] == '-' {
		p++
	}
	digitsStart := p
	for p < len(l.src) && l.src[p] >= '0' && l.src[p] <= '9' {
		p++
	}
	if p == digitsStart {
		return token{}, false
	}
	if p < len(l.src) && l.src[p] == '.' {
		p++
		fracStart := p
		for p < len(l.src) && l.src[p] >= '0' && l.src[p] <= '9' {
			p++
		}
		if p == fracStart {
			return token{}, false
		}
	}
	l.pos = p
	return token{kind: tNumber, text: string(l.src[start:l.pos]), pos: startPos}, true
}

// scanRawJSON scans one JSON value (object, array, or bare scalar)
// starting at the lexer's current position, used for the apply/upsert
// directive arguments, which the regular token stream does not
// tokenize structurally.
func (l *lexer) scanRawJSON() (string, error) {
	l.skipSpace()
	start := l.pos
	depth := 0
	inStr := false
	started := false
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		if inStr {
			if r == '\\' && l.pos+1 < len(l.src) {
				l.pos += 2
				continue
			}
			if r == '"' {
				inStr = false
			}
			l.pos++
			continue
		}
		switch {
		case r == '"':
			inStr = true
			started = true
			l.pos++
		case r == '{' || r == '[':
			depth++
			started = true
			l.pos++
		case r == '}' || r == ']':
			depth--
			l.pos++
			if depth == 0 {
				return string(l.src[start:l.pos]), nil
			}
		case depth == 0 && (r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '|'):
			if !started {
				return "", fmt.Errorf("jql: query_parse: empty json value at %d", start)
			}
			return string(l.src[start:l.pos]), nil
		default:
			started = true
			l.pos++
		}
	}
	if depth != 0 {
		return "", fmt.Errorf("jql: query_parse: unterminated json value at %d", start)
	}
	if !started {
		return "", fmt.Errorf("jql: query_parse: empty json value at %d", start)
	}
	return string(l.src[start:l.pos]), nil
}

func (l *lexer) scanString(startPos int) (token, error) {
	l.pos++ // opening quote
	var b strings.Builder
	for {
		if l.pos >= len(l.src) {
			return token{}, fmt.Errorf("jql: query_parse: unterminated string at %d", startPos)
		}
		r := l.src[l.pos]
		if r == '"' {
			l.pos++
			return token{kind: tString, text: b.String(), pos: startPos}, nil
		}
		if r == '\\' && l.pos+1 < len(l.src) {
			l.pos++
			esc := l.src[l.pos]
			switch esc {
			case '"':
				b.WriteRune('"')
			case '\\':
				b.WriteRune('\\')
			case 'n':
				b.WriteRune('\n')
			case 't':
				b.WriteRune('\t')
			default:
				b.WriteRune(esc)
			}
			l.pos++
			continue
		}
		b.WriteRune(r)
		l.pos++
	}
}
