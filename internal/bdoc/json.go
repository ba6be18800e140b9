package bdoc

import (
	"bytes"
	"fmt"
	"strconv"

	json "github.com/goccy/go-json"
)

// FromJSON parses a JSON text into a node tree. Tokenizing itself is
// delegated to github.com/goccy/go-json's token-based Decoder; this
// function's own job is solely to preserve object member insertion
// order while walking those tokens, which a plain map[string]any
// decode would lose.
func FromJSON(data []byte) (*Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	n, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func decodeValue(dec *json.Decoder) (*Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (*Node, error) {
	switch t := tok.(type) {
	case nil:
		return NewNull(), nil
	case bool:
		return NewBool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return NewI64(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, err
		}
		return NewF64(f), nil
	case string:
		return NewString(t), nil
	case json.Delim:
		switch t {
		case '{':
			obj := NewObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("bdoc: non-string object key")
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return nil, err
			}
			return obj, nil
		case '[':
			arr := NewArray()
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr.Append(val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return nil, err
			}
			return arr, nil
		}
	}
	return nil, fmt.Errorf("bdoc: unexpected token %v", tok)
}

// PrinterFlags controls AsJSON rendering.
type PrinterFlags int

const (
	// Pretty indents containers with newlines.
	Pretty PrinterFlags = 1 << iota
	// Codepoints escapes non-ASCII runes as \uXXXX instead of emitting
	// UTF-8 bytes directly.
	Codepoints
)

// Printer renders packed BDOC values as JSON text.
type Printer struct {
	Flags PrinterFlags
	Indent string // used when Pretty is set; defaults to two spaces
}

// AsJSON renders the value at the start of d as JSON text.
func AsJSON(d Doc, p Printer) ([]byte, error) {
	if p.Indent == "" {
		p.Indent = "  "
	}
	var buf bytes.Buffer
	if err := writeView(&buf, View{raw: d}, p, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeView(buf *bytes.Buffer, v View, p Printer, depth int) error {
	pretty := p.Flags&Pretty != 0
	switch v.Tag() {
	case TagNull:
		buf.WriteString("null")
	case TagFalse:
		buf.WriteString("false")
	case TagTrue:
		buf.WriteString("true")
	case TagI8, TagI16, TagI32, TagI64:
		buf.WriteString(strconv.FormatInt(v.Int64(), 10))
	case TagU8, TagU16, TagU32, TagU64:
		n, _, _ := parseAt(v.raw)
		buf.WriteString(strconv.FormatUint(n.Uint64(), 10))
	case TagF64:
		buf.WriteString(strconv.FormatFloat(v.Float64(), 'g', -1, 64))
	case TagString:
		writeJSONString(buf, v.Str(), p)
	case TagBinary:
		// Binary values have no JSON literal; render the raw bytes as an
		// escaped JSON string so as_json never fails on a valid document.
		writeJSONString(buf, string(v.Bytes()), p)
	case TagArray:
		count := v.Len()
		buf.WriteByte('[')
		for i := 0; i < count; i++ {
			if i > 0 {
				buf.WriteByte(',')
			}
			if pretty {
				writeNewlineIndent(buf, p.Indent, depth+1)
			}
			child, _ := v.Index(i)
			if err := writeView(buf, child, p, depth+1); err != nil {
				return err
			}
		}
		if pretty && count > 0 {
			writeNewlineIndent(buf, p.Indent, depth)
		}
		buf.WriteByte(']')
	case TagObject:
		keys := v.Keys()
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if pretty {
				writeNewlineIndent(buf, p.Indent, depth+1)
			}
			writeJSONString(buf, k, p)
			buf.WriteByte(':')
			if pretty {
				buf.WriteByte(' ')
			}
			child, _ := v.Field(k)
			if err := writeView(buf, child, p, depth+1); err != nil {
				return err
			}
		}
		if pretty && len(keys) > 0 {
			writeNewlineIndent(buf, p.Indent, depth)
		}
		buf.WriteByte('}')
	default:
		return ErrBadTag
	}
	return nil
}

func writeNewlineIndent(buf *bytes.Buffer, indent string, depth int) {
	buf.WriteByte('\n')
	for i := 0; i < depth; i++ {
		buf.WriteString(indent)
	}
}

func writeJSONString(buf *bytes.Buffer, s string, p Printer) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else if r > 0x7e && p.Flags&Codepoints != 0 {
				if r > 0xffff {
					r1, r2 := utf16Pair(r)
					fmt.Fprintf(buf, `\u%04x\u%04x`, r1, r2)
				} else {
					fmt.Fprintf(buf, `\u%04x`, r)
				}
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

func utf16Pair(r rune) (rune, rune) {
	r -= 0x10000
	return 0xd800 + (r >> 10), 0xdc00 + (r & 0x3ff)
}
