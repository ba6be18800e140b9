package btree

import (
	"bytes"
	"encoding/binary"
	"strconv"
)

// Comparator orders the byte-string keys stored in a tree. Selected at
// Open time and recorded in the tree's opaque header; invariant for
// the lifetime of the index.
type Comparator interface {
	Compare(a, b []byte) int
	Name() string
}

// Byte-lexicographic comparator: plain byte.Compare. The default, and
// the only comparator that makes sense for free-form string keys.
type lexComparator struct{}

func (lexComparator) Compare(a, b []byte) int { return bytes.Compare(a, b) }
func (lexComparator) Name() string            { return "lex" }

// Lex is the byte-lexicographic comparator.
var Lex Comparator = lexComparator{}

// decimalComparator orders keys as the decimal numbers their text
// represents (keys are ASCII decimal, optionally with a fractional
// part and leading '-').
type decimalComparator struct{}

func (decimalComparator) Compare(a, b []byte) int {
	fa, erra := strconv.ParseFloat(string(a), 64)
	fb, errb := strconv.ParseFloat(string(b), 64)
	if erra != nil || errb != nil {
		return bytes.Compare(a, b)
	}
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	default:
		return 0
	}
}
func (decimalComparator) Name() string { return "decimal" }

// Decimal is the decimal-number comparator.
var Decimal Comparator = decimalComparator{}

// signedIntComparator orders keys as 64-bit big-endian two's-complement
// signed integers; 4-byte keys are sign-extended to 64 bits first.
type signedIntComparator struct{}

func (signedIntComparator) Compare(a, b []byte) int {
	va, oka := decodeSigned(a)
	vb, okb := decodeSigned(b)
	if !oka || !okb {
		return bytes.Compare(a, b)
	}
	switch {
	case va < vb:
		return -1
	case va > vb:
		return 1
	default:
		return 0
	}
}
func (signedIntComparator) Name() string { return "signed-int" }

func decodeSigned(b []byte) (int64, bool) {
	switch len(b) {
	case 4:
		return int64(int32(binary.BigEndian.Uint32(b))), true
	case 8:
		return int64(binary.BigEndian.Uint64(b)), true
	default:
		return 0, false
	}
}

// SignedInt is the 32/64-bit signed integer comparator.
var SignedInt Comparator = signedIntComparator{}

// ByName resolves one of the three well-known comparators by the name
// recorded in a tree's persisted header.
func ByName(name string) Comparator {
	switch name {
	case "decimal":
		return Decimal
	case "signed-int":
		return SignedInt
	default:
		return Lex
	}
}

// EncodeInt64 renders v as a sortable 8-byte big-endian key for use
// with SignedInt.
func EncodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
