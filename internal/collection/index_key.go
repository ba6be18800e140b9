package collection

import (
	"bytes"
	"encoding/binary"
	"strconv"

	"embeddb/internal/bdoc"
)

// EncodeIndexKey renders v as the sortable byte key an index of the
// given mode stores it under. A non-scalar value (object, array) or a
// value that cannot be rendered in the index's comparator domain
// reports ok=false; the caller treats this as a sparse-index miss, not
// an error.
func EncodeIndexKey(mode IndexMode, v *bdoc.Node) (key []byte, ok bool) {
	if v == nil {
		return nil, false
	}
	switch mode.comparatorKind() {
	case ModeI64:
		if !isIntegral(v) {
			return nil, false
		}
		return encodeInt64Key(v.Int64()), true
	case ModeDecimal:
		if !isNumeric(v) {
			return nil, false
		}
		return []byte(strconv.FormatFloat(v.Float64(), 'g', -1, 64)), true
	default:
		if v.Tag != bdoc.TagString {
			return nil, false
		}
		return []byte(v.String()), true
	}
}

func encodeInt64Key(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

// DecodeIndexKeyI64 reverses EncodeIndexKey for a ModeI64 key.
func DecodeIndexKeyI64(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key))
}

// DecodeIndexKeyDecimal reverses EncodeIndexKey for a ModeDecimal key.
func DecodeIndexKeyDecimal(key []byte) float64 {
	f, _ := strconv.ParseFloat(string(key), 64)
	return f
}

// DecodeIndexKeyString reverses EncodeIndexKey for a ModeString key.
func DecodeIndexKeyString(key []byte) string { return string(key) }

// CompareIndexKeys orders two encoded index keys the way the index's
// own tree comparator does: numeric modes decode before comparing
// (big-endian two's complement is not byte-order-monotonic for
// negative values, and ASCII decimal text isn't either), everything
// else falls back to a lexicographic byte compare.
func CompareIndexKeys(mode IndexMode, a, b []byte) int {
	switch mode.comparatorKind() {
	case ModeI64:
		va, vb := DecodeIndexKeyI64(a), DecodeIndexKeyI64(b)
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		default:
			return 0
		}
	case ModeDecimal:
		va, vb := DecodeIndexKeyDecimal(a), DecodeIndexKeyDecimal(b)
		switch {
		case va < vb:
			return -1
		case va > vb:
			return 1
		default:
			return 0
		}
	default:
		return bytes.Compare(a, b)
	}
}

func isIntegral(n *bdoc.Node) bool {
	switch n.Tag {
	case bdoc.TagI8, bdoc.TagI16, bdoc.TagI32, bdoc.TagI64,
		bdoc.TagU8, bdoc.TagU16, bdoc.TagU32, bdoc.TagU64:
		return true
	default:
		return false
	}
}

func isNumeric(n *bdoc.Node) bool {
	return isIntegral(n) || n.Tag == bdoc.TagF64
}
