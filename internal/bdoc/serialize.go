package bdoc

import (
	"math"

	"embeddb/internal/bpool"
)

// Serialize encodes a node tree to packed form. Container sizes are
// computed in a first pass (sizeOf) so the second pass (emit) can write
// directly into a correctly sized buffer without reallocation.
func Serialize(n *Node) (Doc, error) {
	if n == nil {
		n = NewNull()
	}
	size := sizeOf(n)
	buf := bpool.Get(size)[:size]
	emit(n, buf)
	return Doc(buf), nil
}

func sizeOf(n *Node) int {
	switch n.Tag {
	case TagNull, TagFalse, TagTrue:
		return 1
	case TagI8, TagU8:
		return 2
	case TagI16, TagU16:
		return 3
	case TagI32, TagU32:
		return 5
	case TagI64, TagU64, TagF64:
		return 9
	case TagString:
		return 1 + 4 + len(n.str) + 1
	case TagBinary:
		return 1 + 4 + len(n.bin)
	case TagArray:
		total := 1 + 4 + 4
		for _, it := range n.items {
			total += 4 + sizeOf(it)
		}
		return total
	case TagObject:
		total := 1 + 4 + 4
		for _, m := range n.members {
			total += 4 + len(m.Key) + 1 + 4 + sizeOf(m.Value)
		}
		return total
	default:
		return 1
	}
}

func emit(n *Node, buf []byte) int {
	buf[0] = byte(n.Tag)
	switch n.Tag {
	case TagNull, TagFalse, TagTrue:
		return 1
	case TagI8:
		buf[1] = byte(n.i64)
		return 2
	case TagU8:
		buf[1] = byte(n.u64)
		return 2
	case TagI16:
		putU16(buf[1:], uint16(n.i64))
		return 3
	case TagU16:
		putU16(buf[1:], uint16(n.u64))
		return 3
	case TagI32:
		putU32(buf[1:], uint32(n.i64))
		return 5
	case TagU32:
		putU32(buf[1:], uint32(n.u64))
		return 5
	case TagI64:
		putU64(buf[1:], uint64(n.i64))
		return 9
	case TagU64:
		putU64(buf[1:], n.u64)
		return 9
	case TagF64:
		putU64(buf[1:], f64bits(n.f64))
		return 9
	case TagString:
		putU32(buf[1:5], uint32(len(n.str)))
		copy(buf[5:], n.str)
		buf[5+len(n.str)] = 0
		return 5 + len(n.str) + 1
	case TagBinary:
		putU32(buf[1:5], uint32(len(n.bin)))
		copy(buf[5:], n.bin)
		return 5 + len(n.bin)
	case TagArray:
		off := 9
		for _, it := range n.items {
			sz := sizeOf(it)
			putU32(buf[off:off+4], uint32(sz))
			emit(it, buf[off+4:off+4+sz])
			off += 4 + sz
		}
		putU32(buf[1:5], uint32(off))
		putU32(buf[5:9], uint32(len(n.items)))
		return off
	case TagObject:
		off := 9
		for _, m := range n.members {
			klen := len(m.Key)
			putU32(buf[off:off+4], uint32(klen))
			copy(buf[off+4:], m.Key)
			buf[off+4+klen] = 0
			off += 4 + klen + 1
			vsz := sizeOf(m.Value)
			putU32(buf[off:off+4], uint32(vsz))
			emit(m.Value, buf[off+4:off+4+vsz])
			off += 4 + vsz
		}
		putU32(buf[1:5], uint32(off))
		putU32(buf[5:9], uint32(len(n.members)))
		return off
	default:
		return 1
	}
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func leU16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func f64bits(v float64) uint64   { return math.Float64bits(v) }
func f64frombits(b uint64) float64 { return math.Float64frombits(b) }
