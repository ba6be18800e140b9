package bdoc

// Parse decodes packed bytes into a mutable node tree. Parse(Serialize(n))
// reproduces n structurally, including object key order.
func Parse(d Doc) (*Node, error) {
	n, _, err := parseAt(d)
	return n, err
}

func parseAt(d Doc) (*Node, int, error) {
	if len(d) < 1 {
		return nil, 0, ErrShortBuffer
	}
	tag := Tag(d[0])
	switch tag {
	case TagNull:
		return &Node{Tag: TagNull}, 1, nil
	case TagFalse:
		return &Node{Tag: TagFalse}, 1, nil
	case TagTrue:
		return &Node{Tag: TagTrue}, 1, nil
	case TagI8:
		if len(d) < 2 {
			return nil, 0, ErrShortBuffer
		}
		return &Node{Tag: TagI8, i64: int64(int8(d[1]))}, 2, nil
	case TagU8:
		if len(d) < 2 {
			return nil, 0, ErrShortBuffer
		}
		return &Node{Tag: TagU8, u64: uint64(d[1])}, 2, nil
	case TagI16:
		if len(d) < 3 {
			return nil, 0, ErrShortBuffer
		}
		return &Node{Tag: TagI16, i64: int64(int16(leU16(d[1:3])))}, 3, nil
	case TagU16:
		if len(d) < 3 {
			return nil, 0, ErrShortBuffer
		}
		return &Node{Tag: TagU16, u64: uint64(leU16(d[1:3]))}, 3, nil
	case TagI32:
		if len(d) < 5 {
			return nil, 0, ErrShortBuffer
		}
		return &Node{Tag: TagI32, i64: int64(int32(leU32(d[1:5])))}, 5, nil
	case TagU32:
		if len(d) < 5 {
			return nil, 0, ErrShortBuffer
		}
		return &Node{Tag: TagU32, u64: uint64(leU32(d[1:5]))}, 5, nil
	case TagI64:
		if len(d) < 9 {
			return nil, 0, ErrShortBuffer
		}
		return &Node{Tag: TagI64, i64: int64(leU64(d[1:9]))}, 9, nil
	case TagU64:
		if len(d) < 9 {
			return nil, 0, ErrShortBuffer
		}
		return &Node{Tag: TagU64, u64: leU64(d[1:9])}, 9, nil
	case TagF64:
		if len(d) < 9 {
			return nil, 0, ErrShortBuffer
		}
		return &Node{Tag: TagF64, f64: f64frombits(leU64(d[1:9]))}, 9, nil
	case TagString:
		if len(d) < 5 {
			return nil, 0, ErrShortBuffer
		}
		n := int(leU32(d[1:5]))
		total := 5 + n + 1
		if len(d) < total {
			return nil, 0, ErrShortBuffer
		}
		return &Node{Tag: TagString, str: string(d[5 : 5+n])}, total, nil
	case TagBinary:
		if len(d) < 5 {
			return nil, 0, ErrShortBuffer
		}
		n := int(leU32(d[1:5]))
		total := 5 + n
		if len(d) < total {
			return nil, 0, ErrShortBuffer
		}
		bin := make([]byte, n)
		copy(bin, d[5:5+n])
		return &Node{Tag: TagBinary, bin: bin}, total, nil
	case TagArray:
		if len(d) < 9 {
			return nil, 0, ErrShortBuffer
		}
		total := int(leU32(d[1:5]))
		count := int(leU32(d[5:9]))
		if len(d) < total {
			return nil, 0, ErrShortBuffer
		}
		items := make([]*Node, 0, count)
		off := 9
		for i := 0; i < count; i++ {
			if off+4 > total {
				return nil, 0, ErrShortBuffer
			}
			sz := int(leU32(d[off : off+4]))
			off += 4
			child, cn, err := parseAt(d[off : off+sz])
			if err != nil {
				return nil, 0, err
			}
			if cn != sz {
				return nil, 0, ErrShortBuffer
			}
			items = append(items, child)
			off += sz
		}
		if off != total {
			return nil, 0, ErrShortBuffer
		}
		return &Node{Tag: TagArray, items: items}, total, nil
	case TagObject:
		if len(d) < 9 {
			return nil, 0, ErrShortBuffer
		}
		total := int(leU32(d[1:5]))
		count := int(leU32(d[5:9]))
		if len(d) < total {
			return nil, 0, ErrShortBuffer
		}
		members := make([]Member, 0, count)
		off := 9
		for i := 0; i < count; i++ {
			if off+4 > total {
				return nil, 0, ErrShortBuffer
			}
			klen := int(leU32(d[off : off+4]))
			off += 4
			key := string(d[off : off+klen])
			off += klen + 1 // skip NUL terminator
			if off+4 > total {
				return nil, 0, ErrShortBuffer
			}
			vsz := int(leU32(d[off : off+4]))
			off += 4
			val, vn, err := parseAt(d[off : off+vsz])
			if err != nil {
				return nil, 0, err
			}
			if vn != vsz {
				return nil, 0, ErrShortBuffer
			}
			members = append(members, Member{Key: key, Value: val})
			off += vsz
		}
		if off != total {
			return nil, 0, ErrShortBuffer
		}
		return &Node{Tag: TagObject, members: members}, total, nil
	default:
		return nil, 0, ErrBadTag
	}
}

// Walk validates that the declared total size of every container in d
// equals the byte length actually consumed by a full walk (spec
// testable property 3), returning an error if not.
func Walk(d Doc) error {
	_, n, err := parseAt(d)
	if err != nil {
		return err
	}
	declared, err := d.Size()
	if err != nil {
		return err
	}
	if n != declared {
		return ErrShortBuffer
	}
	return nil
}
