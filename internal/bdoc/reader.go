package bdoc

// View is a zero-copy handle onto a single value inside a packed
// buffer: it never parses children it was not asked for, consistent
// with BDOC's "skippable without scanning children" contract.
type View struct {
	raw Doc
}

// NewView wraps packed bytes as a View over the single value at their
// start.
func NewView(d Doc) View { return View{raw: d} }

// Tag returns the value's type tag.
func (v View) Tag() Tag { return Tag(v.raw[0]) }

// Raw returns the exact packed bytes of this value (header + payload).
func (v View) Raw() Doc { return v.raw }

// Int64 returns the value as int64 (valid for integer tags).
func (v View) Int64() int64 {
	n, _, _ := parseAt(v.raw)
	return n.Int64()
}

// Float64 returns the value as float64 (valid for TagF64 and integers).
func (v View) Float64() float64 {
	n, _, _ := parseAt(v.raw)
	return n.Float64()
}

// Bool returns the value as bool (valid for TagTrue/TagFalse).
func (v View) Bool() bool { return v.Tag() == TagTrue }

// Str returns the value as a string (valid for TagString), without
// copying.
func (v View) Str() string {
	n := int(leU32(v.raw[1:5]))
	return string(v.raw[5 : 5+n])
}

// Bytes returns the value as binary (valid for TagBinary), without
// copying.
func (v View) Bytes() []byte {
	n := int(leU32(v.raw[1:5]))
	return v.raw[5 : 5+n]
}

// Len returns the element/member count (valid for array/object tags).
func (v View) Len() int {
	if !v.Tag().IsContainer() {
		return 0
	}
	return int(leU32(v.raw[5:9]))
}

// Index returns the View at array position i without parsing any other
// element, by walking the per-element size prefixes.
func (v View) Index(i int) (View, bool) {
	if v.Tag() != TagArray {
		return View{}, false
	}
	count := v.Len()
	if i < 0 || i >= count {
		return View{}, false
	}
	total := int(leU32(v.raw[1:5]))
	off := 9
	for j := 0; j < count; j++ {
		if off+4 > total {
			return View{}, false
		}
		sz := int(leU32(v.raw[off : off+4]))
		off += 4
		if j == i {
			return View{raw: v.raw[off : off+sz]}, true
		}
		off += sz
	}
	return View{}, false
}

// Field returns the View at object key key without parsing any sibling
// member's value, by walking the per-member size prefixes.
func (v View) Field(key string) (View, bool) {
	if v.Tag() != TagObject {
		return View{}, false
	}
	total := int(leU32(v.raw[1:5]))
	count := int(leU32(v.raw[5:9]))
	off := 9
	for j := 0; j < count; j++ {
		if off+4 > total {
			return View{}, false
		}
		klen := int(leU32(v.raw[off : off+4]))
		off += 4
		k := string(v.raw[off : off+klen])
		off += klen + 1
		if off+4 > total {
			return View{}, false
		}
		vsz := int(leU32(v.raw[off : off+4]))
		off += 4
		if k == key {
			return View{raw: v.raw[off : off+vsz]}, true
		}
		off += vsz
	}
	return View{}, false
}

// Keys returns the member keys of an object value, in order, without
// parsing any member's value.
func (v View) Keys() []string {
	if v.Tag() != TagObject {
		return nil
	}
	total := int(leU32(v.raw[1:5]))
	count := int(leU32(v.raw[5:9]))
	keys := make([]string, 0, count)
	off := 9
	for j := 0; j < count; j++ {
		if off+4 > total {
			break
		}
		klen := int(leU32(v.raw[off : off+4]))
		off += 4
		keys = append(keys, string(v.raw[off:off+klen]))
		off += klen + 1
		if off+4 > total {
			break
		}
		vsz := int(leU32(v.raw[off : off+4]))
		off += 4
		off += vsz
	}
	return keys
}

// At resolves an extended RFC 6901 JSON pointer against packed bytes
// without parsing any subtree the pointer does not traverse.
func At(d Doc, ptr Pointer) (View, bool, error) {
	v := View{raw: d}
	if len(ptr) == 0 {
		return v, true, nil
	}
	for _, seg := range ptr {
		switch v.Tag() {
		case TagObject:
			if seg.Wildcard {
				found := false
				for _, k := range v.Keys() {
					if cand, ok := v.Field(k); ok {
						v = cand
						found = true
						break
					}
				}
				if !found {
					return View{}, false, nil
				}
				continue
			}
			next, ok := v.Field(seg.Key)
			if !ok {
				return View{}, false, nil
			}
			v = next
		case TagArray:
			idx := seg.Index
			if seg.Wildcard {
				idx = 0
			}
			next, ok := v.Index(idx)
			if !ok {
				return View{}, false, nil
			}
			v = next
		default:
			return View{}, false, nil
		}
	}
	return v, true, nil
}
