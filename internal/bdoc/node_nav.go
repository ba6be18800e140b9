package bdoc

// ResolveNode walks a live node tree along ptr and returns the node
// found there, or false if any segment fails to resolve. Used where a
// mutable tree (not packed bytes) is already in hand, e.g. query apply
// and patch.
func ResolveNode(root *Node, ptr Pointer) (*Node, bool) {
	cur := root
	for _, seg := range ptr {
		switch cur.Tag {
		case TagObject:
			if seg.Wildcard {
				if len(cur.members) == 0 {
					return nil, false
				}
				cur = cur.members[0].Value
				continue
			}
			v, ok := cur.Get(seg.Key)
			if !ok {
				return nil, false
			}
			cur = v
		case TagArray:
			idx := seg.Index
			if seg.Wildcard {
				idx = 0
			}
			if idx < 0 || idx >= len(cur.items) {
				return nil, false
			}
			cur = cur.items[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Location describes where a pointer's final segment lives: the
// container one level above the target (nil if the pointer is the
// root), which kind of container it is, and whether the target
// currently exists within it.
type Location struct {
	Parent  *Node
	Key     string
	Index   int
	IsArray bool
	Append  bool // final segment was "-": append to array
	Exists  bool
}

// Locate resolves all but the final segment of ptr (failing if an
// intermediate container is missing), then reports where the final
// segment lives in its parent. If createIntermediate is true, missing
// intermediate objects are created along the way (add_create
// semantics); otherwise a missing intermediate is an error.
func Locate(root *Node, ptr Pointer, createIntermediate bool) (*Location, bool) {
	if len(ptr) == 0 {
		return &Location{Parent: nil, Exists: true}, true
	}
	cur := root
	for i := 0; i < len(ptr)-1; i++ {
		seg := ptr[i]
		switch cur.Tag {
		case TagObject:
			v, ok := cur.Get(seg.Key)
			if !ok {
				if !createIntermediate {
					return nil, false
				}
				v = NewObject()
				cur.Set(seg.Key, v)
			}
			cur = v
		case TagArray:
			idx := seg.Index
			if idx < 0 || idx >= len(cur.items) {
				return nil, false
			}
			cur = cur.items[idx]
		default:
			return nil, false
		}
	}
	last := ptr[len(ptr)-1]
	switch cur.Tag {
	case TagObject:
		_, exists := cur.Get(last.Key)
		return &Location{Parent: cur, Key: last.Key, Exists: exists}, true
	case TagArray:
		if last.Key == "-" {
			return &Location{Parent: cur, IsArray: true, Append: true, Index: len(cur.items), Exists: false}, true
		}
		idx := last.Index
		exists := last.IsIndex && idx >= 0 && idx < len(cur.items)
		return &Location{Parent: cur, IsArray: true, Index: idx, Exists: exists}, true
	default:
		return nil, false
	}
}

// Get returns the value at this location, if it exists.
func (l *Location) Get() (*Node, bool) {
	if l.Parent == nil {
		return nil, l.Exists
	}
	if l.IsArray {
		if !l.Exists {
			return nil, false
		}
		return l.Parent.items[l.Index], true
	}
	return l.Parent.Get(l.Key)
}

// Set writes v at this location, inserting (array: at Index, growing
// the slice; object: new member) or replacing as appropriate.
func (l *Location) Set(v *Node) {
	if l.IsArray {
		if l.Append {
			l.Parent.Append(v)
			return
		}
		if l.Exists {
			l.Parent.items[l.Index] = v
			return
		}
		l.Parent.InsertAt(l.Index, v)
		return
	}
	l.Parent.Set(l.Key, v)
}

// Remove deletes the value at this location.
func (l *Location) Remove() {
	if l.IsArray {
		if l.Exists {
			l.Parent.RemoveAt(l.Index)
		}
		return
	}
	l.Parent.Delete(l.Key)
}
