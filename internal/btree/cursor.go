package btree

// Cursor walks a tree's records in key order. It stores (leaf_id,
// key_index, value_index, clock); before any step it revalidates its
// clock against the tree's and re-locates itself via its last known
// key if the tree changed underneath it. A cursor is not safe for
// concurrent use by more than one goroutine.
type Cursor struct {
	tree    *Tree
	leafID  PageID
	recIdx  int
	dupIdx  int // 0 = record's primary value, i = rest[i-1]
	clock   uint64
	lastKey []byte
	ok      bool
}

// CursorFirst positions a new cursor at the first record in key order.
func (t *Tree) CursorFirst() (*Cursor, error) {
	cur := &Cursor{tree: t}
	err := t.read(func(c *txCtx) error {
		id := t.firstLeafID(c)
		l, err := c.loadLeaf(id)
		if err != nil {
			return err
		}
		if len(l.records) == 0 {
			return nil
		}
		cur.leafID, cur.recIdx, cur.dupIdx, cur.ok = id, 0, 0, true
		cur.lastKey = l.records[0].key
		return nil
	})
	cur.clock = t.Clock()
	return cur, err
}

// CursorLast positions a new cursor at the last record in key order.
func (t *Tree) CursorLast() (*Cursor, error) {
	cur := &Cursor{tree: t}
	err := t.read(func(c *txCtx) error {
		id, err := t.lastLeafID(c)
		if err != nil {
			return err
		}
		l, err := c.loadLeaf(id)
		if err != nil {
			return err
		}
		if len(l.records) == 0 {
			return nil
		}
		r := l.records[len(l.records)-1]
		cur.leafID, cur.recIdx, cur.dupIdx, cur.ok = id, len(l.records)-1, len(r.rest), true
		cur.lastKey = r.key
		return nil
	})
	cur.clock = t.Clock()
	return cur, err
}

// CursorJumpFwd positions a new cursor at the first record with
// key ≥ k.
func (t *Tree) CursorJumpFwd(key []byte) (*Cursor, error) {
	cur := &Cursor{tree: t}
	err := t.read(func(c *txCtx) error {
		l, _, err := c.findLeaf(key)
		if err != nil {
			return err
		}
		idx, _ := locateIn(t.cmp, l, key)
		if idx < len(l.records) {
			cur.leafID, cur.recIdx, cur.dupIdx, cur.ok = l.id, idx, 0, true
			cur.lastKey = l.records[idx].key
			return nil
		}
		if l.next == 0 {
			return nil
		}
		nl, err := c.loadLeaf(l.next)
		if err != nil {
			return err
		}
		if len(nl.records) == 0 {
			return nil
		}
		cur.leafID, cur.recIdx, cur.dupIdx, cur.ok = nl.id, 0, 0, true
		cur.lastKey = nl.records[0].key
		return nil
	})
	cur.clock = t.Clock()
	return cur, err
}

// CursorJumpBack positions a new cursor at the last record with
// key ≤ k.
func (t *Tree) CursorJumpBack(key []byte) (*Cursor, error) {
	cur := &Cursor{tree: t}
	err := t.read(func(c *txCtx) error {
		l, _, err := c.findLeaf(key)
		if err != nil {
			return err
		}
		idx, found := locateIn(t.cmp, l, key)
		if found {
			r := l.records[idx]
			cur.leafID, cur.recIdx, cur.dupIdx, cur.ok = l.id, idx, len(r.rest), true
			cur.lastKey = r.key
			return nil
		}
		if idx > 0 {
			r := l.records[idx-1]
			cur.leafID, cur.recIdx, cur.dupIdx, cur.ok = l.id, idx-1, len(r.rest), true
			cur.lastKey = r.key
			return nil
		}
		if l.prev == 0 {
			return nil
		}
		pl, err := c.loadLeaf(l.prev)
		if err != nil {
			return err
		}
		if len(pl.records) == 0 {
			return nil
		}
		r := pl.records[len(pl.records)-1]
		cur.leafID, cur.recIdx, cur.dupIdx, cur.ok = pl.id, len(pl.records)-1, len(r.rest), true
		cur.lastKey = r.key
		return nil
	})
	cur.clock = t.Clock()
	return cur, err
}

func (cur *Cursor) revalidate(c *txCtx) error {
	if cur.clock == cur.tree.Clock() {
		return nil
	}
	defer func() { cur.clock = cur.tree.Clock() }()
	if !cur.ok || cur.lastKey == nil {
		return nil
	}
	l, _, err := c.findLeaf(cur.lastKey)
	if err != nil {
		return err
	}
	idx, found := locateIn(cur.tree.cmp, l, cur.lastKey)
	switch {
	case found:
		cur.leafID, cur.recIdx = l.id, idx
		if cur.dupIdx > len(l.records[idx].rest) {
			cur.dupIdx = len(l.records[idx].rest)
		}
		cur.ok = true
	case idx < len(l.records):
		cur.leafID, cur.recIdx, cur.dupIdx = l.id, idx, 0
		cur.lastKey = l.records[idx].key
		cur.ok = true
	case l.next != 0:
		nl, err := c.loadLeaf(l.next)
		if err != nil {
			return err
		}
		if len(nl.records) > 0 {
			cur.leafID, cur.recIdx, cur.dupIdx = nl.id, 0, 0
			cur.lastKey = nl.records[0].key
			cur.ok = true
		} else {
			cur.ok = false
		}
	default:
		cur.ok = false
	}
	return nil
}

// Record returns the key and value at the cursor's current position.
func (cur *Cursor) Record() (key, value []byte, ok bool) {
	cur.tree.read(func(c *txCtx) error {
		if err := cur.revalidate(c); err != nil {
			return err
		}
		if !cur.ok {
			return nil
		}
		l, err := c.loadLeaf(cur.leafID)
		if err != nil {
			return err
		}
		r := l.records[cur.recIdx]
		key = r.key
		if cur.dupIdx == 0 {
			value = r.value
		} else {
			value = r.rest[cur.dupIdx-1]
		}
		ok = true
		return nil
	})
	return key, value, ok
}

// Next advances the cursor to the next (key, value) pair in order and
// reports whether one exists.
func (cur *Cursor) Next() bool {
	moved := false
	cur.tree.read(func(c *txCtx) error {
		if err := cur.revalidate(c); err != nil {
			return err
		}
		if !cur.ok {
			return nil
		}
		l, err := c.loadLeaf(cur.leafID)
		if err != nil {
			return err
		}
		r := l.records[cur.recIdx]
		if cur.dupIdx < len(r.rest) {
			cur.dupIdx++
			moved = true
			return nil
		}
		if cur.recIdx+1 < len(l.records) {
			cur.recIdx++
			cur.dupIdx = 0
			cur.lastKey = l.records[cur.recIdx].key
			moved = true
			return nil
		}
		if l.next == 0 {
			cur.ok = false
			return nil
		}
		nl, err := c.loadLeaf(l.next)
		if err != nil {
			return err
		}
		if len(nl.records) == 0 {
			cur.ok = false
			return nil
		}
		cur.leafID, cur.recIdx, cur.dupIdx = nl.id, 0, 0
		cur.lastKey = nl.records[0].key
		moved = true
		return nil
	})
	if !moved {
		cur.ok = false
	}
	return moved
}

// Prev moves the cursor to the previous (key, value) pair in order and
// reports whether one exists.
func (cur *Cursor) Prev() bool {
	moved := false
	cur.tree.read(func(c *txCtx) error {
		if err := cur.revalidate(c); err != nil {
			return err
		}
		if !cur.ok {
			return nil
		}
		if cur.dupIdx > 0 {
			cur.dupIdx--
			moved = true
			return nil
		}
		if cur.recIdx > 0 {
			cur.recIdx--
			l, err := c.loadLeaf(cur.leafID)
			if err != nil {
				return err
			}
			r := l.records[cur.recIdx]
			cur.dupIdx = len(r.rest)
			cur.lastKey = r.key
			moved = true
			return nil
		}
		l, err := c.loadLeaf(cur.leafID)
		if err != nil {
			return err
		}
		if l.prev == 0 {
			cur.ok = false
			return nil
		}
		pl, err := c.loadLeaf(l.prev)
		if err != nil {
			return err
		}
		if len(pl.records) == 0 {
			cur.ok = false
			return nil
		}
		r := pl.records[len(pl.records)-1]
		cur.leafID, cur.recIdx, cur.dupIdx = pl.id, len(pl.records)-1, len(r.rest)
		cur.lastKey = r.key
		moved = true
		return nil
	})
	if !moved {
		cur.ok = false
	}
	return moved
}

// Out deletes the value at the cursor's current position (one value
// among a key's duplicates, or the whole record if it has none).
func (cur *Cursor) Out() error {
	key, value, ok := cur.Record()
	if !ok {
		return ErrNotFound
	}
	return cur.tree.DelKV(key, value)
}

// PutCurrent overwrites the value at the cursor's current position.
func (cur *Cursor) PutCurrent(value []byte) error {
	key, _, ok := cur.Record()
	if !ok {
		return ErrNotFound
	}
	return cur.tree.mutate(func(c *txCtx) error {
		l, _, err := c.findLeaf(key)
		if err != nil {
			return err
		}
		idx, found := locateIn(cur.tree.cmp, l, key)
		if !found {
			return ErrNotFound
		}
		r := &l.records[idx]
		if cur.dupIdx == 0 {
			r.value = append([]byte(nil), value...)
		} else if cur.dupIdx-1 < len(r.rest) {
			r.rest[cur.dupIdx-1] = append([]byte(nil), value...)
		} else {
			return ErrNotFound
		}
		c.putLeaf(l)
		return nil
	})
}
