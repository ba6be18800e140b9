package btree

import "fmt"

// splitIfNeeded splits l if it has grown past the configured leaf
// size, propagating a separator key into path's tail node (or
// allocating a new root if l was the root).
func (t *Tree) splitIfNeeded(c *txCtx, l *leaf, path []PageID) error {
	if len(l.records) <= t.opts.LeafMaxRecords {
		return nil
	}
	mid := len(l.records) / 2
	right := &leaf{id: c.allocLeafID()}
	right.records = append(right.records, l.records[mid:]...)
	l.records = l.records[:mid]

	right.next = l.next
	right.prev = l.id
	if l.next != 0 {
		nextLeaf, err := c.loadLeaf(l.next)
		if err != nil {
			return err
		}
		nextLeaf.prev = right.id
		c.putLeaf(nextLeaf)
	}
	l.next = right.id
	c.putLeaf(l)
	c.putLeaf(right)
	t.bumpClock()

	sep := append([]byte(nil), right.records[0].key...)
	return t.insertIntoParent(c, path, l.id, right.id, sep)
}

// insertIntoParent records that rightID is a new sibling of leftID,
// reached via keys ≥ sepKey, in the node at the tail of path (or
// allocates a new root if path is empty).
func (t *Tree) insertIntoParent(c *txCtx, path []PageID, leftID, rightID PageID, sepKey []byte) error {
	if len(path) == 0 {
		root := &node{
			id:      c.allocNodeID(),
			heir:    leftID,
			entries: []nodeEntry{{child: rightID, key: sepKey}},
		}
		c.putNode(root)
		t.rootID = root.id
		return nil
	}

	parentID := path[len(path)-1]
	parent, err := c.loadNode(parentID)
	if err != nil {
		return err
	}

	newEntry := nodeEntry{child: rightID, key: sepKey}
	if parent.heir == leftID {
		parent.entries = append([]nodeEntry{newEntry}, parent.entries...)
	} else {
		idx := -1
		for i, e := range parent.entries {
			if e.child == leftID {
				idx = i
				break
			}
		}
		if idx == -1 {
			return fmt.Errorf("%w: split child %d not found in parent %d", ErrCorruptPage, leftID, parent.id)
		}
		parent.entries = append(parent.entries, nodeEntry{})
		copy(parent.entries[idx+2:], parent.entries[idx+1:])
		parent.entries[idx+1] = newEntry
	}
	c.putNode(parent)

	if len(parent.entries) <= t.opts.NodeMaxEntries {
		return nil
	}
	return t.splitNode(c, parent, path[:len(path)-1])
}

func (t *Tree) splitNode(c *txCtx, n *node, parentPath []PageID) error {
	mid := len(n.entries) / 2
	sep := n.entries[mid]
	right := &node{
		id:      c.allocNodeID(),
		heir:    sep.child,
		entries: append([]nodeEntry{}, n.entries[mid+1:]...),
	}
	n.entries = n.entries[:mid]
	c.putNode(n)
	c.putNode(right)
	t.bumpClock()
	return t.insertIntoParent(c, parentPath, n.id, right.id, sep.key)
}

// collapseIfEmpty unlinks l from its sibling chain and removes it from
// the tree entirely if deleting its last record emptied it, then
// propagates the removal toward the root: an empty parent is itself
// collapsed into its sole remaining child, all the way up to
// collapsing the root if necessary.
func (t *Tree) collapseIfEmpty(c *txCtx, l *leaf, path []PageID) error {
	if len(l.records) > 0 {
		c.putLeaf(l)
		return nil
	}
	if len(path) == 0 {
		c.putLeaf(l) // leaf is the root: stays as an empty root leaf
		return nil
	}
	if l.prev != 0 {
		prevLeaf, err := c.loadLeaf(l.prev)
		if err != nil {
			return err
		}
		prevLeaf.next = l.next
		c.putLeaf(prevLeaf)
	}
	if l.next != 0 {
		nextLeaf, err := c.loadLeaf(l.next)
		if err != nil {
			return err
		}
		nextLeaf.prev = l.prev
		c.putLeaf(nextLeaf)
	}
	c.deleteLeaf(l.id)
	t.bumpClock()
	return t.removeFromParent(c, path, l.id)
}

// removeFromParent drops childID from the node at the tail of path
// (whether it is the heir or an ordinary entry), collapsing the node
// into its sole remaining child if that empties it, recursing toward
// the root.
func (t *Tree) removeFromParent(c *txCtx, path []PageID, childID PageID) error {
	parentID := path[len(path)-1]
	parent, err := c.loadNode(parentID)
	if err != nil {
		return err
	}

	if parent.heir == childID {
		if len(parent.entries) == 0 {
			return fmt.Errorf("%w: node %d left without children", ErrCorruptPage, parent.id)
		}
		parent.heir = parent.entries[0].child
		parent.entries = parent.entries[1:]
	} else {
		idx := -1
		for i, e := range parent.entries {
			if e.child == childID {
				idx = i
				break
			}
		}
		if idx == -1 {
			return fmt.Errorf("%w: child %d not found in parent %d", ErrCorruptPage, childID, parent.id)
		}
		parent.entries = append(parent.entries[:idx], parent.entries[idx+1:]...)
	}

	if len(parent.entries) > 0 {
		c.putNode(parent)
		return nil
	}

	heir := parent.heir
	c.deleteNode(parent.id)
	t.bumpClock()
	if len(path) == 1 {
		t.rootID = heir
		return nil
	}
	return t.replaceInParent(c, path[:len(path)-1], parent.id, heir)
}

// replaceInParent swaps a child reference from oldChild to newChild,
// without changing the entry/key count; used when a node one level
// down collapsed away entirely.
func (t *Tree) replaceInParent(c *txCtx, path []PageID, oldChild, newChild PageID) error {
	parentID := path[len(path)-1]
	parent, err := c.loadNode(parentID)
	if err != nil {
		return err
	}
	if parent.heir == oldChild {
		parent.heir = newChild
	} else {
		for i := range parent.entries {
			if parent.entries[i].child == oldChild {
				parent.entries[i].child = newChild
				break
			}
		}
	}
	c.putNode(parent)
	return nil
}
