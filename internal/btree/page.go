package btree

import (
	"encoding/binary"
	"fmt"
)

// PageID identifies a leaf or node page within one tree's database.
// Textual encoding (for the KV store key) distinguishes the two kinds
// by a leading '#' on node ids.
type PageID uint64

func (id PageID) leafKey() []byte { return []byte(fmt.Sprintf("%x", uint64(id))) }
func (id PageID) nodeKey() []byte { return []byte(fmt.Sprintf("#%x", uint64(id))) }

// record is one leaf entry: a key and its value(s). rest holds any
// additional values for a duplicate key, in the order PutDup/PutDupBack
// established.
type record struct {
	key   []byte
	value []byte
	rest  [][]byte
}

// leaf is a B+ tree leaf page: a doubly-linked sibling chain plus its
// records, kept sorted by the tree's comparator.
type leaf struct {
	id      PageID
	prev    PageID // 0 if none
	next    PageID // 0 if none
	records []record

	dirty bool
}

// nodeEntry separates two child subtrees: child covers all keys ≥ key
// (and < the next entry's key, or unbounded if it is the last entry).
type nodeEntry struct {
	child PageID
	key   []byte
}

// node is a B+ tree internal page. heir is the child for keys less
// than entries[0].key.
type node struct {
	id      PageID
	heir    PageID
	entries []nodeEntry

	dirty bool
}

// Page encoding: a small hand-rolled binary format in the same spirit
// as bdoc's length-prefixed layout; there is no ecosystem
// serialization library suited to a page format this tightly coupled
// to in-place varint layout, so this uses encoding/binary directly.

func putUvarintBytes(buf []byte, b []byte) []byte {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(b)))
	buf = append(buf, tmp[:n]...)
	buf = append(buf, b...)
	return buf
}

func readUvarintBytes(buf []byte) (val []byte, rest []byte, err error) {
	n, sz := binary.Uvarint(buf)
	if sz <= 0 {
		return nil, nil, fmt.Errorf("btree: corrupt_page: bad varint length prefix")
	}
	buf = buf[sz:]
	if uint64(len(buf)) < n {
		return nil, nil, fmt.Errorf("btree: corrupt_page: short read")
	}
	return buf[:n], buf[n:], nil
}

func encodeLeaf(l *leaf) []byte {
	buf := make([]byte, 0, 256)
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(l.prev))
	buf = append(buf, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(l.next))
	buf = append(buf, tmp[:n]...)
	n = binary.PutUvarint(tmp[:], uint64(len(l.records)))
	buf = append(buf, tmp[:n]...)
	for _, r := range l.records {
		buf = putUvarintBytes(buf, r.key)
		buf = putUvarintBytes(buf, r.value)
		n = binary.PutUvarint(tmp[:], uint64(len(r.rest)))
		buf = append(buf, tmp[:n]...)
		for _, rv := range r.rest {
			buf = putUvarintBytes(buf, rv)
		}
	}
	return buf
}

func decodeLeaf(id PageID, buf []byte) (*leaf, error) {
	prev, sz := binary.Uvarint(buf)
	if sz <= 0 {
		return nil, fmt.Errorf("btree: corrupt_page: leaf prev")
	}
	buf = buf[sz:]
	next, sz := binary.Uvarint(buf)
	if sz <= 0 {
		return nil, fmt.Errorf("btree: corrupt_page: leaf next")
	}
	buf = buf[sz:]
	count, sz := binary.Uvarint(buf)
	if sz <= 0 {
		return nil, fmt.Errorf("btree: corrupt_page: leaf count")
	}
	buf = buf[sz:]

	l := &leaf{id: id, prev: PageID(prev), next: PageID(next)}
	var err error
	for i := uint64(0); i < count; i++ {
		var r record
		r.key, buf, err = readUvarintBytes(buf)
		if err != nil {
			return nil, err
		}
		r.value, buf, err = readUvarintBytes(buf)
		if err != nil {
			return nil, err
		}
		restN, sz := binary.Uvarint(buf)
		if sz <= 0 {
			return nil, fmt.Errorf("btree: corrupt_page: rest count")
		}
		buf = buf[sz:]
		for j := uint64(0); j < restN; j++ {
			var rv []byte
			rv, buf, err = readUvarintBytes(buf)
			if err != nil {
				return nil, err
			}
			r.rest = append(r.rest, rv)
		}
		l.records = append(l.records, r)
	}
	return l, nil
}

func encodeNode(n *node) []byte {
	buf := make([]byte, 0, 128)
	var tmp [binary.MaxVarintLen64]byte
	sz := binary.PutUvarint(tmp[:], uint64(n.heir))
	buf = append(buf, tmp[:sz]...)
	sz = binary.PutUvarint(tmp[:], uint64(len(n.entries)))
	buf = append(buf, tmp[:sz]...)
	for _, e := range n.entries {
		sz = binary.PutUvarint(tmp[:], uint64(e.child))
		buf = append(buf, tmp[:sz]...)
		buf = putUvarintBytes(buf, e.key)
	}
	return buf
}

func decodeNode(id PageID, buf []byte) (*node, error) {
	heir, sz := binary.Uvarint(buf)
	if sz <= 0 {
		return nil, fmt.Errorf("btree: corrupt_page: node heir")
	}
	buf = buf[sz:]
	count, sz := binary.Uvarint(buf)
	if sz <= 0 {
		return nil, fmt.Errorf("btree: corrupt_page: node count")
	}
	buf = buf[sz:]

	n := &node{id: id, heir: PageID(heir)}
	for i := uint64(0); i < count; i++ {
		child, sz := binary.Uvarint(buf)
		if sz <= 0 {
			return nil, fmt.Errorf("btree: corrupt_page: entry child")
		}
		buf = buf[sz:]
		var key []byte
		var err error
		key, buf, err = readUvarintBytes(buf)
		if err != nil {
			return nil, err
		}
		n.entries = append(n.entries, nodeEntry{child: PageID(child), key: key})
	}
	return n, nil
}
