package collection

import "encoding/binary"

// DocKey renders a document id as the big-endian 8-byte primary-database
// key the facade stores it under, so that a database's natural byte
// order is also id order.
func DocKey(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

// DocID parses a primary-database key back into a document id.
func DocID(key []byte) (uint64, bool) {
	if len(key) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key), true
}
