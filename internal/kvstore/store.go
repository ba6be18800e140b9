// Package kvstore defines the abstract ordered key-value contract the
// engine consumes: named databases within one file, each addressable
// by a 32-bit id, ordered key-value storage per database,
// read snapshots, write transactions spanning multiple databases, an
// opaque per-database header region, and an online copy primitive.
//
// The engine never talks to a concrete storage library directly; it
// talks to this interface. kvstore/bboltstore is the one shipped
// backend, over go.etcd.io/bbolt.
package kvstore

import "io"

// DB identifies one named database (bbolt bucket, in the concrete
// backend) within a store by a stable 32-bit id.
type DB uint32

// MetaDB is the well-known database id holding collection metadata.
const MetaDB DB = 1

// MinHeaderSize is the minimum opaque header size the store guarantees
// per database, for engine-owned metadata.
const MinHeaderSize = 112

// Store is the ordered key-value contract consumed by the engine.
type Store interface {
	// Update runs fn in a read-write transaction spanning all
	// databases; the transaction commits if fn returns nil, rolls back
	// otherwise.
	Update(fn func(Tx) error) error

	// View runs fn in a read-only snapshot transaction.
	View(fn func(Tx) error) error

	// Header returns the opaque header bytes for db, at least
	// MinHeaderSize long.
	Header(db DB) ([]byte, error)

	// SetHeader overwrites the opaque header bytes for db.
	SetHeader(db DB, data []byte) error

	// Backup writes a consistent point-in-time copy of the whole store
	// to w. Concurrent writers are permitted during the backup.
	Backup(w io.Writer) error

	// Close releases the underlying file and any in-memory state.
	Close() error
}

// Tx is one transaction, read-only (from View) or read-write (from
// Update).
type Tx interface {
	// Bucket returns db's bucket, or nil if it does not exist yet.
	Bucket(db DB) Bucket

	// CreateBucketIfNotExists returns db's bucket, creating it first if
	// necessary. Valid only within an Update transaction.
	CreateBucketIfNotExists(db DB) (Bucket, error)

	// DeleteBucket drops db and everything in it. Valid only within an
	// Update transaction. Idempotent: deleting a nonexistent db is not
	// an error.
	DeleteBucket(db DB) error
}

// Bucket is one database's ordered key-value space within a
// transaction.
type Bucket interface {
	Get(key []byte) []byte
	Put(key, value []byte) error
	Delete(key []byte) error

	// Cursor returns a new cursor over this bucket, positioned before
	// the first key.
	Cursor() Cursor
}

// Cursor walks a bucket's keys in ascending byte order. A nil key
// signals no entry was found (end of range in either direction).
type Cursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)
	Seek(key []byte) (foundKey, value []byte)
	Next() (key, value []byte)
	Prev() (key, value []byte)
}
