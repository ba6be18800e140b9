// Package bboltstore is the engine's concrete kvstore.Store backend,
// over go.etcd.io/bbolt. bbolt already supplies named buckets, MVCC
// read snapshots, crash-safe WAL-style commit, and an online copy
// primitive, so this package is a thin adapter, not a reimplementation.
// Every bucket value is passed through internal/compress on the way in
// and out, so document bodies and B+ tree pages are compressed at
// rest without any layer above this one knowing about it.
package bboltstore

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	bolt "go.etcd.io/bbolt"

	"embeddb/internal/compress"
	"embeddb/internal/kvstore"
)

var headersBucket = []byte("__headers__")

// Store adapts a *bolt.DB to kvstore.Store.
type Store struct {
	db *bolt.DB
}

// Options configures Open. wal.* buffer/timeout knobs are bbolt-internal
// and not separately tunable here, since bbolt owns its own WAL.
type Options struct {
	Path     string
	ReadOnly bool
	// NoSync disables bbolt's fsync on every commit; only ever safe for
	// throwaway/test databases, never for a production open.
	NoSync bool
	Timeout time.Duration
}

// Open opens (creating if necessary) a bbolt-backed store at opts.Path.
func Open(opts Options) (*Store, error) {
	boltOpts := &bolt.Options{
		Timeout:  opts.Timeout,
		ReadOnly: opts.ReadOnly,
		NoSync:   opts.NoSync,
	}
	db, err := bolt.Open(opts.Path, 0o600, boltOpts)
	if err != nil {
		return nil, fmt.Errorf("bboltstore: open %s: %w", opts.Path, err)
	}
	if !opts.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(headersBucket)
			return err
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("bboltstore: init headers bucket: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func bucketName(db kvstore.DB) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(db))
	return b
}

// Update implements kvstore.Store.
func (s *Store) Update(fn func(kvstore.Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&tx{btx: btx})
	})
}

// View implements kvstore.Store.
func (s *Store) View(fn func(kvstore.Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&tx{btx: btx})
	})
}

// Header implements kvstore.Store.
func (s *Store) Header(db kvstore.DB) ([]byte, error) {
	var out []byte
	err := s.db.View(func(btx *bolt.Tx) error {
		b := btx.Bucket(headersBucket)
		if b == nil {
			return nil
		}
		v := b.Get(bucketName(db))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if out == nil {
		out = make([]byte, kvstore.MinHeaderSize)
	}
	return out, err
}

// SetHeader implements kvstore.Store.
func (s *Store) SetHeader(db kvstore.DB, data []byte) error {
	if len(data) < kvstore.MinHeaderSize {
		padded := make([]byte, kvstore.MinHeaderSize)
		copy(padded, data)
		data = padded
	}
	return s.db.Update(func(btx *bolt.Tx) error {
		b, err := btx.CreateBucketIfNotExists(headersBucket)
		if err != nil {
			return err
		}
		return b.Put(bucketName(db), data)
	})
}

// Backup implements kvstore.Store, writing a consistent snapshot while
// permitting concurrent writers (bbolt's Tx.WriteTo operates against a
// read-only MVCC view).
func (s *Store) Backup(w io.Writer) error {
	return s.db.View(func(btx *bolt.Tx) error {
		_, err := btx.WriteTo(w)
		return err
	})
}

// Close implements kvstore.Store.
func (s *Store) Close() error { return s.db.Close() }

type tx struct{ btx *bolt.Tx }

func (t *tx) Bucket(db kvstore.DB) kvstore.Bucket {
	b := t.btx.Bucket(bucketName(db))
	if b == nil {
		return nil
	}
	return &bucket{b: b}
}

func (t *tx) CreateBucketIfNotExists(db kvstore.DB) (kvstore.Bucket, error) {
	b, err := t.btx.CreateBucketIfNotExists(bucketName(db))
	if err != nil {
		return nil, err
	}
	return &bucket{b: b}, nil
}

func (t *tx) DeleteBucket(db kvstore.DB) error {
	err := t.btx.DeleteBucket(bucketName(db))
	if err == bolt.ErrBucketNotFound {
		return nil
	}
	return err
}

// bucket decompresses every value on the way out and compresses every
// value on the way in, so document bodies and B+ tree pages are
// transparently compressed at rest; callers above this package (and
// above kvstore) only ever see plain packed bytes.
type bucket struct{ b *bolt.Bucket }

func (bk *bucket) Get(key []byte) []byte {
	raw := bk.b.Get(key)
	if raw == nil {
		return nil
	}
	out, err := compress.Decode(raw)
	if err != nil {
		return raw
	}
	return out
}

func (bk *bucket) Put(key, value []byte) error {
	return bk.b.Put(key, compress.Encode(value))
}

func (bk *bucket) Delete(key []byte) error { return bk.b.Delete(key) }
func (bk *bucket) Cursor() kvstore.Cursor  { return &cursor{c: bk.b.Cursor()} }

type cursor struct{ c *bolt.Cursor }

func (c *cursor) First() ([]byte, []byte)          { return decodePair(c.c.First()) }
func (c *cursor) Last() ([]byte, []byte)           { return decodePair(c.c.Last()) }
func (c *cursor) Seek(key []byte) ([]byte, []byte) { return decodePair(c.c.Seek(key)) }
func (c *cursor) Next() ([]byte, []byte)           { return decodePair(c.c.Next()) }
func (c *cursor) Prev() ([]byte, []byte)           { return decodePair(c.c.Prev()) }

func decodePair(key, value []byte) ([]byte, []byte) {
	if key == nil {
		return nil, nil
	}
	out, err := compress.Decode(value)
	if err != nil {
		return key, value
	}
	return key, out
}
