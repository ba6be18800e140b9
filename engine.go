// Package embeddb is the engine facade: the single entry point an
// embedding program uses to open a store, manage collections and
// indexes, and read/write/query documents. Every exported method here
// composes the internal components (bdoc, patch, btree, kvstore,
// collection, jql, query); none of them re-implements engine logic of
// its own.
package embeddb

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"embeddb/internal/collection"
	"embeddb/internal/jql"
	"embeddb/internal/kvstore"
	"embeddb/internal/kvstore/bboltstore"
	"embeddb/internal/query"
)

// Engine is one open store. The zero value is not usable; construct
// one with Open.
type Engine struct {
	store    kvstore.Store
	registry *collection.Registry
	opts     Options

	// mu guards the open/closed lifecycle: every operation holds it for
	// read, Close holds it for write. This is layered above (not a
	// replacement for) the registry's own RWMutex and each Collection's
	// own RWMutex (spec.md §5's locking hierarchy).
	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) a store at opts.Path and loads its
// collection registry.
func Open(opts Options) (*Engine, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	if opts.OFlags&OTruncate != 0 {
		if err := os.Remove(opts.Path); err != nil && !os.IsNotExist(err) {
			return nil, newErr("open", KindIO, err)
		}
	}

	boltOpts := bboltstore.Options{
		Path:     opts.Path,
		ReadOnly: opts.OFlags&OReadonly != 0,
		NoSync:   opts.OFlags&OTsync == 0,
		Timeout:  opts.WAL.lockTimeout(),
	}
	if opts.OFlags&OLockNonblocking != 0 {
		boltOpts.Timeout = 1 * time.Millisecond
	}

	store, err := bboltstore.Open(boltOpts)
	if err != nil {
		if opts.OFlags&OLockNonblocking != 0 {
			return nil, newErr("open", KindLockedNonblocking, err)
		}
		return nil, newErr("open", KindIO, err)
	}

	if err := writeVersionHeader(store); err != nil {
		store.Close()
		return nil, newErr("open", KindCorrupt, err)
	}

	reg, err := collection.Load(store)
	if err != nil {
		store.Close()
		return nil, newErr("open", KindCorrupt, err)
	}

	opts.Logger.Info("engine opened", "path", opts.Path, "collections", len(reg.All()))
	return &Engine{store: store, registry: reg, opts: opts}, nil
}

// writeVersionHeader stamps kvstore.MetaDB's opaque header with the
// engine version string on first open; a pre-existing header with a
// different version string is left untouched (future migration logic
// belongs there, not in Open).
func writeVersionHeader(store kvstore.Store) error {
	hdr, err := store.Header(kvstore.MetaDB)
	if err != nil {
		return err
	}
	if len(hdr) > 0 && hdr[0] != 0 {
		return nil
	}
	buf := make([]byte, kvstore.MinHeaderSize)
	copy(buf, engineVersion)
	return store.SetHeader(kvstore.MetaDB, buf)
}

func (e *Engine) checkOpen(op string) error {
	if e.closed {
		return newErr(op, KindInvalidState, fmt.Errorf("engine is closed"))
	}
	return nil
}

// Close releases the underlying store. Close is idempotent; closing an
// already-closed Engine is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if err := e.store.Close(); err != nil {
		return newErr("close", KindIO, err)
	}
	return nil
}

// EnsureCollection creates the named collection if it does not already
// exist. A second call with the same name is a no-op.
func (e *Engine) EnsureCollection(name string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen("ensure_collection"); err != nil {
		return err
	}
	_, err := e.registry.EnsureCollection(name)
	return wrapCollErr("ensure_collection", err)
}

// RemoveCollection drops the named collection, its documents, and all
// of its indexes. Idempotent.
func (e *Engine) RemoveCollection(name string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen("remove_collection"); err != nil {
		return err
	}
	return wrapCollErr("remove_collection", e.registry.RemoveCollection(name))
}

// RenameCollection renames oldName to newName atomically.
func (e *Engine) RenameCollection(oldName, newName string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen("rename_collection"); err != nil {
		return err
	}
	return wrapCollErr("rename_collection", e.registry.RenameCollection(oldName, newName))
}

// EnsureIndex creates (or validates) an index on coll at path. Creating
// a new index triggers a full synchronous rebuild over every document
// currently in the collection.
func (e *Engine) EnsureIndex(collName, path string, mode collection.IndexMode) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen("ensure_index"); err != nil {
		return err
	}
	coll, ok := e.registry.Get(collName)
	if !ok {
		return newErr("ensure_index", KindNotFound, collection.ErrNotFound)
	}
	_, err := e.registry.EnsureIndex(coll, path, mode)
	return wrapCollErr("ensure_index", err)
}

// RemoveIndex drops the index at path on collName. Idempotent.
func (e *Engine) RemoveIndex(collName, path string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen("remove_index"); err != nil {
		return err
	}
	coll, ok := e.registry.Get(collName)
	if !ok {
		return nil
	}
	return wrapCollErr("remove_index", e.registry.RemoveIndex(coll, path))
}

// wrapCollErr tags an internal/collection sentinel error with its
// ErrKind. A nil err passes through unchanged.
func wrapCollErr(op string, err error) error {
	switch err {
	case nil:
		return nil
	case collection.ErrExists:
		return newErr(op, KindExists, err)
	case collection.ErrNotFound:
		return newErr(op, KindNotFound, err)
	case collection.ErrInvalidName:
		return newErr(op, KindInvalidName, err)
	case collection.ErrMismatchedUnique:
		return newErr(op, KindMismatchedUnique, err)
	case collection.ErrInvalidMode:
		return newErr(op, KindInvalidArgument, err)
	default:
		return newErr(op, KindIO, err)
	}
}

// Exec runs a compiled JQL query to completion, calling visit for
// every emitted (or, under the count directive, every matched) document.
func (e *Engine) Exec(collName string, q *jql.Query, visit query.Visitor) (query.Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen("exec"); err != nil {
		return query.Result{}, err
	}
	if !jql.Bound(q) {
		return query.Result{}, newErr("exec", KindInvalidArgument, fmt.Errorf("query has unbound parameters"))
	}
	coll, ok := e.registry.Get(collName)
	if !ok {
		return query.Result{}, newErr("exec", KindNotFound, collection.ErrNotFound)
	}
	// Held for the whole call, exclusive: Execute's own three-phase
	// design (see internal/query/exec.go) relies on no concurrent
	// put/del/ensure_index/remove_index touching coll's documents or
	// index list mid-pass. A visitor that calls back into put, del, or
	// any index operation on this same collection deadlocks here
	// (sync.RWMutex is not reentrant; KindDeadlockRisk is diagnostic
	// only, Go gives no way to detect or recover from it at runtime).
	coll.Lock()
	defer coll.Unlock()
	plan := query.Build(coll, q)
	res, err := query.Execute(e.store, coll, plan, visit)
	if err != nil {
		return query.Result{}, newErr("exec", KindIO, err)
	}
	return res, nil
}

// ParseQuery compiles JQL source into a bindable *jql.Query. Parse
// errors carry kind query_parse and wrap the parser's message (the text
// jql.Query.Error reports); no query is returned on error.
func ParseQuery(src string) (*jql.Query, error) {
	q, err := jql.Parse(src)
	if err != nil {
		return nil, newErr("exec", KindQueryParse, err)
	}
	return q, nil
}

// OnlineBackup writes a consistent point-in-time copy of the store to
// targetPath and returns the completion time in milliseconds since the
// Unix epoch. Concurrent writers are permitted during the backup.
func (e *Engine) OnlineBackup(targetPath string) (int64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen("online_backup"); err != nil {
		return 0, err
	}
	f, err := os.Create(targetPath)
	if err != nil {
		return 0, newErr("online_backup", KindIO, err)
	}
	defer f.Close()

	var w io.Writer = f
	var zw *zstd.Encoder
	if e.opts.OnlineBackupCompression {
		zw, err = zstd.NewWriter(f)
		if err != nil {
			return 0, newErr("online_backup", KindIO, err)
		}
		w = zw
	}

	backupErr := e.store.Backup(w)
	if zw != nil {
		if err := zw.Close(); err != nil && backupErr == nil {
			backupErr = err
		}
	}
	if backupErr != nil {
		return 0, newErr("online_backup", KindIO, backupErr)
	}
	if err := f.Sync(); err != nil {
		return 0, newErr("online_backup", KindIO, err)
	}
	return time.Now().UnixMilli(), nil
}
