package embeddb

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// OFlags is the bitmask open(2)-style flag set accepted by Open.
type OFlags uint8

const (
	// OTruncate removes any existing file at Options.Path before Open.
	OTruncate OFlags = 1 << iota
	// OReadonly opens the store read-only; every mutating operation
	// fails with invalid_state.
	OReadonly
	// ONoLock requests the store skip its advisory file lock. Not
	// supported by the bbolt backend (bbolt always flocks its file);
	// set, it is a no-op rather than a hard error, since a single
	// unlocked-store guarantee is about the caller's process
	// discipline, not something this backend can withhold.
	ONoLock
	// OLockNonblocking fails Open immediately (locked_nonblocking)
	// instead of waiting if another process already holds the file
	// lock.
	OLockNonblocking
	// OTsync requests every commit be fsync'd before Update returns.
	// This is bbolt's default; without OTsync, Open disables it for
	// throughput at the cost of a narrower crash window.
	OTsync
)

// WALOptions mirrors the teacher's getOptimizedBoltOptions knobs.
// bbolt owns its WAL and freelist internally, so most of these fields
// parallel bolt.Options rather than being independently enforced;
// they exist so Options round-trips through YAML/env the same shape
// spec.md's open() table describes.
type WALOptions struct {
	Enabled               bool          `yaml:"enabled"`
	CheckCRCOnCheckpoint  bool          `yaml:"checkCrcOnCheckpoint"`
	CheckpointBufferSz    int           `yaml:"checkpointBufferSz"`
	CheckpointTimeoutSec  int           `yaml:"checkpointTimeoutSec"`
	SavepointTimeoutSec   int           `yaml:"savepointTimeoutSec"`
	WALBufferSz           int           `yaml:"walBufferSz"`
}

// lockTimeout turns SavepointTimeoutSec into the duration bbolt waits
// to acquire its file lock before giving up.
func (w WALOptions) lockTimeout() time.Duration {
	if w.SavepointTimeoutSec <= 0 {
		return 0
	}
	return time.Duration(w.SavepointTimeoutSec) * time.Second
}

const (
	minDocumentBufferSz = 16 * 1024
	minSortBufferSz     = 1024 * 1024

	defaultDocumentBufferSz = 64 * 1024
	defaultSortBufferSz     = 16 * 1024 * 1024
)

// Options configures Open, per spec.md §6.2. Logger and
// OnlineBackupCompression are ambient/domain additions with no
// counterpart in the original open() table.
type Options struct {
	Path   string     `yaml:"path"`
	OFlags OFlags     `yaml:"oflags"`
	WAL    WALOptions `yaml:"wal"`

	// DocumentBufferSz is validated (min 16KiB, default 64KiB) and kept
	// in Options; no engine component reads it.
	DocumentBufferSz int `yaml:"documentBufferSz"`
	// SortBufferSz is validated (min 1MiB, default 16MiB) and kept in
	// Options; the executor does not read it. internal/query's
	// boundedBuffer orders matches entirely in memory, holding at most
	// skip+limit items when limit is set and every match otherwise.
	SortBufferSz int `yaml:"sortBufferSz"`

	// Logger receives the engine's structured log output. Defaults to
	// slog.Default() if nil.
	Logger *slog.Logger `yaml:"-"`

	// OnlineBackupCompression wraps OnlineBackup's copy stream in a zstd
	// streaming encoder (klauspost/compress/zstd). Off by default
	// since Backup already writes a page-for-page store image that
	// downstream tooling expects to be openable as-is.
	OnlineBackupCompression bool `yaml:"onlineBackupCompression"`
}

// envOptions is the envconfig-processed overlay for Options, following
// the teacher's services/mddb-mcp/internal/config split between a YAML
// struct and a flat ENV struct.
type envOptions struct {
	Path                    string `envconfig:"EMBEDDB_PATH"`
	DocumentBufferSz        int    `envconfig:"EMBEDDB_DOCUMENT_BUFFER_SZ"`
	SortBufferSz            int    `envconfig:"EMBEDDB_SORT_BUFFER_SZ"`
	OnlineBackupCompression bool   `envconfig:"EMBEDDB_ONLINE_BACKUP_COMPRESSION"`
}

// DefaultOptions returns an Options populated with every documented
// default (spec.md §6.2), WAL enabled, and no open flags set.
func DefaultOptions(path string) Options {
	return Options{
		Path:             path,
		WAL:              WALOptions{Enabled: true, SavepointTimeoutSec: 2},
		DocumentBufferSz: defaultDocumentBufferSz,
		SortBufferSz:     defaultSortBufferSz,
	}
}

// LoadOptions layers Options the way the teacher's config.Load does:
// defaults, then an optional YAML file at yamlPath (a missing file is
// not an error), then environment variable overrides, then validation
// and default-filling of any field still at its zero value.
func LoadOptions(yamlPath string) (Options, error) {
	opts := DefaultOptions("")

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// no config file is acceptable; defaults stand.
		case err != nil:
			return Options{}, newErr("load_options", KindIO, err)
		default:
			if err := yaml.Unmarshal(data, &opts); err != nil {
				return Options{}, newErr("load_options", KindInvalidArgument, err)
			}
		}
	}

	var e envOptions
	if err := envconfig.Process("", &e); err != nil {
		return Options{}, newErr("load_options", KindInvalidArgument, err)
	}
	if e.Path != "" {
		opts.Path = e.Path
	}
	if e.DocumentBufferSz != 0 {
		opts.DocumentBufferSz = e.DocumentBufferSz
	}
	if e.SortBufferSz != 0 {
		opts.SortBufferSz = e.SortBufferSz
	}
	if e.OnlineBackupCompression {
		opts.OnlineBackupCompression = true
	}

	return opts.withDefaults()
}

// withDefaults fills any zero-valued sized field with its documented
// default and enforces the documented minimums.
func (o Options) withDefaults() (Options, error) {
	if o.Path == "" {
		return Options{}, newErr("load_options", KindInvalidArgument, fmt.Errorf("path is required"))
	}
	if o.DocumentBufferSz == 0 {
		o.DocumentBufferSz = defaultDocumentBufferSz
	}
	if o.DocumentBufferSz < minDocumentBufferSz {
		return Options{}, newErr("load_options", KindInvalidArgument, fmt.Errorf("document_buffer_sz below minimum %d", minDocumentBufferSz))
	}
	if o.SortBufferSz == 0 {
		o.SortBufferSz = defaultSortBufferSz
	}
	if o.SortBufferSz < minSortBufferSz {
		return Options{}, newErr("load_options", KindInvalidArgument, fmt.Errorf("sort_buffer_sz below minimum %d", minSortBufferSz))
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}
