// Package lsm is the narrow collaborator boundary spec.md §1 calls
// "explicitly out of scope: the underlying LSM engine". Everything above
// this package talks to Engine, never to *leveldb.DB directly, mirroring
// the way the teacher's persister package wraps *leveldb.DB instead of
// letting callers reach into goleveldb themselves.
package lsm

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbutil "github.com/syndtr/goleveldb/leveldb/util"

	"gitee.com/dong-shuishui/blobkv/internal/status"
)

// Engine is the subset of goleveldb's *leveldb.DB that blobkv depends on.
// spec.md's non-goals exclude reimplementing any of this: WAL, memtable,
// SSTable compaction and snapshots are goleveldb's problem, not ours.
type Engine interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	Put(key, value []byte, wo *opt.WriteOptions) error
	Delete(key []byte, wo *opt.WriteOptions) error
	Write(batch *leveldb.Batch, wo *opt.WriteOptions) error
	NewIterator(slice *leveldbutil.Range, ro *opt.ReadOptions) iterator.Iterator
	GetSnapshot() (*leveldb.Snapshot, error)
	CompactRange(r leveldbutil.Range) error
	GetProperty(name string) (string, error)
	SizeOf(ranges []leveldbutil.Range) (leveldb.Sizes, error)
	Close() error
}

// Open opens (or creates, per createIfMissing) the LSM store at dir.
func Open(dir string, createIfMissing bool) (Engine, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{
		ErrorIfMissing: !createIfMissing,
	})
	if err != nil {
		return nil, status.Wrapf(status.IOError, err, "lsm: open %q", dir)
	}
	return db, nil
}

// NotFound reports whether err is goleveldb's not-found sentinel.
func NotFound(err error) bool {
	return errors.Is(err, leveldb.ErrNotFound)
}

// ConditionalWriter serializes the GC rewrite loop's per-key conditional
// writes against foreground writers.
//
// spec.md §4.7 wants "a write-with-callback invoked while holding the
// write group lock": goleveldb exposes no such hook, so per spec.md §9's
// documented fallback we substitute an optimistic compare-and-swap,
// holding a mutex across the read-compare-write sequence for one key at a
// time (AllowGrouping=false: one key per critical section, never batched
// with another key's CAS).
type ConditionalWriter struct {
	mu     *sync.RWMutex
	engine Engine
}

// NewConditionalWriter builds a writer that guards every CAS with mu.
// mu is the same lock BlobDB takes for foreground Write calls, so a GC
// rewrite and a user Put can never interleave on the same key.
func NewConditionalWriter(engine Engine, mu *sync.RWMutex) *ConditionalWriter {
	return &ConditionalWriter{mu: mu, engine: engine}
}

// CompareAndSwap writes newEncoded for key iff the LSM's current value for
// key equals expectedEncoded. Returns applied=false (not an error) if the
// key was concurrently overwritten — the GC caller treats that as "the
// record is abandoned", per spec.md §4.7 step 4.
func (c *ConditionalWriter) CompareAndSwap(key, expectedEncoded, newEncoded []byte) (applied bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, err := c.engine.Get(key, nil)
	if err != nil {
		if NotFound(err) {
			return false, nil
		}
		return false, status.Wrapf(status.IOError, err, "lsm: conditional read %q", key)
	}
	if string(cur) != string(expectedEncoded) {
		return false, nil
	}
	if err := c.engine.Put(key, newEncoded, &opt.WriteOptions{Sync: false}); err != nil {
		return false, status.Wrapf(status.IOError, err, "lsm: conditional write %q", key)
	}
	return true, nil
}
