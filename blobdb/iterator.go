package blobdb

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/syndtr/goleveldb/leveldb/iterator"

	"gitee.com/dong-shuishui/blobkv/config"
	"gitee.com/dong-shuishui/blobkv/internal/record"
)

// prefetchWindow bounds how many positions ahead (or behind) of the
// iterator's current key get speculatively resolved.
const prefetchWindow = 8

// Iterator wraps the LSM's iterator and resolves value handles on
// demand, optionally speculating ahead of the caller's traversal
// (spec.md §4.8 Iterator, blob_prefetch).
//
// Grounded on cockroachdb-pebble's go.mod use of golang.org/x/sync for
// bounded background work (the teacher has no prefetch pool of its
// own); the cache-plus-inflight-map shape follows the same "don't
// resolve the same handle twice" rule the file cache in vlog/filecache
// applies to open files. Only the number of concurrent resolutions is
// bounded (by BackgroundReadThreads); the cache of resolved values has
// no size limit and is emptied only on a direction reversal.
type Iterator struct {
	db       *DB
	it       iterator.Iterator
	prefetch bool

	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	cache    map[record.Handle][]byte
	inflight map[record.Handle]chan struct{}
	dir      int // +1 forward, -1 backward, 0 not yet moved
}

// NewIterator opens an iterator over the full keyspace (spec.md §4.8).
func (db *DB) NewIterator(ro config.ReadOptions) *Iterator {
	it := &Iterator{
		db:       db,
		it:       db.engine.NewIterator(nil, nil),
		prefetch: ro.Prefetch,
	}
	if ro.Prefetch {
		n := db.opts.BackgroundReadThreads
		if n <= 0 {
			n = 1
		}
		it.sem = semaphore.NewWeighted(int64(n))
		it.cache = make(map[record.Handle][]byte)
		it.inflight = make(map[record.Handle]chan struct{})
		it.ctx, it.cancel = context.WithCancel(context.Background())
	}
	return it
}

// SeekToFirst positions the iterator at the smallest key.
func (it *Iterator) SeekToFirst() bool { return it.afterMove(it.it.First(), 1) }

// SeekToLast positions the iterator at the largest key.
func (it *Iterator) SeekToLast() bool { return it.afterMove(it.it.Last(), -1) }

// Seek positions the iterator at the smallest key >= target.
func (it *Iterator) Seek(target []byte) bool { return it.afterMove(it.it.Seek(target), 1) }

// Next advances forward.
func (it *Iterator) Next() bool { return it.afterMove(it.it.Next(), 1) }

// Prev steps backward.
func (it *Iterator) Prev() bool { return it.afterMove(it.it.Prev(), -1) }

func (it *Iterator) afterMove(ok bool, dir int) bool {
	if !it.prefetch {
		return ok
	}
	if it.dir != 0 && it.dir != dir {
		// Direction reversal invalidates the prefetch window (spec.md
		// §4.8): stale speculative reads for the old direction are
		// harmless but no longer useful, so drop them rather than let
		// the cache grow unbounded across reversals.
		it.mu.Lock()
		it.cache = make(map[record.Handle][]byte)
		it.mu.Unlock()
	}
	it.dir = dir
	if ok {
		it.schedulePrefetch(dir)
	}
	return ok
}

// Valid reports whether the iterator is positioned at a live entry.
func (it *Iterator) Valid() bool { return it.it.Valid() }

// Key returns the current key.
func (it *Iterator) Key() []byte { return it.it.Key() }

// Err reports the iterator's sticky error, if any.
func (it *Iterator) Err() error { return it.it.Error() }

// Value resolves the current position's value, transparently following
// a value handle through the vlog if the stored LSM entry isn't inline.
func (it *Iterator) Value() ([]byte, error) {
	kind, value, h, err := record.DecodeLSMValue(it.it.Value())
	if err != nil {
		return nil, err
	}
	if kind == record.KindInline {
		return value, nil
	}
	if it.prefetch {
		if v, ok := it.lookupCache(h); ok {
			return v, nil
		}
		if ch, ok := it.lookupInflight(h); ok {
			<-ch
			if v, ok := it.lookupCache(h); ok {
				return v, nil
			}
		}
	}
	rec, err := it.db.vl.Get(h)
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

// Close releases the underlying LSM iterator and cancels any in-flight
// prefetch work.
func (it *Iterator) Close() {
	if it.cancel != nil {
		it.cancel()
	}
	it.it.Release()
}

func (it *Iterator) lookupCache(h record.Handle) ([]byte, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	v, ok := it.cache[h]
	return v, ok
}

func (it *Iterator) lookupInflight(h record.Handle) (chan struct{}, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()
	ch, ok := it.inflight[h]
	return ch, ok
}

// schedulePrefetch walks up to prefetchWindow positions ahead of the
// current key (in dir) on a throwaway iterator and kicks off background
// resolution for every value-handle entry found, bounded by it.sem.
func (it *Iterator) schedulePrefetch(dir int) {
	key := append([]byte(nil), it.it.Key()...)
	go func() {
		scan := it.db.engine.NewIterator(nil, nil)
		defer scan.Release()
		if !scan.Seek(key) {
			return
		}
		for i := 0; i < prefetchWindow; i++ {
			var ok bool
			if dir > 0 {
				ok = scan.Next()
			} else {
				ok = scan.Prev()
			}
			if !ok {
				return
			}
			kind, _, h, err := record.DecodeLSMValue(scan.Value())
			if err != nil || kind != record.KindValueHandle {
				continue
			}
			it.resolveAsync(h)
		}
	}()
}

func (it *Iterator) resolveAsync(h record.Handle) {
	it.mu.Lock()
	if _, ok := it.cache[h]; ok {
		it.mu.Unlock()
		return
	}
	if _, ok := it.inflight[h]; ok {
		it.mu.Unlock()
		return
	}
	done := make(chan struct{})
	it.inflight[h] = done
	it.mu.Unlock()

	defer close(done)

	if err := it.sem.Acquire(it.ctx, 1); err != nil {
		it.mu.Lock()
		delete(it.inflight, h)
		it.mu.Unlock()
		return
	}
	defer it.sem.Release(1)

	rec, err := it.db.vl.Get(h)

	it.mu.Lock()
	if err == nil {
		it.cache[h] = rec.Value
	}
	delete(it.inflight, h)
	it.mu.Unlock()
}
