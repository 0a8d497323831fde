package vlog

import (
	"io"
	"os"
	"sync/atomic"

	"gitee.com/dong-shuishui/blobkv/internal/record"
	"gitee.com/dong-shuishui/blobkv/internal/status"
)

// RWFile pairs one Builder and one Reader over the same file object
// (spec.md §4.2). It is reference-counted: every iterator or cache pin
// increments the count. The owner (ValueLogImpl) takes no ref for the
// file's time as the active writer; an active file is never destroyable
// anyway, since CanDestroy also requires it to be sealed.
//
// Concurrency contract: one appender and N readers simultaneously. The
// appender advances endOffset after each Add/AddBatch under the value
// log's write lock; readers opened earlier remain bounded by their
// snapshotted end-of-data (see Reader.NewIterator).
type RWFile struct {
	FileNum uint64

	file      *os.File
	builder   *Builder // nil for a read-only (sealed, cache-opened) file
	reader    *Reader
	endOffset atomic.Uint64

	refs   atomic.Int64
	sealed atomic.Bool
}

// OpenActive creates or reopens path as the active writer for fileNum,
// positioned to append starting at startOffset (0 for a new file, or the
// resume offset recovery computed after truncating a torn tail).
func OpenActive(path string, fileNum uint64, startOffset uint64) (*RWFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, status.Wrap(status.IOError, err, "vlog: open active file")
	}
	if _, err := f.Seek(int64(startOffset), io.SeekStart); err != nil {
		f.Close()
		return nil, status.Wrap(status.IOError, err, "vlog: seek active file")
	}
	rw := &RWFile{FileNum: fileNum, file: f}
	rw.endOffset.Store(startOffset)
	rw.builder = NewBuilder(f, fileNum, startOffset)
	rw.reader = NewReader(f, fileNum, &rw.endOffset)
	return rw, nil
}

// OpenReadOnly opens an already-sealed file of known size for reading
// only (used by the file cache for entries in ro_files, and by recovery
// once a file has been validated).
func OpenReadOnly(path string, fileNum uint64, size int64) (*RWFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, status.Wrap(status.IOError, err, "vlog: open read-only file")
	}
	rw := &RWFile{FileNum: fileNum, file: f}
	rw.endOffset.Store(uint64(size))
	rw.reader = NewReader(f, fileNum, &rw.endOffset)
	rw.sealed.Store(true)
	return rw, nil
}

// Ref pins the file so it cannot be destroyed out from under a reader.
func (f *RWFile) Ref() { f.refs.Add(1) }

// Unref releases a pin. It never closes the file itself here — the file
// cache/ValueLogImpl owns the actual os.File lifetime and closes it only
// once both sealed and refs==0 (see CanDestroy).
func (f *RWFile) Unref() { f.refs.Add(-1) }

// RefCount reports the current pin count (for tests and DebugString).
func (f *RWFile) RefCount() int64 { return f.refs.Load() }

// CanDestroy reports whether this file may be closed/unlinked: it must be
// sealed (Finish-called) and hold no outstanding pins.
func (f *RWFile) CanDestroy() bool {
	return f.sealed.Load() && f.refs.Load() == 0
}

// Size is the file's current logical length.
func (f *RWFile) Size() uint64 { return f.endOffset.Load() }

// IsActive reports whether this file still has a live builder (has not
// been sealed).
func (f *RWFile) IsActive() bool { return f.builder != nil && !f.sealed.Load() }

// Add appends one record through the active builder and advances the
// shared end-of-data so concurrent readers observe the new record.
func (f *RWFile) Add(key, value []byte) (record.Handle, error) {
	if f.builder == nil {
		return record.Handle{}, status.New(status.InvalidArgument, "vlog: file is not writable")
	}
	h, err := f.builder.Add(key, value)
	if err != nil {
		return h, err
	}
	f.endOffset.Store(f.builder.Offset())
	return h, nil
}

// AddBatch appends a ValueBatch through the active builder.
func (f *RWFile) AddBatch(batch *ValueBatch) error {
	if f.builder == nil {
		return status.New(status.InvalidArgument, "vlog: file is not writable")
	}
	if err := f.builder.AddBatch(batch); err != nil {
		return err
	}
	f.endOffset.Store(f.builder.Offset())
	return nil
}

// Sync fsyncs the active builder's file.
func (f *RWFile) Sync() error {
	if f.builder == nil {
		return nil
	}
	return f.builder.Sync()
}

// Finish seals the file: final flush+sync of the builder. It does not
// close the os.File; that is Close's job. After
// Finish, IsActive is false and the file becomes eligible for destruction
// once its ref count reaches zero.
func (f *RWFile) Finish() error {
	if f.builder == nil {
		f.sealed.Store(true)
		return nil
	}
	if err := f.builder.Finish(); err != nil {
		return err
	}
	f.sealed.Store(true)
	return nil
}

// NumEntries returns the number of records written by the active builder,
// or 0 for a read-only file (callers track this separately via manifest
// metadata once sealed).
func (f *RWFile) NumEntries() uint64 {
	if f.builder == nil {
		return 0
	}
	return f.builder.NumEntries()
}

// Get performs a point read by handle.
func (f *RWFile) Get(h record.Handle) (record.Record, error) {
	return f.reader.Get(h)
}

// NewIterator returns a sequential iterator starting at startOffset.
func (f *RWFile) NewIterator(startOffset uint64) *Iterator {
	return f.reader.NewIterator(startOffset)
}

// Close releases the underlying os.File handle. Callers must only call
// this once CanDestroy() is true.
func (f *RWFile) Close() error {
	if err := f.file.Close(); err != nil {
		return status.Wrap(status.IOError, err, "vlog: close file")
	}
	return nil
}
