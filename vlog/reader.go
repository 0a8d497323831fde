package vlog

import (
	"io"
	"os"
	"sync/atomic"

	"gitee.com/dong-shuishui/blobkv/internal/record"
	"gitee.com/dong-shuishui/blobkv/internal/status"
)

// Reader exposes point reads and a sequential iterator over one vlog
// file (spec.md §4.1 VLogReader). endOffset is shared with this file's
// Builder (if any is actively appending) so an iterator opened while
// writes are in flight never reads past uncommitted data — it snapshots
// endOffset at construction time, per spec.md §4.1/§4.2.
type Reader struct {
	file      *os.File
	fileNum   uint64
	endOffset *atomic.Uint64
}

// NewReader wraps f for reading. endOffset must be the same counter the
// file's Builder (if any) advances after each Add/AddBatch; for a sealed,
// read-only file it is set once to the file's final size and never
// changes again.
func NewReader(f *os.File, fileNum uint64, endOffset *atomic.Uint64) *Reader {
	return &Reader{file: f, fileNum: fileNum, endOffset: endOffset}
}

// Get performs a point read by handle: seek to the record's offset and
// decode it. Returns status.Corruption on a short or malformed read, per
// spec.md §4.1.
func (r *Reader) Get(h record.Handle) (record.Record, error) {
	if h.Table != r.fileNum {
		return record.Record{}, status.New(status.InvalidArgument, "vlog: handle targets a different file")
	}
	return record.DecodeFrom(r.file, int64(h.Offset), h.Size)
}

// NewIterator returns an iterator starting at startOffset (0 for the
// beginning of the file), bounded by the reader's end-of-data as
// snapshotted right now.
func (r *Reader) NewIterator(startOffset uint64) *Iterator {
	return &Iterator{
		r:      r,
		offset: startOffset,
		end:    r.endOffset.Load(),
	}
}

// Iterator walks a vlog file's records in file order. Keys are not sorted
// inside a vlog file (spec.md §4.5): this iterator exists for GC's
// liveness scan and for valuelog.MergeIterator, not for user-facing
// sorted iteration.
type Iterator struct {
	r      *Reader
	offset uint64
	end    uint64
	cur    record.Record
	curLen uint32
	err    error
	valid  bool
}

// Next advances to the next record, or becomes invalid at end-of-data.
// A malformed or short read before reaching end surfaces as
// status.Corruption via Err(); callers performing recovery instead treat
// that as the signal to truncate (see ValidateAndTruncate).
func (it *Iterator) Next() bool {
	if it.err != nil || it.offset >= it.end {
		it.valid = false
		return false
	}
	// Read up to maxProbe bytes in one ReadAt and decode the record at the
	// front of them; a record longer than maxProbe therefore surfaces as
	// status.Corruption. Point reads use DecodeFrom against a handle
	// instead, so this path is only exercised by iteration.
	headBuf := make([]byte, minInt(maxProbe, int(it.end-it.offset)))
	n, err := it.r.file.ReadAt(headBuf, int64(it.offset))
	if err != nil && err != io.EOF {
		it.err = status.Wrap(status.IOError, err, "vlog: iterator read")
		it.valid = false
		return false
	}
	headBuf = headBuf[:n]
	rec, consumed, derr := record.Decode(headBuf)
	if derr != nil {
		it.err = derr
		it.valid = false
		return false
	}
	// Key/Value slices point into headBuf, which is safe to keep because
	// each Next() call allocates a fresh buffer.
	it.cur = rec
	it.curLen = uint32(consumed)
	it.offset += uint64(consumed)
	it.valid = true
	return true
}

const maxProbe = 1 << 20 // 1MiB: large enough for any realistic vlog record

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (it *Iterator) Valid() bool   { return it.valid }
func (it *Iterator) Key() []byte   { return it.cur.Key }
func (it *Iterator) Value() []byte { return it.cur.Value }
func (it *Iterator) Err() error    { return it.err }

// GetValueHandle fills out with the handle of the record the iterator is
// currently positioned on.
func (it *Iterator) GetValueHandle(out *record.Handle) {
	*out = record.Handle{
		Table:  it.r.fileNum,
		Offset: uint32(it.offset - uint64(it.curLen)),
		Size:   it.curLen,
	}
}

// ValidateAndTruncate implements spec.md §4.6's tail-truncation protocol.
// It scans f from offset 0, decoding each record in turn; the first one
// that is malformed or short marks the end of the valid prefix (there is
// no checksum to additionally guard against bit-level corruption — see
// the record package's doc comment). f is truncated to that byte offset,
// and the accepted length is returned as the resume offset for the
// file's builder.
func ValidateAndTruncate(f *os.File, size int64) (validLen int64, err error) {
	var offset int64
	for offset < size {
		remaining := size - offset
		headBuf := make([]byte, minInt64(maxProbe, remaining))
		n, rerr := f.ReadAt(headBuf, offset)
		if rerr != nil && rerr != io.EOF {
			return offset, status.Wrap(status.IOError, rerr, "vlog: validate read")
		}
		headBuf = headBuf[:n]
		if len(headBuf) == 0 {
			break
		}
		_, consumed, derr := record.Decode(headBuf)
		if derr != nil {
			// First bad record: tail is torn here. Truncate and stop.
			break
		}
		offset += int64(consumed)
	}
	if offset != size {
		if err := f.Truncate(offset); err != nil {
			return offset, status.Wrap(status.IOError, err, "vlog: truncate")
		}
	}
	return offset, nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
