package valuelog

import (
	"gitee.com/dong-shuishui/blobkv/internal/record"
	"gitee.com/dong-shuishui/blobkv/internal/status"
	"gitee.com/dong-shuishui/blobkv/vlog"
)

// Write appends batch to the active file, rolling over to a new file if
// the active file has now reached MaxFileSize (spec.md §4.5 Put/Write). Not
// safe for concurrent callers — BlobDB serializes writers with its own
// lock before calling this, per spec.md §5.
func (vl *ValueLog) Write(batch *vlog.ValueBatch) error {
	vl.mu.Lock()
	defer vl.mu.Unlock()

	if vl.active == nil {
		if err := vl.rolloverLocked(); err != nil {
			return err
		}
	}
	if err := vl.active.AddBatch(batch); err != nil {
		return err
	}
	if vl.active.Size() >= uint64(vl.opts.MaxFileSize) {
		if err := vl.sealActiveLocked(); err != nil {
			return err
		}
		if err := vl.rolloverLocked(); err != nil {
			return err
		}
	}
	return nil
}

// SyncActive fsyncs the active vlog file, used when the caller's
// WriteOptions.Sync is set (spec.md §5 ordering guarantees).
func (vl *ValueLog) SyncActive() error {
	vl.mu.RLock()
	f := vl.active
	vl.mu.RUnlock()
	if f == nil {
		return nil
	}
	return f.Sync()
}

// Get performs a point read by handle (spec.md §4.5). Active-file reads
// pin the active file under the read lock, so a concurrent rollover
// cannot close it mid-read; reads against a sealed file borrow a pinned
// handle from the file cache.
func (vl *ValueLog) Get(h record.Handle) (record.Record, error) {
	vl.mu.RLock()
	if vl.active != nil && h.Table == vl.active.FileNum {
		f := vl.active
		f.Ref()
		vl.mu.RUnlock()
		defer f.Unref()
		return f.Get(h)
	}
	_, tracked := vl.version.Tracked(h.Table)
	vl.mu.RUnlock()

	if !tracked {
		return record.Record{}, status.New(status.NotFound, "valuelog: unknown or deleted file")
	}
	cf, err := vl.cache.Get(h.Table)
	if err != nil {
		return record.Record{}, err
	}
	defer cf.Unref()
	return cf.Get(h)
}

// MergeIterator scans every sealed file in file-number order, then the
// active file up to its current offset (spec.md §4.5 Iterator), in record
// order within each file — not a sorted, user-facing iterator. The GC
// collect phase and BlobDB's iterator do not use it; GC scans its one
// chosen file directly through vlog.RWFile.NewIterator.
type MergeIterator struct {
	vl      *ValueLog
	nums    []uint64
	idx     int
	pinned  *vlog.RWFile
	pinnedActive bool
	cur     *vlog.Iterator
	err     error
}

// NewMergeIterator builds an iterator over every non-obsolete sealed file
// with number >= fromFile, followed by the active file if its number is
// also >= fromFile.
func (vl *ValueLog) NewMergeIterator(fromFile uint64) *MergeIterator {
	vl.mu.RLock()
	defer vl.mu.RUnlock()

	var nums []uint64
	for num := range vl.version.ROFiles {
		if num < fromFile {
			continue
		}
		if _, obsolete := vl.version.ObsoleteFiles[num]; obsolete {
			continue
		}
		nums = append(nums, num)
	}
	sortUint64s(nums)
	if vl.active != nil && vl.active.FileNum >= fromFile {
		nums = append(nums, vl.active.FileNum)
	}
	return &MergeIterator{vl: vl, nums: nums}
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func (it *MergeIterator) releaseCurrent() {
	if it.pinned != nil {
		if !it.pinnedActive {
			it.pinned.Unref()
		}
		it.pinned = nil
	}
	it.cur = nil
}

// Next advances to the next record across all files in scope.
func (it *MergeIterator) Next() bool {
	for {
		if it.cur != nil && it.cur.Next() {
			return true
		}
		it.releaseCurrent()
		if it.idx >= len(it.nums) {
			return false
		}
		num := it.nums[it.idx]
		it.idx++

		it.vl.mu.RLock()
		isActive := it.vl.active != nil && it.vl.active.FileNum == num
		var f *vlog.RWFile
		if isActive {
			f = it.vl.active
		}
		it.vl.mu.RUnlock()

		if !isActive {
			var err error
			f, err = it.vl.cache.Get(num)
			if err != nil {
				it.err = err
				return false
			}
		}
		it.pinned = f
		it.pinnedActive = isActive
		it.cur = f.NewIterator(0)
	}
}

func (it *MergeIterator) Key() []byte             { return it.cur.Key() }
func (it *MergeIterator) Value() []byte           { return it.cur.Value() }
func (it *MergeIterator) Handle() record.Handle {
	var h record.Handle
	it.cur.GetValueHandle(&h)
	return h
}
func (it *MergeIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if it.cur != nil {
		return it.cur.Err()
	}
	return nil
}

// Close releases the iterator's pinned file, if any.
func (it *MergeIterator) Close() {
	it.releaseCurrent()
}
