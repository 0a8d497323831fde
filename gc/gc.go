// Package gc implements spec.md §4.7's pick/collect/rewrite pipeline: the
// part of garbage collection that actually decides which vlog file to
// reclaim and moves its live records forward. valuelog.ValueLog owns
// scheduling (trigger policy, the gc_pointer_ round robin) and calls back
// into a Runner built here via ValueLog.SetGCRunner, avoiding an import
// cycle between the two packages.
//
// Grounded on the teacher's kvstore/GC/GC_2.go threshold-driven
// compaction loop (scan entries, accumulate live/discard counts, compare
// against a configured ratio before doing any rewrite work), generalized
// from Raft log entries to vlog records and LSM value handles.
package gc

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"gitee.com/dong-shuishui/blobkv/config"
	"gitee.com/dong-shuishui/blobkv/internal/lsm"
	"gitee.com/dong-shuishui/blobkv/internal/manifest"
	"gitee.com/dong-shuishui/blobkv/internal/record"
	"gitee.com/dong-shuishui/blobkv/internal/status"
	"gitee.com/dong-shuishui/blobkv/vlog"
)

// Runner drives one GC attempt at a time against a ValueLog. BlobDB builds
// exactly one Runner at Open and wires it in via ValueLog.SetGCRunner.
type Runner struct {
	vl     ValueLogHandle
	engine lsm.Engine
	cw     *lsm.ConditionalWriter
	opts   config.Options

	// AfterValueRewrite and AfterLSMRewrite are test hooks invoked at
	// spec.md §4.7's sync points A and B respectively. Production callers
	// leave these nil.
	AfterValueRewrite func()
	AfterLSMRewrite   func()
}

// ValueLogHandle is the subset of *valuelog.ValueLog a Runner needs. An
// interface here (rather than importing valuelog directly) would still
// create the same import-cycle problem in reverse if valuelog ever needed
// gc's types, so the Runner is instead constructed with the concrete
// *valuelog.ValueLog by blobdb, and this interface exists purely to keep
// the dependency direction explicit and the Runner unit-testable with a
// fake.
type ValueLogHandle interface {
	PickGC(number uint64) (uint64, bool)
	FileMeta(number uint64) (manifest.FileMeta, bool)
	OpenFileForScan(number uint64) (*vlog.RWFile, error)
	AllocateOutputFile() (*vlog.RWFile, error)
	MarkObsoleteAndInstall(newMeta manifest.FileMeta, oldNumber uint64) error
	DeleteFileEdit(number uint64) error
	ShuttingDown() bool
}

// NewRunner builds a Runner. cw must guard the same lock BlobDB takes for
// foreground writes, so GC's conditional rewrites and user Puts never
// interleave on one key (spec.md §4.7 "Conditional-write mechanism").
func NewRunner(vl ValueLogHandle, engine lsm.Engine, cw *lsm.ConditionalWriter, opts config.Options) *Runner {
	return &Runner{vl: vl, engine: engine, cw: cw, opts: opts}
}

// liveRecord is a record from the Collect phase that survived the
// liveness check and needs to move to the output file.
type liveRecord struct {
	key       []byte
	value     []byte
	oldHandle record.Handle
}

// Run executes one GC attempt starting the pick at startNumber. It
// returns a status.NonFatal error for "skip" outcomes (PickGC found
// nothing, or the discard ratio is below threshold) and any other status
// for a genuine failure.
func (r *Runner) Run(startNumber uint64) error {
	number, ok := r.vl.PickGC(startNumber)
	if !ok {
		return status.New(status.NonFatal, "gc: no candidate file")
	}
	return r.runOne(number)
}

func (r *Runner) runOne(number uint64) error {
	f, err := r.vl.OpenFileForScan(number)
	if err != nil {
		return err
	}
	defer f.Unref()

	live, totalEntries, totalSize, discardEntries, discardSize, err := r.collect(f)
	if err != nil {
		return err
	}

	if totalEntries == 0 || len(live) == 0 {
		// Every record discarded (or the file was empty to begin with):
		// spec.md §4.7's all-dead shortcut, no rewrite needed.
		return r.vl.DeleteFileEdit(number)
	}

	sizeRatio := float64(discardSize) / float64(totalSize)
	numRatio := float64(discardEntries) / float64(totalEntries)
	if sizeRatio < r.opts.GCSizeDiscardThreshold && numRatio < r.opts.GCNumDiscardThreshold {
		return status.New(status.NonFatal, "gc: discard ratio below threshold")
	}

	return r.rewrite(number, live)
}

// collect implements spec.md §4.7's Collect phase: scan every record in
// f, and for each one query the LSM to decide liveness — the LSM must
// return a value-handle whose decoded handle equals the record's own
// handle in the file being scanned. Anything else (not found, inline
// value, or a handle pointing elsewhere) means a later write superseded
// this record, so it is discarded.
func (r *Runner) collect(f *vlog.RWFile) (live []liveRecord, totalEntries, totalSize, discardEntries, discardSize uint64, err error) {
	it := f.NewIterator(0)
	for it.Next() {
		var h record.Handle
		it.GetValueHandle(&h)
		totalEntries++
		totalSize += uint64(h.Size)

		key := append([]byte(nil), it.Key()...)

		isLive, lerr := r.isLive(key, h)
		if lerr != nil {
			return nil, 0, 0, 0, 0, lerr
		}
		if isLive {
			live = append(live, liveRecord{
				key:       key,
				value:     append([]byte(nil), it.Value()...),
				oldHandle: h,
			})
		} else {
			discardEntries++
			discardSize += uint64(h.Size)
		}
	}
	if it.Err() != nil {
		return nil, 0, 0, 0, 0, it.Err()
	}
	return live, totalEntries, totalSize, discardEntries, discardSize, nil
}

func (r *Runner) isLive(key []byte, h record.Handle) (bool, error) {
	cur, err := r.engine.Get(key, nil)
	if err != nil {
		if lsm.NotFound(err) {
			return false, nil
		}
		return false, status.Wrapf(status.IOError, err, "gc: lsm get %q", key)
	}
	kind, _, curHandle, derr := record.DecodeLSMValue(cur)
	if derr != nil {
		// A malformed LSM value can't be this record's live owner; treat
		// as discarded rather than failing the whole GC pass.
		return false, nil
	}
	return kind == record.KindValueHandle && curHandle == h, nil
}

// rewrite implements spec.md §4.7's Rewrite phase, steps 1-6.
func (r *Runner) rewrite(oldNumber uint64, live []liveRecord) error {
	out, err := r.vl.AllocateOutputFile()
	if err != nil {
		return err
	}

	batch := &vlog.ValueBatch{Entries: make([]vlog.BatchEntry, len(live))}
	for i, e := range live {
		batch.Entries[i] = vlog.BatchEntry{Key: e.key, Value: e.value}
	}
	if err := out.AddBatch(batch); err != nil {
		out.Close()
		return err
	}
	if err := out.Finish(); err != nil {
		return err
	}
	newMeta := manifest.FileMeta{Number: out.FileNum, FileSize: out.Size(), NumEntries: out.NumEntries()}
	// out is never installed in the file cache — future readers reopen it
	// read-only through vl.cache's Opener — so this call is the only
	// reference to its os.File and must close it itself now that Finish
	// no longer does.
	if err := out.Close(); err != nil {
		return err
	}

	// Sync point A ("GC.Rewrite.AfterValueRewrite"): the new file is
	// durable and self-contained but not yet installed or referenced by
	// the LSM. A crash here is survived by recoverUntrackedFiles.
	if r.AfterValueRewrite != nil {
		r.AfterValueRewrite()
	}

	for i, e := range live {
		if r.vl.ShuttingDown() {
			return status.New(status.IOError, "gc: shutting down mid-rewrite")
		}
		newHandle := batch.Entries[i].Handle
		expected := record.EncodeValueHandle(e.oldHandle)
		updated := record.EncodeValueHandle(newHandle)
		// applied==false means the key was overwritten concurrently: the
		// record is abandoned per spec.md §4.7 step 4, not an error.
		if _, err := r.cw.CompareAndSwap(e.key, expected, updated); err != nil {
			return err
		}
	}

	// Force the LSM to sync once after the loop (spec.md §4.7 step 4):
	// an empty batch with Sync:true flushes the WAL without touching any
	// key a second time.
	if err := r.engine.Write(new(leveldb.Batch), &opt.WriteOptions{Sync: true}); err != nil {
		return status.Wrap(status.IOError, err, "gc: force lsm sync")
	}

	// Sync point B ("GC.Rewrite.AfterLSMRewrite"): both files are durable
	// and the LSM points at the new handles; only the manifest edit below
	// remains.
	if r.AfterLSMRewrite != nil {
		r.AfterLSMRewrite()
	}

	return r.vl.MarkObsoleteAndInstall(newMeta, oldNumber)
}
