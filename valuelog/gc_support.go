package valuelog

import (
	"os"

	"gitee.com/dong-shuishui/blobkv/internal/filenames"
	"gitee.com/dong-shuishui/blobkv/internal/manifest"
	"gitee.com/dong-shuishui/blobkv/internal/status"
	"gitee.com/dong-shuishui/blobkv/vlog"
)

// PickGC implements spec.md §4.7 PickGC: the smallest live (tracked,
// non-obsolete) file number >= number, or ok=false if none.
func (vl *ValueLog) PickGC(number uint64) (uint64, bool) {
	vl.mu.RLock()
	defer vl.mu.RUnlock()
	return vl.version.SmallestLiveAtLeast(number)
}

// FileMeta reports a tracked file's metadata.
func (vl *ValueLog) FileMeta(number uint64) (manifest.FileMeta, bool) {
	vl.mu.RLock()
	defer vl.mu.RUnlock()
	return vl.version.Tracked(number)
}

// OpenFileForScan pins and returns the file numbered number for GC's
// Collect phase, whether it is the active writer or a sealed file
// borrowed from the cache. Callers must Unref when done.
func (vl *ValueLog) OpenFileForScan(number uint64) (*vlog.RWFile, error) {
	vl.mu.RLock()
	if vl.active != nil && vl.active.FileNum == number {
		f := vl.active
		f.Ref()
		vl.mu.RUnlock()
		return f, nil
	}
	vl.mu.RUnlock()
	return vl.cache.Get(number)
}

// AllocateOutputFile reserves a fresh file number and creates its file,
// ready for GC's rewrite phase to append into (spec.md §4.7 step 1). The
// file is registered in pendingOutputs but is deliberately NOT installed
// in ro_files yet — spec.md's sync point A relies on the file being
// undiscoverable through the manifest until MarkObsoleteAndInstall, so a
// crash between the two leaves it as an untracked file for
// recoverUntrackedFiles to reattach.
func (vl *ValueLog) AllocateOutputFile() (*vlog.RWFile, error) {
	vl.mu.Lock()
	defer vl.mu.Unlock()
	num, err := vl.allocateFileNumberLocked()
	if err != nil {
		return nil, err
	}
	return vlog.OpenActive(filenames.VLogFile(vl.dir, num), num, 0)
}

// MarkObsoleteAndInstall implements spec.md §4.7 step 6: a single atomic
// edit that both installs the GC output file in ro_files and marks the
// rewritten-from file obsolete at the current sequence.
func (vl *ValueLog) MarkObsoleteAndInstall(newMeta manifest.FileMeta, oldNumber uint64) error {
	vl.mu.Lock()
	defer vl.mu.Unlock()
	seq := vl.CurrentSeq()
	var edit manifest.Edit
	edit.AddFile(newMeta)
	edit.DeleteFile(oldNumber, seq)
	if err := vl.man.LogAndApply(vl.version, edit); err != nil {
		return err
	}
	delete(vl.pendingOutputs, newMeta.Number)
	vl.cache.Evict(oldNumber)
	return nil
}

// DeleteFileEdit implements spec.md §4.7's "all-dead shortcut": mark
// number obsolete directly, without any rewrite.
func (vl *ValueLog) DeleteFileEdit(number uint64) error {
	vl.mu.Lock()
	defer vl.mu.Unlock()
	seq := vl.CurrentSeq()
	var edit manifest.Edit
	edit.DeleteFile(number, seq)
	if err := vl.man.LogAndApply(vl.version, edit); err != nil {
		return err
	}
	vl.cache.Evict(number)
	return nil
}

// RemoveObsoleteFiles implements spec.md §4.7's obsolete-file deletion:
// any file marked obsolete at a sequence below every live snapshot is
// unlinked from disk. A file already open via the cache or an
// in-progress iterator keeps its os.File descriptor valid after unlink
// (standard POSIX semantics: the directory entry disappears, the open
// descriptor keeps working until closed) — this is the "no outstanding
// iterator references it" condition spec.md asks for, enforced by the
// filesystem instead of an explicit refcount check, since once a file is
// removed from ro_files here no new lookup (Get/cache.Get) can reach it.
func (vl *ValueLog) RemoveObsoleteFiles() error {
	vl.mu.Lock()
	minSeq := vl.minLiveSnapshotSeq()
	var toDelete []uint64
	for num, seq := range vl.version.ObsoleteFiles {
		if seq < minSeq {
			toDelete = append(toDelete, num)
		}
	}
	for _, num := range toDelete {
		delete(vl.version.ROFiles, num)
		delete(vl.version.ObsoleteFiles, num)
	}
	vl.mu.Unlock()

	var firstErr error
	for _, num := range toDelete {
		vl.cache.Evict(num)
		if err := os.Remove(filenames.VLogFile(vl.dir, num)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = status.Wrap(status.IOError, err, "valuelog: remove obsolete file")
		}
	}
	return firstErr
}
