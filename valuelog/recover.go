package valuelog

import (
	"os"

	"gitee.com/dong-shuishui/blobkv/internal/filenames"
	"gitee.com/dong-shuishui/blobkv/internal/manifest"
	"gitee.com/dong-shuishui/blobkv/internal/status"
	"gitee.com/dong-shuishui/blobkv/vlog"
)

// recoverUntrackedFiles implements spec.md §4.6 step 2: list the
// directory and find .vlog files the manifest doesn't know about —
// either the file that was active when the process last stopped (which
// is never sealed into the manifest until it hits the size cap), or a
// file left behind by a crash during GC between the value-rewrite sync
// and the LSM rewrite (spec.md §4.7 sync point A). Each is validated from
// offset 0; any valid prefix is accepted and attached via a new edit, the
// rest truncated. A file with no valid prefix at all is unlinked.
func (vl *ValueLog) recoverUntrackedFiles() error {
	entries, err := os.ReadDir(vl.dir)
	if err != nil {
		return status.Wrap(status.IOError, err, "valuelog: readdir")
	}

	vl.mu.Lock()
	defer vl.mu.Unlock()

	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		num, ok := filenames.ParseVLogFile(ent.Name())
		if !ok {
			continue
		}
		if _, tracked := vl.version.ROFiles[num]; tracked {
			continue
		}

		path := filenames.VLogFile(vl.dir, num)
		fi, err := os.Stat(path)
		if err != nil {
			return status.Wrap(status.IOError, err, "valuelog: stat untracked file")
		}

		f, err := os.OpenFile(path, os.O_RDWR, 0644)
		if err != nil {
			return status.Wrap(status.IOError, err, "valuelog: open untracked file")
		}
		validLen, verr := vlog.ValidateAndTruncate(f, fi.Size())
		closeErr := f.Close()
		if verr != nil {
			return verr
		}
		if closeErr != nil {
			return status.Wrap(status.IOError, closeErr, "valuelog: close untracked file")
		}

		if validLen == 0 {
			if err := os.Remove(path); err != nil {
				return status.Wrap(status.IOError, err, "valuelog: remove invalid untracked file")
			}
			continue
		}

		var edit manifest.Edit
		edit.AddFile(manifest.FileMeta{Number: num, FileSize: uint64(validLen)})
		if err := vl.man.LogAndApply(vl.version, edit); err != nil {
			return err
		}
	}
	return nil
}

// openActiveFile implements spec.md §4.6 step 3: find the most recent
// live file number and reopen it as the active writer if it is still
// below the size cap, otherwise seal it (a no-op if it's already sealed
// in the manifest — it just won't become active) and start a fresh file.
func (vl *ValueLog) openActiveFile() error {
	vl.mu.Lock()
	defer vl.mu.Unlock()

	var candidate uint64
	var candidateMeta manifest.FileMeta
	found := false
	for num, meta := range vl.version.ROFiles {
		if _, obsolete := vl.version.ObsoleteFiles[num]; obsolete {
			continue
		}
		if !found || num > candidate {
			candidate, candidateMeta, found = num, meta, true
		}
	}

	if found && candidateMeta.FileSize < uint64(vl.opts.MaxFileSize) {
		f, err := vlog.OpenActive(filenames.VLogFile(vl.dir, candidate), candidate, candidateMeta.FileSize)
		if err != nil {
			return err
		}
		vl.active = f
		return nil
	}
	return vl.rolloverLocked()
}

// allocateFileNumberLocked reserves the next file number, durably
// advancing NextFileNumber before the file is even created so a crash
// immediately after can never reuse the number (spec.md §3 invariant:
// "next_file_number strictly increases ... numbers are never reused").
// vl.mu must be held for writing.
func (vl *ValueLog) allocateFileNumberLocked() (uint64, error) {
	num := vl.version.NextFileNumber
	var edit manifest.Edit
	edit.SetNextFileNumber(num + 1)
	if err := vl.man.LogAndApply(vl.version, edit); err != nil {
		return 0, err
	}
	vl.pendingOutputs[num] = true
	return num, nil
}

// rolloverLocked allocates a new active file. vl.mu must be held for
// writing.
func (vl *ValueLog) rolloverLocked() error {
	num, err := vl.allocateFileNumberLocked()
	if err != nil {
		return err
	}
	f, err := vlog.OpenActive(filenames.VLogFile(vl.dir, num), num, 0)
	if err != nil {
		return err
	}
	vl.active = f
	return nil
}

// sealActiveLocked finalizes the active file and installs its metadata in
// ro_files via an AddFile edit (spec.md §4.5). vl.mu must be held for
// writing.
func (vl *ValueLog) sealActiveLocked() error {
	f := vl.active
	if err := f.Finish(); err != nil {
		return err
	}
	meta := manifest.FileMeta{Number: f.FileNum, FileSize: f.Size(), NumEntries: f.NumEntries()}
	var edit manifest.Edit
	edit.AddFile(meta)
	if err := vl.man.LogAndApply(vl.version, edit); err != nil {
		return err
	}
	delete(vl.pendingOutputs, f.FileNum)
	vl.active = nil
	// Close the old writer fd now rather than leaving it to the file
	// cache: this RWFile was never a cache entry, so nothing else will
	// ever check CanDestroy on it again. A scan that grabbed a ref on
	// the active file moments before rollover is the one case this
	// misses; it is rare enough, and the cost bounded enough (one fd
	// until that scan finishes), not to warrant tracking it further.
	if f.CanDestroy() {
		f.Close()
	}
	return nil
}
