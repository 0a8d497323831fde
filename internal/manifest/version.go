package manifest

// Version is spec.md §3's BlobVersion: the current set of live vlog
// files and their obsolescence state, folded from replaying an Edit
// sequence.
type Version struct {
	ROFiles        map[uint64]FileMeta
	ObsoleteFiles  map[uint64]uint64 // number -> obsolete sequence
	NextFileNumber uint64
}

// NewVersion returns an empty Version with NextFileNumber starting at 1
// (file 0 is never issued, matching the reference implementation leaving
// 0 as a sentinel "no file").
func NewVersion() *Version {
	return &Version{
		ROFiles:        make(map[uint64]FileMeta),
		ObsoleteFiles:  make(map[uint64]uint64),
		NextFileNumber: 1,
	}
}

// Clone returns a deep copy, used when a reader needs a stable snapshot
// while the writer continues applying edits.
func (v *Version) Clone() *Version {
	out := &Version{
		ROFiles:        make(map[uint64]FileMeta, len(v.ROFiles)),
		ObsoleteFiles:  make(map[uint64]uint64, len(v.ObsoleteFiles)),
		NextFileNumber: v.NextFileNumber,
	}
	for k, m := range v.ROFiles {
		out.ROFiles[k] = m
	}
	for k, s := range v.ObsoleteFiles {
		out.ObsoleteFiles[k] = s
	}
	return out
}

// Apply folds one Edit into the version in place. This is always called
// while the manifest's write lock is held (spec.md §4.4).
func (v *Version) Apply(e Edit) {
	for _, f := range e.AddFiles {
		v.ROFiles[f.Number] = f
		if f.Number >= v.NextFileNumber {
			v.NextFileNumber = f.Number + 1
		}
	}
	for _, d := range e.DeleteFiles {
		v.ObsoleteFiles[d.Number] = d.ObsoleteSeq
	}
	if e.HasNextFileNumber && e.NextFileNumber > v.NextFileNumber {
		v.NextFileNumber = e.NextFileNumber
	}
}

// Tracked reports whether number is still present in ROFiles at all,
// regardless of obsolete status — true for any file not yet physically
// deleted, which is the right check for a point Get (spec.md §4.5: a
// handle into an obsolete-but-undeleted file must still resolve for a
// reader whose snapshot predates the obsolete sequence).
func (v *Version) Tracked(number uint64) (FileMeta, bool) {
	m, ok := v.ROFiles[number]
	return m, ok
}

// IsLive reports whether number is a tracked, non-obsolete file.
func (v *Version) IsLive(number uint64) bool {
	if _, ok := v.ObsoleteFiles[number]; ok {
		return false
	}
	_, ok := v.ROFiles[number]
	return ok
}

// SmallestLiveAtLeast finds the smallest file number >= lowerBound that is
// present in ROFiles and not obsolete (spec.md §4.7 PickGC). ok is false
// if there is no such file.
func (v *Version) SmallestLiveAtLeast(lowerBound uint64) (number uint64, ok bool) {
	found := false
	var best uint64
	for num := range v.ROFiles {
		if num < lowerBound {
			continue
		}
		if _, obsolete := v.ObsoleteFiles[num]; obsolete {
			continue
		}
		if !found || num < best {
			best = num
			found = true
		}
	}
	return best, found
}

// AsSnapshotEdit expresses the full version as a single Edit, used to
// bound manifest replay length (spec.md §4.4: "a snapshot edit that
// expresses the full version is written on open/recovery").
func (v *Version) AsSnapshotEdit() Edit {
	var e Edit
	for _, f := range v.ROFiles {
		e.AddFile(f)
	}
	for num, seq := range v.ObsoleteFiles {
		e.DeleteFile(num, seq)
	}
	e.SetNextFileNumber(v.NextFileNumber)
	return e
}
