package manifest

import (
	"fmt"
	"io"
	"os"

	"github.com/syndtr/goleveldb/leveldb/journal"

	"gitee.com/dong-shuishui/blobkv/internal/filenames"
	"gitee.com/dong-shuishui/blobkv/internal/status"
)

// Manifest is the durable edit log described in spec.md §4.4 and §6: a
// framed log of Edit records, replayed on open and truncated by writing a
// fresh snapshot edit.
type Manifest struct {
	dir     string
	num     uint64
	file    *os.File
	w       *journal.Writer
}

// Create starts a brand-new manifest file numbered num in dir and writes
// initial as its first (snapshot) record.
func Create(dir string, num uint64, initial Edit) (*Manifest, error) {
	f, err := os.OpenFile(filenames.ManifestFile(dir, num), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, status.Wrap(status.IOError, err, "manifest: create")
	}
	m := &Manifest{dir: dir, num: num, file: f, w: journal.NewWriter(f)}
	if err := m.append(initial); err != nil {
		f.Close()
		return nil, err
	}
	if err := m.sync(); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeCurrent(dir, num); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

// OpenForReplay replays the manifest named by the dir's CURRENT pointer
// (or manifestNum if nonzero) and returns the resulting
// Version plus the open Manifest ready to append further edits.
func OpenForReplay(dir string, manifestNum uint64) (*Version, *Manifest, error) {
	if manifestNum == 0 {
		n, err := readCurrent(dir)
		if err != nil {
			return nil, nil, err
		}
		manifestNum = n
	}
	f, err := os.OpenFile(filenames.ManifestFile(dir, manifestNum), os.O_RDWR, 0644)
	if err != nil {
		return nil, nil, status.Wrap(status.IOError, err, "manifest: open")
	}
	v := NewVersion()
	r := journal.NewReader(f, nil, true, true)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A torn tail on the manifest itself: per spec.md §4.4, a
			// crash between append and fsync leaves an uncommitted tail,
			// which is simply ignored on recovery.
			break
		}
		data, err := io.ReadAll(rec)
		if err != nil {
			break
		}
		edit, err := DecodeEdit(data)
		if err != nil {
			break
		}
		v.Apply(edit)
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, nil, status.Wrap(status.IOError, err, "manifest: seek to end")
	}
	m := &Manifest{dir: dir, num: manifestNum, file: f, w: journal.NewWriter(f)}
	return v, m, nil
}

// LogAndApply applies edit to v in memory, then durably appends it to the
// manifest log and fsyncs, per spec.md §4.4's three-step protocol. Caller
// must hold the value log's write lock across this call.
func (m *Manifest) LogAndApply(v *Version, edit Edit) error {
	v.Apply(edit)
	if err := m.append(edit); err != nil {
		return err
	}
	return m.sync()
}

func (m *Manifest) append(edit Edit) error {
	w, err := m.w.Next()
	if err != nil {
		return status.Wrap(status.IOError, err, "manifest: next record")
	}
	if _, err := w.Write(edit.Encode()); err != nil {
		return status.Wrap(status.IOError, err, "manifest: write record")
	}
	return nil
}

func (m *Manifest) sync() error {
	if err := m.w.Flush(); err != nil {
		return status.Wrap(status.IOError, err, "manifest: flush")
	}
	if err := m.file.Sync(); err != nil {
		return status.Wrap(status.IOError, err, "manifest: fsync")
	}
	return nil
}

// Rotate writes a new manifest file containing a single snapshot edit of
// v, switches CURRENT to point at it, and closes the old file. This is
// how the manifest log is kept from growing without bound (spec.md §4.4).
func (m *Manifest) Rotate(v *Version) (*Manifest, error) {
	newNum := m.num + 1
	nm, err := Create(m.dir, newNum, v.AsSnapshotEdit())
	if err != nil {
		return nil, err
	}
	m.file.Close()
	return nm, nil
}

// Close closes the manifest's underlying file.
func (m *Manifest) Close() error {
	if err := m.file.Close(); err != nil {
		return status.Wrap(status.IOError, err, "manifest: close")
	}
	return nil
}

func writeCurrent(dir string, num uint64) error {
	tmp := filenames.CurrentFile(dir) + ".tmp"
	name := fmt.Sprintf("MANIFEST-%06d", num)
	if err := os.WriteFile(tmp, []byte(name), 0644); err != nil {
		return status.Wrap(status.IOError, err, "manifest: write CURRENT")
	}
	if err := os.Rename(tmp, filenames.CurrentFile(dir)); err != nil {
		return status.Wrap(status.IOError, err, "manifest: rename CURRENT")
	}
	return nil
}

func readCurrent(dir string) (uint64, error) {
	data, err := os.ReadFile(filenames.CurrentFile(dir))
	if err != nil {
		return 0, status.Wrap(status.IOError, err, "manifest: read CURRENT")
	}
	num, ok := filenames.ParseManifestFile(string(data))
	if !ok {
		return 0, status.New(status.Corruption, "manifest: malformed CURRENT")
	}
	return num, nil
}
