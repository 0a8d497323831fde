// Package manifest implements spec.md §4.4/§6: BlobVersionEdit, the
// BlobVersion it folds into, and the durable edit log. The edit log reuses
// goleveldb's own record-framing package (leveldb/journal) — spec.md §4.4
// says the manifest uses "the same log-record framing as the LSM's WAL",
// and for an LSM backed by goleveldb, that framing literally is
// leveldb/journal.
package manifest

import (
	"encoding/binary"
	"io"

	"gitee.com/dong-shuishui/blobkv/internal/status"
)

// edit tag bytes, per spec.md §6.
const (
	tagAddFile        = 1
	tagDeleteFile     = 2
	tagNextFileNumber = 3
)

// FileMeta is spec.md §3's VLogFileMeta.
type FileMeta struct {
	Number     uint64
	FileSize   uint64
	NumEntries uint64
}

// DeletedFile records a file's transition to obsolete, with the LSM
// sequence number at the moment it happened (spec.md §3 "obsolete
// sequence").
type DeletedFile struct {
	Number          uint64
	ObsoleteSeq     uint64
}

// Edit is spec.md §4 BlobVersionEdit: a log-structured record bearing any
// combination of AddFile, DeleteFile and SetNextFileNumber entries.
type Edit struct {
	AddFiles       []FileMeta
	DeleteFiles    []DeletedFile
	NextFileNumber uint64
	HasNextFileNumber bool
}

// AddFile appends an AddFile entry to the edit.
func (e *Edit) AddFile(m FileMeta) { e.AddFiles = append(e.AddFiles, m) }

// DeleteFile appends a DeleteFile entry.
func (e *Edit) DeleteFile(number, obsoleteSeq uint64) {
	e.DeleteFiles = append(e.DeleteFiles, DeletedFile{Number: number, ObsoleteSeq: obsoleteSeq})
}

// SetNextFileNumber records a NextFileNumber entry.
func (e *Edit) SetNextFileNumber(n uint64) {
	e.NextFileNumber = n
	e.HasNextFileNumber = true
}

// Encode marshals e as a flat sequence of tagged fields.
func (e *Edit) Encode() []byte {
	var buf []byte
	var scratch [binary.MaxVarintLen64]byte
	putUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		buf = append(buf, scratch[:n]...)
	}

	for _, f := range e.AddFiles {
		buf = append(buf, tagAddFile)
		putUvarint(f.Number)
		putUvarint(f.FileSize)
		putUvarint(f.NumEntries)
	}
	for _, d := range e.DeleteFiles {
		buf = append(buf, tagDeleteFile)
		putUvarint(d.Number)
		putUvarint(d.ObsoleteSeq)
	}
	if e.HasNextFileNumber {
		buf = append(buf, tagNextFileNumber)
		putUvarint(e.NextFileNumber)
	}
	return buf
}

// DecodeEdit parses one Edit from buf (as produced by Encode).
func DecodeEdit(buf []byte) (Edit, error) {
	var e Edit
	r := &byteReader{buf: buf}
	for !r.done() {
		tag, err := r.readByte()
		if err != nil {
			return Edit{}, err
		}
		switch tag {
		case tagAddFile:
			num, err1 := r.readUvarint()
			size, err2 := r.readUvarint()
			n, err3 := r.readUvarint()
			if err := firstErr(err1, err2, err3); err != nil {
				return Edit{}, err
			}
			e.AddFiles = append(e.AddFiles, FileMeta{Number: num, FileSize: size, NumEntries: n})
		case tagDeleteFile:
			num, err1 := r.readUvarint()
			seq, err2 := r.readUvarint()
			if err := firstErr(err1, err2); err != nil {
				return Edit{}, err
			}
			e.DeleteFiles = append(e.DeleteFiles, DeletedFile{Number: num, ObsoleteSeq: seq})
		case tagNextFileNumber:
			n, err := r.readUvarint()
			if err != nil {
				return Edit{}, err
			}
			e.NextFileNumber = n
			e.HasNextFileNumber = true
		default:
			return Edit{}, status.New(status.Corruption, "manifest: unknown edit tag")
		}
	}
	return e, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) done() bool { return r.pos >= len(r.buf) }

func (r *byteReader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readUvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, status.New(status.Corruption, "manifest: bad varint")
	}
	r.pos += n
	return v, nil
}
