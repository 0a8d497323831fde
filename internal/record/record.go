// Package record implements the vlog record codec: a single
// self-delimited unit of varint key/value lengths followed by the raw
// key and value bytes, packed contiguously with no block alignment.
//
// spec.md §6 describes an abstract on-disk layout with a leading 4-byte
// checksum and a 1-byte type tag ahead of the varint lengths. spec.md §8
// scenario S1 — taken verbatim from original_source's
// db/value_log_test.cc ValueLogRecover test — pins down concrete
// ValueHandle values for three Put calls: (3,0,0,12), (3,0,12,12),
// (3,0,24,12) for keys "k01"/"k02"/"k03" and values "value01"/.../
// "value03". Those handles are only reachable if a record's encoded
// length is exactly varint(len(key))+varint(len(value))+len(key)+
// len(value) — 1+1+3+7=12 for "k01"/"value01" — with zero bytes spent
// on a checksum or type tag; any such header, of any nonzero width,
// pushes every offset past what S1 requires. Per this project's rule
// that the original's concrete behavior wins when it conflicts with the
// distilled abstract description, this codec matches S1's byte layout
// rather than §6's prose: no checksum, no type byte. See DESIGN.md for
// the full writeup and TestValueLogRecoverS1Handles in
// vlog/vlog_test.go for the regression test pinning the literal values.
package record

import (
	"encoding/binary"
	"io"

	"gitee.com/dong-shuishui/blobkv/internal/status"
)

// Handle is spec.md §3's ValueHandle: a 4-tuple uniquely identifying a
// value record inside a specific vlog file. Equality is structural, hence
// a plain comparable struct rather than an interface.
type Handle struct {
	Table    uint64 // vlog file number
	Offset   uint32 // byte position of the record
	Size     uint32 // encoded record length
	Reserved uint32
}

// IsZero reports whether h is the zero handle (used as a "no handle yet"
// sentinel, e.g. before a GC rewrite assigns a new one).
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// EncodedLen is the fixed width of a marshaled Handle as stored inline in
// the LSM (spec.md §3: "a compact value handle").
const EncodedLen = 8 + 4 + 4 + 4

// Encode marshals h for storage as an LSM value.
func (h Handle) Encode() []byte {
	buf := make([]byte, EncodedLen)
	binary.BigEndian.PutUint64(buf[0:8], h.Table)
	binary.BigEndian.PutUint32(buf[8:12], h.Offset)
	binary.BigEndian.PutUint32(buf[12:16], h.Size)
	binary.BigEndian.PutUint32(buf[16:20], h.Reserved)
	return buf
}

// DecodeHandle is the inverse of Handle.Encode.
func DecodeHandle(buf []byte) (Handle, error) {
	if len(buf) != EncodedLen {
		return Handle{}, status.New(status.Corruption, "record: short value handle")
	}
	return Handle{
		Table:    binary.BigEndian.Uint64(buf[0:8]),
		Offset:   binary.BigEndian.Uint32(buf[8:12]),
		Size:     binary.BigEndian.Uint32(buf[12:16]),
		Reserved: binary.BigEndian.Uint32(buf[16:20]),
	}, nil
}

// Record is a decoded vlog record: a raw key/value pair. There is no
// type tag on disk (see the package doc comment) — a future codec
// extension (compression, tombstone markers in the vlog itself) would
// need a new, manifest-versioned record format rather than a widened
// per-record header, since spec.md §8 S1 leaves no spare bytes to grow
// into.
type Record struct {
	Key   []byte
	Value []byte
}

// Encode appends the on-disk encoding of r to dst and returns the result
// along with the number of bytes appended (the record's encoded size, as
// stored in a Handle.Size).
func Encode(dst []byte, r Record) ([]byte, uint32) {
	start := len(dst)
	var lenbuf [binary.MaxVarintLen32]byte
	n := binary.PutUvarint(lenbuf[:], uint64(len(r.Key)))
	dst = append(dst, lenbuf[:n]...)
	n = binary.PutUvarint(lenbuf[:], uint64(len(r.Value)))
	dst = append(dst, lenbuf[:n]...)

	dst = append(dst, r.Key...)
	dst = append(dst, r.Value...)

	return dst, uint32(len(dst) - start)
}

// Decode parses one record starting at the front of buf. It returns the
// record, the number of bytes consumed, and an error.
//
// A record whose claimed key/value lengths don't fit in the remaining
// bytes of buf, or whose length prefix isn't a valid varint, is treated
// as the tail of the file: spec.md §4.1 calls this "the tail of the
// file" during normal reads, and callers doing recovery instead
// interpret that same error as the truncation signal. There is no
// checksum to additionally guard against bit-level corruption — see the
// package doc comment for why the format carries none.
func Decode(buf []byte) (Record, int, error) {
	keyLen, n1 := binary.Uvarint(buf)
	if n1 <= 0 {
		return Record{}, 0, status.New(status.Corruption, "record: bad key length")
	}
	rest := buf[n1:]
	valLen, n2 := binary.Uvarint(rest)
	if n2 <= 0 {
		return Record{}, 0, status.New(status.Corruption, "record: bad value length")
	}

	headerLen := n1 + n2
	total := headerLen + int(keyLen) + int(valLen)
	if len(buf) < total {
		return Record{}, 0, status.New(status.Corruption, "record: short body")
	}

	key := buf[headerLen : headerLen+int(keyLen)]
	value := buf[headerLen+int(keyLen) : total]

	return Record{Key: key, Value: value}, total, nil
}

// DecodeFrom reads and decodes exactly one record from r, which must be
// positioned at a record boundary. It reads exactly size bytes at offset
// in one ReadAt, so only that one record is materialized.
func DecodeFrom(r io.ReaderAt, offset int64, size uint32) (Record, error) {
	buf := make([]byte, size)
	if _, err := r.ReadAt(buf, offset); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Record{}, status.Wrap(status.Corruption, err, "record: short read at offset")
		}
		return Record{}, status.Wrap(status.IOError, err, "record: read at offset")
	}
	rec, n, err := Decode(buf)
	if err != nil {
		return Record{}, err
	}
	if n != len(buf) {
		return Record{}, status.New(status.Corruption, "record: trailing bytes in sized read")
	}
	return rec, nil
}
