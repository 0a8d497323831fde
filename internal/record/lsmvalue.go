package record

import "gitee.com/dong-shuishui/blobkv/internal/status"

// Kind tags what an LSM value actually holds: the real bytes, inline, or a
// compact handle into a vlog file (spec.md §3: "the LSM stores either the
// value or a value handle"). This is a one-byte prefix on every value
// BlobDB writes to the LSM; the vlog record itself carries no equivalent
// tag (see the record package's doc comment).
type Kind byte

const (
	KindInline      Kind = 0
	KindValueHandle Kind = 1
)

// EncodeInline marshals a small value for direct LSM storage.
func EncodeInline(value []byte) []byte {
	buf := make([]byte, 1+len(value))
	buf[0] = byte(KindInline)
	copy(buf[1:], value)
	return buf
}

// EncodeValueHandle marshals a vlog handle for LSM storage in place of a
// large value (spec.md §4.8 Write: "append each key ... as (k,
// encoded_handle, type=ValueHandle)").
func EncodeValueHandle(h Handle) []byte {
	enc := h.Encode()
	buf := make([]byte, 1+len(enc))
	buf[0] = byte(KindValueHandle)
	copy(buf[1:], enc)
	return buf
}

// DecodeLSMValue splits a value read back from the LSM into its kind and
// payload. For KindInline, value holds the user's bytes directly; for
// KindValueHandle, handle is populated and value is nil.
func DecodeLSMValue(buf []byte) (kind Kind, value []byte, handle Handle, err error) {
	if len(buf) < 1 {
		return 0, nil, Handle{}, status.New(status.Corruption, "record: empty lsm value")
	}
	kind = Kind(buf[0])
	switch kind {
	case KindInline:
		return KindInline, buf[1:], Handle{}, nil
	case KindValueHandle:
		h, err := DecodeHandle(buf[1:])
		if err != nil {
			return 0, nil, Handle{}, err
		}
		return KindValueHandle, nil, h, nil
	default:
		return 0, nil, Handle{}, status.New(status.Corruption, "record: unknown lsm value kind")
	}
}
