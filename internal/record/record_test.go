package record

import (
	"testing"

	"github.com/stretchr/testify/require"

	"gitee.com/dong-shuishui/blobkv/internal/status"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := Record{Key: []byte("hello"), Value: []byte("world, this is a value")}
	buf, size := Encode(nil, r)
	require.Equal(t, int(size), len(buf))

	got, n, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, r.Key, got.Key)
	require.Equal(t, r.Value, got.Value)
}

func TestEncodeEmptyValue(t *testing.T) {
	r := Record{Key: []byte("k"), Value: nil}
	buf, _ := Encode(nil, r)
	got, _, err := Decode(buf)
	require.NoError(t, err)
	require.Empty(t, got.Value)
}

func TestDecodeShortHeader(t *testing.T) {
	_, _, err := Decode(nil)
	require.Error(t, err)
	require.Equal(t, status.Corruption, status.KindOf(err))
}

// TestRecordS1HandleLayout pins the exact byte layout spec.md §8 scenario
// S1 requires (taken verbatim from original_source's
// db/value_log_test.cc ValueLogRecover test): a record holding "k01" and
// "value01" must encode to exactly 12 bytes, with no checksum or type
// byte ahead of the varint lengths.
func TestRecordS1HandleLayout(t *testing.T) {
	_, size := Encode(nil, Record{Key: []byte("k01"), Value: []byte("value01")})
	require.EqualValues(t, 12, size)
}

func TestDecodeShortBody(t *testing.T) {
	buf, _ := Encode(nil, Record{Key: []byte("k"), Value: []byte("value")})
	_, _, err := Decode(buf[:len(buf)-2])
	require.Error(t, err)
}

func TestHandleEncodeDecode(t *testing.T) {
	h := Handle{Table: 7, Offset: 128, Size: 64, Reserved: 0}
	enc := h.Encode()
	require.Len(t, enc, EncodedLen)

	got, err := DecodeHandle(enc)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestDecodeHandleShort(t *testing.T) {
	_, err := DecodeHandle([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestHandleIsZero(t *testing.T) {
	var h Handle
	require.True(t, h.IsZero())
	h.Table = 1
	require.False(t, h.IsZero())
}

func TestLSMValueInlineRoundTrip(t *testing.T) {
	buf := EncodeInline([]byte("small value"))
	kind, value, _, err := DecodeLSMValue(buf)
	require.NoError(t, err)
	require.Equal(t, KindInline, kind)
	require.Equal(t, []byte("small value"), value)
}

func TestLSMValueHandleRoundTrip(t *testing.T) {
	h := Handle{Table: 3, Offset: 10, Size: 20}
	buf := EncodeValueHandle(h)
	kind, value, got, err := DecodeLSMValue(buf)
	require.NoError(t, err)
	require.Equal(t, KindValueHandle, kind)
	require.Nil(t, value)
	require.Equal(t, h, got)
}

func TestLSMValueUnknownKind(t *testing.T) {
	_, _, _, err := DecodeLSMValue([]byte{99, 1, 2, 3})
	require.Error(t, err)
}
