package status

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAndKindOf(t *testing.T) {
	err := New(Corruption, "bad checksum")
	require.Equal(t, Corruption, KindOf(err))
	require.True(t, Is(err, Corruption))
	require.EqualError(t, err, "bad checksum")
}

func TestWrapNilIsNil(t *testing.T) {
	require.Nil(t, Wrap(IOError, nil, "no cause"))
}

func TestWrapCarriesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(IOError, cause, "vlog: write")
	require.Equal(t, IOError, KindOf(err))
	require.ErrorIs(t, err, cause)
}

func TestKindOfUnwrappedErrorDefaultsToIOError(t *testing.T) {
	require.Equal(t, IOError, KindOf(errors.New("raw error")))
}

func TestIsNonFatal(t *testing.T) {
	require.True(t, IsNonFatal(nil))
	require.True(t, IsNonFatal(New(NonFatal, "skip")))
	require.False(t, IsNonFatal(New(IOError, "fatal")))
}

func TestKindString(t *testing.T) {
	require.Equal(t, "NotFound", NotFound.String())
	require.Equal(t, "Unknown", Kind(99).String())
}
