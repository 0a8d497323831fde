package manifest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEditEncodeDecodeRoundTrip(t *testing.T) {
	var e Edit
	e.AddFile(FileMeta{Number: 1, FileSize: 100, NumEntries: 5})
	e.AddFile(FileMeta{Number: 2, FileSize: 200, NumEntries: 7})
	e.DeleteFile(1, 42)
	e.SetNextFileNumber(3)

	got, err := DecodeEdit(e.Encode())
	require.NoError(t, err)
	require.Equal(t, e.AddFiles, got.AddFiles)
	require.Equal(t, e.DeleteFiles, got.DeleteFiles)
	require.Equal(t, e.NextFileNumber, got.NextFileNumber)
	require.True(t, got.HasNextFileNumber)
}

func TestEditDecodeUnknownTag(t *testing.T) {
	_, err := DecodeEdit([]byte{99})
	require.Error(t, err)
}

func TestVersionApplyAndTracked(t *testing.T) {
	v := NewVersion()
	var e Edit
	e.AddFile(FileMeta{Number: 5, FileSize: 10})
	v.Apply(e)

	require.True(t, v.IsLive(5))
	meta, ok := v.Tracked(5)
	require.True(t, ok)
	require.EqualValues(t, 10, meta.FileSize)
	require.EqualValues(t, 6, v.NextFileNumber)
}

func TestVersionObsoleteStillTracked(t *testing.T) {
	v := NewVersion()
	var e Edit
	e.AddFile(FileMeta{Number: 5, FileSize: 10})
	e.DeleteFile(5, 1)
	v.Apply(e)

	require.False(t, v.IsLive(5))
	_, ok := v.Tracked(5)
	require.True(t, ok, "an obsolete-but-undeleted file must remain resolvable by Get")
}

func TestSmallestLiveAtLeast(t *testing.T) {
	v := NewVersion()
	var e Edit
	e.AddFile(FileMeta{Number: 1})
	e.AddFile(FileMeta{Number: 2})
	e.AddFile(FileMeta{Number: 3})
	e.DeleteFile(2, 1)
	v.Apply(e)

	num, ok := v.SmallestLiveAtLeast(1)
	require.True(t, ok)
	require.EqualValues(t, 1, num)

	num, ok = v.SmallestLiveAtLeast(2)
	require.True(t, ok)
	require.EqualValues(t, 3, num, "file 2 is obsolete and must be skipped")

	_, ok = v.SmallestLiveAtLeast(4)
	require.False(t, ok)
}

func TestManifestCreateAndReplay(t *testing.T) {
	dir := t.TempDir()
	v := NewVersion()
	m, err := Create(dir, 1, v.AsSnapshotEdit())
	require.NoError(t, err)

	var e Edit
	e.AddFile(FileMeta{Number: 1, FileSize: 64})
	require.NoError(t, m.LogAndApply(v, e))
	require.NoError(t, m.Close())

	v2, m2, err := OpenForReplay(dir, 0)
	require.NoError(t, err)
	defer m2.Close()

	require.True(t, v2.IsLive(1))
	meta, ok := v2.Tracked(1)
	require.True(t, ok)
	require.EqualValues(t, 64, meta.FileSize)
}

func TestManifestRotateBoundsReplayLength(t *testing.T) {
	dir := t.TempDir()
	v := NewVersion()
	m, err := Create(dir, 1, v.AsSnapshotEdit())
	require.NoError(t, err)

	var e Edit
	e.AddFile(FileMeta{Number: 1, FileSize: 1})
	require.NoError(t, m.LogAndApply(v, e))

	m2, err := m.Rotate(v)
	require.NoError(t, err)
	defer m2.Close()

	v2, m3, err := OpenForReplay(dir, 0)
	require.NoError(t, err)
	defer m3.Close()

	require.True(t, v2.IsLive(1), "rotate must preserve live state in the new snapshot")
}
