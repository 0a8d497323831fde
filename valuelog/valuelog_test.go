package valuelog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"gitee.com/dong-shuishui/blobkv/config"
	"gitee.com/dong-shuishui/blobkv/internal/lsm"
	"gitee.com/dong-shuishui/blobkv/internal/record"
	"gitee.com/dong-shuishui/blobkv/vlog"
)

func testOpts(t *testing.T) config.Options {
	t.Helper()
	opts := config.DefaultOptions()
	opts.GCInterval = 0 // no periodic scheduler firing mid-test
	opts.MaxFileSize = 1 << 20
	return opts
}

func openTestValueLog(t *testing.T) (*ValueLog, lsm.Engine) {
	t.Helper()
	dir := t.TempDir()
	engine, err := lsm.Open(filepath.Join(dir, "lsm"), true)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	vl, err := Open(filepath.Join(dir, "vlog"), testOpts(t), engine)
	require.NoError(t, err)
	t.Cleanup(func() { vl.Close() })
	return vl, engine
}

func TestWriteAndGetRoundTrip(t *testing.T) {
	vl, _ := openTestValueLog(t)

	batch := &vlog.ValueBatch{Entries: []vlog.BatchEntry{
		{Key: []byte("k1"), Value: []byte("value one")},
		{Key: []byte("k2"), Value: []byte("value two, a bit longer")},
	}}
	require.NoError(t, vl.Write(batch))
	require.NoError(t, vl.SyncActive())

	for _, e := range batch.Entries {
		rec, err := vl.Get(e.Handle)
		require.NoError(t, err)
		require.Equal(t, e.Value, rec.Value)
	}
}

func TestGetUnknownFileNotFound(t *testing.T) {
	vl, _ := openTestValueLog(t)
	_, err := vl.Get(record.Handle{Table: 999, Offset: 0, Size: 10})
	require.Error(t, err)
}

func TestRolloverOnMaxFileSize(t *testing.T) {
	dir := t.TempDir()
	engine, err := lsm.Open(filepath.Join(dir, "lsm"), true)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	opts := testOpts(t)
	opts.MaxFileSize = 64 // tiny, forces rollover quickly

	vl, err := Open(filepath.Join(dir, "vlog"), opts, engine)
	require.NoError(t, err)
	t.Cleanup(func() { vl.Close() })

	firstFile := vl.active.FileNum
	for i := 0; i < 10; i++ {
		batch := &vlog.ValueBatch{Entries: []vlog.BatchEntry{
			{Key: []byte("key"), Value: []byte("a reasonably sized value to force rollover")},
		}}
		require.NoError(t, vl.Write(batch))
	}
	require.NotEqual(t, firstFile, vl.active.FileNum, "writes past MaxFileSize must roll to a new active file")

	_, tracked := vl.version.Tracked(firstFile)
	require.True(t, tracked, "the sealed first file must be installed in ro_files")
}

func TestSnapshotSequenceOrdering(t *testing.T) {
	vl, _ := openTestValueLog(t)

	vl.NextSeq()
	s := vl.AcquireSnapshot()
	vl.NextSeq()
	vl.NextSeq()

	require.Equal(t, uint64(1), s.seq)
	require.Equal(t, uint64(1), vl.minLiveSnapshotSeq())

	vl.ReleaseSnapshot(s)
	require.Equal(t, vl.CurrentSeq()+1, vl.minLiveSnapshotSeq())
}

func TestRecoverReopensActiveFileAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	lsmDir := filepath.Join(dir, "lsm")
	vlogDir := filepath.Join(dir, "vlog")

	engine, err := lsm.Open(lsmDir, true)
	require.NoError(t, err)

	opts := testOpts(t)
	vl, err := Open(vlogDir, opts, engine)
	require.NoError(t, err)

	batch := &vlog.ValueBatch{Entries: []vlog.BatchEntry{{Key: []byte("k"), Value: []byte("v")}}}
	require.NoError(t, vl.Write(batch))
	h := batch.Entries[0].Handle
	require.NoError(t, vl.Close())
	require.NoError(t, engine.Close())

	engine2, err := lsm.Open(lsmDir, false)
	require.NoError(t, err)
	t.Cleanup(func() { engine2.Close() })
	vl2, err := Open(vlogDir, opts, engine2)
	require.NoError(t, err)
	t.Cleanup(func() { vl2.Close() })

	rec, err := vl2.Get(h)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), rec.Value)
}
