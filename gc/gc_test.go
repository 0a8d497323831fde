package gc

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"gitee.com/dong-shuishui/blobkv/config"
	"gitee.com/dong-shuishui/blobkv/internal/lsm"
	"gitee.com/dong-shuishui/blobkv/internal/manifest"
	"gitee.com/dong-shuishui/blobkv/internal/record"
	"gitee.com/dong-shuishui/blobkv/vlog"
)

// fakeVL is a minimal ValueLogHandle: enough surface for a Runner to
// scan, rewrite and install/delete files, without a full ValueLog.
type fakeVL struct {
	dir     string
	nextNum uint64
	files   map[uint64]*vlog.RWFile

	deleted   []uint64
	installed []manifest.FileMeta
	oldOf     []uint64
	shutdown  bool
}

func newFakeVL(t *testing.T, firstFreeNum uint64) *fakeVL {
	t.Helper()
	return &fakeVL{dir: t.TempDir(), nextNum: firstFreeNum, files: make(map[uint64]*vlog.RWFile)}
}

func (f *fakeVL) path(num uint64) string {
	return filepath.Join(f.dir, fmt.Sprintf("%06d.vlog", num))
}

// seal writes entries to a fresh file numbered num, finishes and closes
// the write handle, then reopens it read-only, mirroring how
// ValueLog.OpenFileForScan hands GC a cache-opened sealed file.
func (f *fakeVL) seal(t *testing.T, num uint64, entries []vlog.BatchEntry) []record.Handle {
	t.Helper()
	rw, err := vlog.OpenActive(f.path(num), num, 0)
	require.NoError(t, err)
	batch := &vlog.ValueBatch{Entries: entries}
	require.NoError(t, rw.AddBatch(batch))
	size := rw.Size()
	require.NoError(t, rw.Finish())
	require.NoError(t, rw.Close())

	ro, err := vlog.OpenReadOnly(f.path(num), num, int64(size))
	require.NoError(t, err)
	f.files[num] = ro

	handles := make([]record.Handle, len(batch.Entries))
	for i, e := range batch.Entries {
		handles[i] = e.Handle
	}
	return handles
}

func (f *fakeVL) PickGC(number uint64) (uint64, bool) { return 0, false }
func (f *fakeVL) FileMeta(number uint64) (manifest.FileMeta, bool) {
	return manifest.FileMeta{}, false
}

func (f *fakeVL) OpenFileForScan(number uint64) (*vlog.RWFile, error) {
	rw, ok := f.files[number]
	if !ok {
		return nil, fmt.Errorf("gc test: unknown file %d", number)
	}
	rw.Ref()
	return rw, nil
}

func (f *fakeVL) AllocateOutputFile() (*vlog.RWFile, error) {
	num := f.nextNum
	f.nextNum++
	return vlog.OpenActive(f.path(num), num, 0)
}

func (f *fakeVL) MarkObsoleteAndInstall(newMeta manifest.FileMeta, oldNumber uint64) error {
	f.installed = append(f.installed, newMeta)
	f.oldOf = append(f.oldOf, oldNumber)
	return nil
}

func (f *fakeVL) DeleteFileEdit(number uint64) error {
	f.deleted = append(f.deleted, number)
	return nil
}

func (f *fakeVL) ShuttingDown() bool { return f.shutdown }

func testEngine(t *testing.T) lsm.Engine {
	t.Helper()
	e, err := lsm.Open(t.TempDir(), true)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func testOpts() config.Options {
	opts := config.DefaultOptions()
	opts.GCSizeDiscardThreshold = 0.5
	opts.GCNumDiscardThreshold = 0.5
	return opts
}

func TestRunAllDeadShortcutDeletesFile(t *testing.T) {
	engine := testEngine(t)
	fvl := newFakeVL(t, 1)

	entries := []vlog.BatchEntry{{Key: []byte("a"), Value: []byte("va")}, {Key: []byte("b"), Value: []byte("vb")}}
	fvl.seal(t, 0, entries)

	// Neither key is present in the LSM at all: every record is dead.
	var mu sync.RWMutex
	cw := lsm.NewConditionalWriter(engine, &mu)
	r := NewRunner(fvl, engine, cw, testOpts())

	require.NoError(t, r.runOne(0))
	require.Equal(t, []uint64{0}, fvl.deleted)
	require.Empty(t, fvl.installed)
}

func TestRunBelowThresholdSkips(t *testing.T) {
	engine := testEngine(t)
	fvl := newFakeVL(t, 1)

	entries := []vlog.BatchEntry{
		{Key: []byte("a"), Value: []byte("va")},
		{Key: []byte("b"), Value: []byte("vb")},
		{Key: []byte("c"), Value: []byte("vc")},
		{Key: []byte("d"), Value: []byte("vd")},
	}
	handles := fvl.seal(t, 0, entries)

	// Keep three of four keys live in the LSM: discard ratio (1/4) sits
	// below both configured thresholds (0.5), so GC must skip the file.
	for i, e := range entries[:3] {
		require.NoError(t, engine.Put(e.Key, record.EncodeValueHandle(handles[i]), nil))
	}

	var mu sync.RWMutex
	cw := lsm.NewConditionalWriter(engine, &mu)
	r := NewRunner(fvl, engine, cw, testOpts())

	err := r.runOne(0)
	require.Error(t, err)
	require.Empty(t, fvl.deleted)
	require.Empty(t, fvl.installed)
}

func TestRunRewritesLiveRecords(t *testing.T) {
	engine := testEngine(t)
	fvl := newFakeVL(t, 1)

	entries := []vlog.BatchEntry{
		{Key: []byte("live1"), Value: []byte("value one")},
		{Key: []byte("dead1"), Value: []byte("stale value")},
		{Key: []byte("dead2"), Value: []byte("another stale value")},
	}
	handles := fvl.seal(t, 0, entries)

	// live1 still points at this file; dead1 and dead2 were since
	// overwritten to point somewhere else entirely, pushing the discard
	// ratio (2/3) above the configured 0.5 threshold.
	require.NoError(t, engine.Put(entries[0].Key, record.EncodeValueHandle(handles[0]), nil))
	require.NoError(t, engine.Put(entries[1].Key, record.EncodeValueHandle(record.Handle{Table: 999}), nil))
	require.NoError(t, engine.Put(entries[2].Key, record.EncodeValueHandle(record.Handle{Table: 999}), nil))

	var mu sync.RWMutex
	cw := lsm.NewConditionalWriter(engine, &mu)
	r := NewRunner(fvl, engine, cw, testOpts())

	require.NoError(t, r.runOne(0))

	require.Equal(t, []uint64{0}, fvl.oldOf)
	require.Len(t, fvl.installed, 1)
	require.EqualValues(t, 1, fvl.installed[0].NumEntries)

	for _, key := range [][]byte{entries[0].Key} {
		cur, err := engine.Get(key, nil)
		require.NoError(t, err)
		kind, _, h, err := record.DecodeLSMValue(cur)
		require.NoError(t, err)
		require.Equal(t, record.KindValueHandle, kind)
		require.Equal(t, fvl.installed[0].Number, h.Table, "rewritten live keys must point at the new output file")
	}

	_, ok := fvl.files[fvl.installed[0].Number]
	require.False(t, ok, "the output file was opened via AllocateOutputFile, not registered as a scan target")
}

func TestRewriteSkipsConcurrentlyOverwrittenKey(t *testing.T) {
	engine := testEngine(t)
	fvl := newFakeVL(t, 1)

	entries := []vlog.BatchEntry{{Key: []byte("k"), Value: []byte("original")}}
	handles := fvl.seal(t, 0, entries)
	require.NoError(t, engine.Put(entries[0].Key, record.EncodeValueHandle(handles[0]), nil))

	var mu sync.RWMutex
	cw := lsm.NewConditionalWriter(engine, &mu)
	r := NewRunner(fvl, engine, cw, testOpts())

	f, err := fvl.OpenFileForScan(0)
	require.NoError(t, err)
	live, _, _, _, _, err := r.collect(f)
	require.NoError(t, err)
	require.Len(t, live, 1)
	f.Unref()

	// A foreground writer overwrites the key with a brand new inline
	// value in between Collect and Rewrite.
	require.NoError(t, engine.Put(entries[0].Key, record.EncodeInline([]byte("newer, user-written value")), nil))

	require.NoError(t, r.rewrite(0, live))

	cur, err := engine.Get(entries[0].Key, nil)
	require.NoError(t, err)
	kind, value, _, err := record.DecodeLSMValue(cur)
	require.NoError(t, err)
	require.Equal(t, record.KindInline, kind)
	require.Equal(t, []byte("newer, user-written value"), value, "GC must never clobber a write that happened after Collect")
}

func TestRunShuttingDownAbortsRewrite(t *testing.T) {
	engine := testEngine(t)
	fvl := newFakeVL(t, 1)
	fvl.shutdown = true

	entries := []vlog.BatchEntry{
		{Key: []byte("a"), Value: []byte("va")},
		{Key: []byte("b"), Value: []byte("vb")},
	}
	handles := fvl.seal(t, 0, entries)
	// a is dead (pointed elsewhere), b is live: a 1/2 discard ratio clears
	// the 0.5 threshold so runOne reaches the rewrite loop, where the
	// shutdown check must abort before any CompareAndSwap fires.
	require.NoError(t, engine.Put(entries[0].Key, record.EncodeValueHandle(record.Handle{Table: 999}), nil))
	require.NoError(t, engine.Put(entries[1].Key, record.EncodeValueHandle(handles[1]), nil))

	var mu sync.RWMutex
	cw := lsm.NewConditionalWriter(engine, &mu)
	r := NewRunner(fvl, engine, cw, testOpts())

	err := r.runOne(0)
	require.Error(t, err)
	require.Empty(t, fvl.installed, "a shutdown mid-rewrite must not install the partially-written output file")
}
