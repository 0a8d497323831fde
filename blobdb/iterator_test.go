package blobdb

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"gitee.com/dong-shuishui/blobkv/config"
)

func seedKeys(t *testing.T, db *DB, n int) []string {
	t.Helper()
	var keys []string
	large := make([]byte, 40)
	for i := range large {
		large[i] = byte('a' + i%26)
	}
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%03d", i)
		keys = append(keys, k)
		var v []byte
		if i%2 == 0 {
			v = []byte(fmt.Sprintf("inline-%d", i))
		} else {
			v = append(append([]byte(nil), large...), byte(i))
		}
		require.NoError(t, db.Put([]byte(k), v, config.WriteOptions{}))
	}
	sort.Strings(keys)
	return keys
}

func collectForward(t *testing.T, it *Iterator) ([]string, [][]byte) {
	t.Helper()
	var keys []string
	var values [][]byte
	for ok := it.SeekToFirst(); ok; ok = it.Next() {
		keys = append(keys, string(it.Key()))
		v, err := it.Value()
		require.NoError(t, err)
		values = append(values, append([]byte(nil), v...))
	}
	require.NoError(t, it.Err())
	return keys, values
}

func collectBackward(t *testing.T, it *Iterator) ([]string, [][]byte) {
	t.Helper()
	var keys []string
	var values [][]byte
	for ok := it.SeekToLast(); ok; ok = it.Prev() {
		keys = append(keys, string(it.Key()))
		v, err := it.Value()
		require.NoError(t, err)
		values = append(values, append([]byte(nil), v...))
	}
	require.NoError(t, it.Err())
	return keys, values
}

func TestIteratorForwardOrderMatchesKeys(t *testing.T) {
	db := openTestDB(t)
	wantKeys := seedKeys(t, db, 20)

	it := db.NewIterator(config.ReadOptions{})
	defer it.Close()
	gotKeys, _ := collectForward(t, it)
	require.Equal(t, wantKeys, gotKeys)
}

func TestIteratorBackwardOrderReversesKeys(t *testing.T) {
	db := openTestDB(t)
	wantKeys := seedKeys(t, db, 20)

	reversed := make([]string, len(wantKeys))
	for i, k := range wantKeys {
		reversed[len(wantKeys)-1-i] = k
	}

	it := db.NewIterator(config.ReadOptions{})
	defer it.Close()
	gotKeys, _ := collectBackward(t, it)
	require.Equal(t, reversed, gotKeys)
}

func TestIteratorPrefetchMatchesNonPrefetch(t *testing.T) {
	db := openTestDB(t)
	seedKeys(t, db, 30)

	plain := db.NewIterator(config.ReadOptions{})
	defer plain.Close()
	plainKeys, plainValues := collectForward(t, plain)

	prefetching := db.NewIterator(config.ReadOptions{Prefetch: true})
	defer prefetching.Close()
	pfKeys, pfValues := collectForward(t, prefetching)

	require.Equal(t, plainKeys, pfKeys)
	require.Equal(t, plainValues, pfValues)
}

func TestIteratorPrefetchMatchesNonPrefetchBackward(t *testing.T) {
	db := openTestDB(t)
	seedKeys(t, db, 30)

	plain := db.NewIterator(config.ReadOptions{})
	defer plain.Close()
	plainKeys, plainValues := collectBackward(t, plain)

	prefetching := db.NewIterator(config.ReadOptions{Prefetch: true})
	defer prefetching.Close()
	pfKeys, pfValues := collectBackward(t, prefetching)

	require.Equal(t, plainKeys, pfKeys)
	require.Equal(t, plainValues, pfValues)
}

func TestIteratorSeekPositionsAtOrAfterTarget(t *testing.T) {
	db := openTestDB(t)
	seedKeys(t, db, 10)

	it := db.NewIterator(config.ReadOptions{})
	defer it.Close()
	require.True(t, it.Seek([]byte("key-005")))
	require.Equal(t, "key-005", string(it.Key()))
}

func TestIteratorDirectionReversalStaysCorrect(t *testing.T) {
	db := openTestDB(t)
	wantKeys := seedKeys(t, db, 10)

	it := db.NewIterator(config.ReadOptions{Prefetch: true})
	defer it.Close()

	require.True(t, it.SeekToFirst())
	require.True(t, it.Next())
	require.True(t, it.Next())
	// Reverse direction mid-walk: must still observe the key immediately
	// before the current position, not a stale prefetch artifact.
	require.True(t, it.Prev())
	require.Equal(t, wantKeys[1], string(it.Key()))
}
