package filenames

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVLogFileRoundTrip(t *testing.T) {
	path := VLogFile("/data/db", 42)
	require.Equal(t, "/data/db/000042.vlog", path)

	num, ok := ParseVLogFile("000042.vlog")
	require.True(t, ok)
	require.EqualValues(t, 42, num)
}

func TestManifestFileRoundTrip(t *testing.T) {
	path := ManifestFile("/data/db", 7)
	require.Equal(t, "/data/db/MANIFEST-000007", path)

	num, ok := ParseManifestFile("MANIFEST-000007")
	require.True(t, ok)
	require.EqualValues(t, 7, num)
}

func TestParseRejectsUnrelatedNames(t *testing.T) {
	_, ok := ParseVLogFile("CURRENT")
	require.False(t, ok)
	_, ok = ParseManifestFile("000042.vlog")
	require.False(t, ok)
}

func TestCurrentFile(t *testing.T) {
	require.Equal(t, "/data/db/CURRENT", CurrentFile("/data/db"))
}
