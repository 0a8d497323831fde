// Package filenames centralizes on-disk naming for blobkv's own files,
// mirroring the "NNNNNN.ldb / MANIFEST-NNNNNN / CURRENT" convention
// goleveldb itself uses for the LSM's files (see its storage package) —
// spec.md §6 names the vlog file "NNNNNN.vlog" and the manifest
// "MANIFEST-NNNNNN" directly, so the scheme is inherited rather than
// invented.
package filenames

import (
	"fmt"
	"strconv"
	"strings"
)

// VLogFile returns the path of vlog file number num within dir.
func VLogFile(dir string, num uint64) string {
	return fmt.Sprintf("%s/%06d.vlog", dir, num)
}

// ManifestFile returns the path of the manifest log with the given
// number within dir.
func ManifestFile(dir string, num uint64) string {
	return fmt.Sprintf("%s/MANIFEST-%06d", dir, num)
}

// CurrentFile returns the path of the CURRENT pointer file, which names
// the active manifest (same indirection goleveldb uses for its own
// MANIFEST).
func CurrentFile(dir string) string {
	return dir + "/CURRENT"
}

// ParseVLogFile extracts the file number from a vlog file's base name.
func ParseVLogFile(name string) (num uint64, ok bool) {
	if !strings.HasSuffix(name, ".vlog") {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(name, ".vlog"), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseManifestFile extracts the file number from a manifest base name.
func ParseManifestFile(name string) (num uint64, ok bool) {
	const prefix = "MANIFEST-"
	if !strings.HasPrefix(name, prefix) {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(name, prefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
