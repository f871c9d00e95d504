//go:build linux

package graph

import (
	"os"
	"time"
)

// fileCreationTime reports a file's creation timestamp. Linux does not
// expose a birth time through os.FileInfo, so the caller falls back to the
// modification time.
func fileCreationTime(_ os.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
