//go:build !linux && !darwin && !windows

package graph

import (
	"os"
	"time"
)

// fileCreationTime reports a file's creation timestamp where the platform
// exposes one. This platform does not; the caller falls back to the
// modification time.
func fileCreationTime(_ os.FileInfo) (time.Time, bool) {
	return time.Time{}, false
}
