//go:build darwin

package graph

import (
	"os"
	"syscall"
	"time"
)

// fileCreationTime reports a file's creation timestamp from the macOS
// birth time.
func fileCreationTime(info os.FileInfo) (time.Time, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return time.Time{}, false
	}

	return time.Unix(stat.Birthtimespec.Sec, stat.Birthtimespec.Nsec), true
}
