//go:build windows

package graph

import (
	"os"
	"syscall"
	"time"
)

// fileCreationTime reports a file's creation timestamp from the Windows
// file attributes.
func fileCreationTime(info os.FileInfo) (time.Time, bool) {
	attrs, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return time.Time{}, false
	}

	return time.Unix(0, attrs.CreationTime.Nanoseconds()), true
}
