//go:build !windows
// +build !windows

package attachment

import (
	"io/fs"
	"os"
	"syscall"
)

// ownedByCurrentUser reports whether info belongs to the running user.
func ownedByCurrentUser(info fs.FileInfo) bool {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return int(st.Uid) == os.Getuid()
}
