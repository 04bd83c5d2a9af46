//go:build unix

package main

import (
	"io/fs"
	"syscall"
)

// sysStat pulls the POSIX fields ext2.Stat needs for ownership, hardlink
// detection and device-node encoding out of a FileInfo's platform-specific
// Sys(), following the same info.Sys().(*syscall.Stat_t) pattern used
// throughout the pack's own filesystem-staging tools.
func sysStat(info fs.FileInfo) (uid, gid uint16, nlink uint32, dev, ino uint64, rdev uint32) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, 1, 0, 0, 0
	}
	return uint16(st.Uid), uint16(st.Gid), uint32(st.Nlink), uint64(st.Dev), st.Ino, uint32(st.Rdev)
}
