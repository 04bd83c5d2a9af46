//go:build linux

package ext2

import (
	"os"

	"golang.org/x/sys/unix"
)

// platformTruncate extends or shrinks f to size bytes. ftruncate on Linux
// leaves any newly extended region as a hole in a sparse file, so sizing
// an image up front costs no disk space until real data is written into
// it.
func platformTruncate(f *os.File, size int64) error {
	return unix.Ftruncate(int(f.Fd()), size)
}
