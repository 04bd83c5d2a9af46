//go:build !linux

package ext2

import "os"

// platformTruncate extends or shrinks f to size bytes using the portable
// os.File.Truncate; most non-Linux filesystems still leave the extended
// region sparse.
func platformTruncate(f *os.File, size int64) error {
	return f.Truncate(size)
}
