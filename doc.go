// Package ext2 builds byte-exact second-extended (ext2) filesystem images
// from ordinary user-owned material: a staging directory tree, a device-table
// specification, or an existing image to extend. It does not require root
// privileges or a kernel loopback mount, and does not implement ext3/ext4
// features such as journaling, extents, or htree directories.
//
// The package is organized the way the on-disk format itself is layered:
// a backing store provides block-addressed I/O over a single file, a
// pinning block cache sits over that with consistent byte-swap for
// cross-endian targets, bitmap-based allocation and a block-tree walker
// sit over the cache, and the directory engine and filesystem operations
// (mknod/mkdir/mklink/mkfile/chmod) sit on top of all of it.
package ext2
