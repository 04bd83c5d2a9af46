package ext2

import "errors"

// Package-specific error variables, usable with errors.Is(). Every error
// surfaced by this package is fatal to the image currently being built: per
// the error model, there is no partial success, so callers are expected to
// abort the whole process on any of these.
var (
	// ErrInvalidMagic is returned when a loaded image's superblock magic
	// does not match 0xEF53.
	ErrInvalidMagic = errors.New("ext2: invalid superblock magic")

	// ErrUnsupportedRevision is returned for images with s_rev_level > 1.
	ErrUnsupportedRevision = errors.New("ext2: unsupported revision level")

	// ErrUnsupportedFeature is returned when a loaded image sets a
	// feature bit other than the read-only-compat LARGE_FILE bit.
	ErrUnsupportedFeature = errors.New("ext2: unsupported feature bit set")

	// ErrBadInodeSize is returned when a rev 1 image's inode size isn't 128.
	ErrBadInodeSize = errors.New("ext2: unexpected inode size")

	// ErrImageTooSmall is returned when an image is smaller than 16 blocks.
	ErrImageTooSmall = errors.New("ext2: image too small")

	// ErrNoFreeBlock is returned when block allocation exhausts every group.
	ErrNoFreeBlock = errors.New("ext2: no free block")

	// ErrNoFreeInode is returned when inode allocation exhausts every group.
	ErrNoFreeInode = errors.New("ext2: no free inode")

	// ErrBlockOutOfRange is returned for an out-of-range block number.
	ErrBlockOutOfRange = errors.New("ext2: block number out of range")

	// ErrUnallocatedBlock is returned when the walker finds a block
	// number referenced by an inode whose bit is clear in its group's
	// block bitmap: corruption in a loaded image.
	ErrUnallocatedBlock = errors.New("ext2: referenced block not marked allocated")

	// ErrCachePinned is returned by put() when the use-count is already zero.
	ErrCachePinned = errors.New("ext2: release of unpinned cache entry")

	// ErrCacheNotDrained is returned by Finalize when a cache still has
	// entries in use after flush.
	ErrCacheNotDrained = errors.New("ext2: cache entry mismatch on finalize")

	// ErrNotADirectory is returned when add2dir/find targets a non-directory inode.
	ErrNotADirectory = errors.New("ext2: not a directory")

	// ErrBadName is returned for an empty name, a name containing '/', or
	// a name whose directory record would not fit in one block.
	ErrBadName = errors.New("ext2: bad directory entry name")

	// ErrWalkOverflow is returned when a walk would need to exceed the
	// triple-indirect block tree's capacity.
	ErrWalkOverflow = errors.New("ext2: file exceeds maximum block tree size")

	// ErrTooManyBlocks is returned when the requested block and inode
	// counts leave some group without room for its own metadata.
	ErrTooManyBlocks = errors.New("ext2: too many blocks for group layout")

	// ErrLabelTooLong is returned for a volume label longer than 16 bytes.
	ErrLabelTooLong = errors.New("ext2: volume label too long")

	// ErrBadBlockSize is returned for a block size other than 1024, 2048, or 4096.
	ErrBadBlockSize = errors.New("ext2: block size must be 1024, 2048, or 4096")
)
