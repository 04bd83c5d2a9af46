package ext2

import (
	"fmt"

	"code.cloudfoundry.org/bytefmt"
)

// CreatorOS identifies the operating system that created an image, stored
// in the superblock's s_creator_os field.
type CreatorOS uint32

const (
	OSLinux CreatorOS = iota
	OSHurd
	OSMasix
	OSFreeBSD
	OSLites
)

// Config holds every option accepted at image construction. There is no
// global state: squash_uids, squash_perms, the creator OS and the volume
// label all live here and are threaded explicitly into the ingest layer
// instead.
type Config struct {
	BlockSize      uint32 // one of 1024, 2048, 4096
	Blocks         uint64 // target block count
	Inodes         uint64 // target inode count (0 = derive from BytesPerInode)
	ReservedBlocks uint64 // blocks set aside for lost+found / root use
	BytesPerInode  uint64 // used to derive Inodes when Inodes == 0
	ReservedFrac   float64 // fraction of Blocks reserved when ReservedBlocks == 0 (default 0.05; 0 reserves none)

	CreatorOS CreatorOS
	Label     string // volume label, <= 16 bytes

	Holes       bool // allow sparse (hole) data blocks
	SquashUIDs  bool // rewrite every ingested uid/gid to 0
	SquashPerms bool // rewrite every ingested group/other permission bit to 0

	Timestamp uint32 // 0 means "use current wall-clock time" (or the source mtime for ingested entries)

	BigEndian bool // target byte order; false = little-endian
}

// Option configures a Config. Applied in NewImage after
// defaults are set, in the order given, each able to fail independently.
type Option func(*Config) error

func defaultConfig() Config {
	return Config{
		BlockSize:     1024,
		BytesPerInode: 16384,
		ReservedFrac:  0.05,
		CreatorOS:     OSLinux,
	}
}

// WithBlockSize sets the filesystem block size (1024, 2048, or 4096).
func WithBlockSize(size uint32) Option {
	return func(c *Config) error {
		switch size {
		case 1024, 2048, 4096:
			c.BlockSize = size
			return nil
		default:
			return ErrBadBlockSize
		}
	}
}

// WithBlocks sets the target block count, accepting either a bare count
// or a bytefmt-style suffixed byte size ("64K", "500M", "2G", ...) that
// is divided by the (already configured, or default) block size.
func WithBlocks(spec string) Option {
	return func(c *Config) error {
		n, err := parseCount(spec, c.blockSize())
		if err != nil {
			return fmt.Errorf("blocks: %w", err)
		}
		c.Blocks = n
		return nil
	}
}

// WithBlockCount sets the target block count directly.
func WithBlockCount(n uint64) Option {
	return func(c *Config) error {
		c.Blocks = n
		return nil
	}
}

// WithInodes sets the target inode count directly, overriding BytesPerInode.
func WithInodes(n uint64) Option {
	return func(c *Config) error {
		c.Inodes = n
		return nil
	}
}

// WithBytesPerInode sets the bytes-per-inode ratio used to derive the inode
// count when WithInodes was not used, accepting a bytefmt-style suffixed size.
func WithBytesPerInode(spec string) Option {
	return func(c *Config) error {
		n, err := parseCount(spec, 1)
		if err != nil {
			return fmt.Errorf("bytes-per-inode: %w", err)
		}
		c.BytesPerInode = n
		return nil
	}
}

// WithReservedBlocks sets aside a fixed number of blocks (for lost+found),
// overriding the default reserved fraction even when n is 0.
func WithReservedBlocks(n uint64) Option {
	return func(c *Config) error {
		c.ReservedBlocks = n
		c.ReservedFrac = 0
		return nil
	}
}

// WithReservedFraction sets the fraction of Blocks reserved, used only
// when WithReservedBlocks was not called. Default is 0.05 (5%).
func WithReservedFraction(frac float64) Option {
	return func(c *Config) error {
		c.ReservedFrac = frac
		return nil
	}
}

// WithCreatorOS sets the superblock's creator-OS field.
func WithCreatorOS(os CreatorOS) Option {
	return func(c *Config) error {
		c.CreatorOS = os
		return nil
	}
}

// WithLabel sets the volume label (max 16 bytes).
func WithLabel(label string) Option {
	return func(c *Config) error {
		if len(label) > 16 {
			return ErrLabelTooLong
		}
		c.Label = label
		return nil
	}
}

// WithHoles enables sparse data blocks for all-zero source content.
func WithHoles(enabled bool) Option {
	return func(c *Config) error {
		c.Holes = enabled
		return nil
	}
}

// WithSquashUIDs rewrites every ingested file's uid/gid to 0.
func WithSquashUIDs(enabled bool) Option {
	return func(c *Config) error {
		c.SquashUIDs = enabled
		return nil
	}
}

// WithSquashPerms rewrites every ingested file's group/other permission bits to 0.
func WithSquashPerms(enabled bool) Option {
	return func(c *Config) error {
		c.SquashPerms = enabled
		return nil
	}
}

// WithTimestamp fixes every mtime/ctime/atime and s_wtime/s_mtime to a
// single value (genext2fs's "faketime"), for reproducible builds. 0
// (the default) means "use the current wall-clock time", except that an
// entry added through AddEntry with a nonzero Stat.Mtime takes that mtime.
func WithTimestamp(t uint32) Option {
	return func(c *Config) error {
		c.Timestamp = t
		return nil
	}
}

// WithByteOrder selects the target image's byte order.
func WithByteOrder(bigEndian bool) Option {
	return func(c *Config) error {
		c.BigEndian = bigEndian
		return nil
	}
}

func (c *Config) blockSize() uint64 {
	if c.BlockSize == 0 {
		return 1024
	}
	return uint64(c.BlockSize)
}

// parseCount parses a size given either as a bare integer count of units,
// or as a bytefmt-style suffixed byte size ("64K", "2M", "1G") to be
// divided by unit bytes.
func parseCount(spec string, unit uint64) (uint64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty size")
	}
	hasSuffix := false
	for _, r := range spec {
		if (r < '0' || r > '9') {
			hasSuffix = true
			break
		}
	}
	if !hasSuffix {
		var n uint64
		_, err := fmt.Sscanf(spec, "%d", &n)
		return n, err
	}
	bytesN, err := bytefmt.ToBytes(spec)
	if err != nil {
		return 0, err
	}
	if unit == 0 {
		unit = 1
	}
	return bytesN / unit, nil
}
