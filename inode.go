package ext2

import "encoding/binary"

const inodeRecordSize = 128

// Direct/indirect block-pointer indices into Inode.Block. genext2fs's own
// EXT2_NDIR_BLOCKS constant is 11, but its walker pre-increments the
// direct-block index before using it, so the twelfth slot (index 11)
// still carries a direct pointer; the transition to the indirect pointer
// at index 12 only happens on the call after that. NDirBlocks is kept at
// 12 here (the number of usable direct slots, 0..11) so the rest of the
// walker can use it as a plain count rather than re-deriving the
// original's off-by-one from the pre-increment.
const (
	NDirBlocks   = 12
	indIndex     = 12
	dindIndex    = 13
	tindIndex    = 14
	numBlockPtrs = 15
)

// File type bits packed into the top of Inode.Mode, matching the historical S_IF* values.
const (
	modeFmt    = 0xF000
	ModeFIFO   = 0x1000
	ModeChar   = 0x2000
	ModeDir    = 0x4000
	ModeBlock  = 0x6000
	ModeRegular = 0x8000
	ModeSymlink = 0xA000
	ModeSocket  = 0xC000
)

// Inode is the fixed 128-byte on-disk inode record. Block holds all 15
// block-pointer slots: 12 direct, then single/double/triple indirect
// (see the NDirBlocks note above).
type Inode struct {
	Mode        uint16
	UID         uint16
	Size        uint32
	Atime       uint32
	Ctime       uint32
	Mtime       uint32
	Dtime       uint32
	GID         uint16
	LinksCount  uint16
	Blocks      uint32 // 512-byte sectors used, not filesystem blocks
	Flags       uint32
	Reserved1   uint32
	Block       [numBlockPtrs]uint32
	Version     uint32
	FileACL     uint32
	DirACL      uint32 // high 32 bits of Size for regular files >= 2^32, per LARGE_FILE
	Faddr       uint32
	Frag        uint8
	Fsize       uint8
	Pad1        uint16
}

// hasRawBlockField reports whether Block holds opaque little-endian bytes
// (a packed device major/minor, or inline fast-symlink text) rather than
// a list of block-pointer integers. genext2fs decides this the same way:
// a device inode, or any inode whose recorded sector count is zero while
// its size is not (the fast-symlink case, data stored directly in Block
// instead of through any block pointer at all).
func (n *Inode) hasRawBlockField() bool {
	return n.IsDevice() || (n.Size != 0 && n.Blocks == 0)
}

// marshal encodes the inode with order, except Block which is encoded
// little-endian whenever hasRawBlockField is true: on disk those bytes
// are never anything but literal little-endian content, regardless of
// which order the rest of the image uses.
func (n *Inode) marshal(order binary.ByteOrder) ([]byte, error) {
	blockOrder := order
	if n.hasRawBlockField() {
		blockOrder = binary.LittleEndian
	}
	buf := make([]byte, 0, inodeRecordSize)
	head, err := marshalStruct(order, &inodeHead{n.Mode, n.UID, n.Size, n.Atime, n.Ctime, n.Mtime, n.Dtime, n.GID, n.LinksCount, n.Blocks, n.Flags, n.Reserved1})
	if err != nil {
		return nil, err
	}
	buf = append(buf, head...)
	blk, err := marshalStruct(blockOrder, &inodeBlock{n.Block})
	if err != nil {
		return nil, err
	}
	buf = append(buf, blk...)
	tail, err := marshalStruct(order, &inodeTail{n.Version, n.FileACL, n.DirACL, n.Faddr, n.Frag, n.Fsize, n.Pad1})
	if err != nil {
		return nil, err
	}
	buf = append(buf, tail...)
	return buf, nil
}

// inodeHead, inodeBlock and inodeTail split Inode at the Block field so
// it can be decoded with its own byte order independent of every other
// field, per the hasRawBlockField discipline above.
type inodeHead struct {
	Mode, UID                                uint16
	Size, Atime, Ctime, Mtime, Dtime          uint32
	GID, LinksCount                           uint16
	Blocks, Flags, Reserved1                  uint32
}

type inodeBlock struct {
	Block [numBlockPtrs]uint32
}

type inodeTail struct {
	Version, FileACL, DirACL, Faddr uint32
	Frag, Fsize                     uint8
	Pad1                            uint16
}

func unmarshalInode(order binary.ByteOrder, data []byte) (*Inode, error) {
	const headSize = 2 + 2 + 4*5 + 2 + 2 + 4*3 // 40 bytes
	const blockSize = numBlockPtrs * 4          // 60 bytes

	head := &inodeHead{}
	if err := unmarshalStruct(order, data[:headSize], head); err != nil {
		return nil, err
	}

	n := &Inode{
		Mode: head.Mode, UID: head.UID, Size: head.Size,
		Atime: head.Atime, Ctime: head.Ctime, Mtime: head.Mtime, Dtime: head.Dtime,
		GID: head.GID, LinksCount: head.LinksCount,
		Blocks: head.Blocks, Flags: head.Flags, Reserved1: head.Reserved1,
	}

	blockOrder := order
	if n.hasRawBlockField() {
		blockOrder = binary.LittleEndian
	}
	blk := &inodeBlock{}
	if err := unmarshalStruct(blockOrder, data[headSize:headSize+blockSize], blk); err != nil {
		return nil, err
	}
	n.Block = blk.Block

	tail := &inodeTail{}
	if err := unmarshalStruct(order, data[headSize+blockSize:], tail); err != nil {
		return nil, err
	}
	n.Version, n.FileACL, n.DirACL, n.Faddr, n.Frag, n.Fsize, n.Pad1 =
		tail.Version, tail.FileACL, tail.DirACL, tail.Faddr, tail.Frag, tail.Fsize, tail.Pad1
	return n, nil
}

// fileType returns the S_IF* bits of Mode.
func (n *Inode) fileType() uint16 { return n.Mode & modeFmt }

func (n *Inode) IsDir() bool     { return n.fileType() == ModeDir }
func (n *Inode) IsRegular() bool { return n.fileType() == ModeRegular }
func (n *Inode) IsSymlink() bool { return n.fileType() == ModeSymlink }
func (n *Inode) IsDevice() bool  { t := n.fileType(); return t == ModeChar || t == ModeBlock }

// size64 returns the full 64-bit file size, combining Size with DirACL as
// the high word for a regular file once the image has been upgraded to
// support LARGE_FILE: a file at or above 2^31 bytes triggers the upgrade.
func (n *Inode) size64() uint64 {
	if n.IsRegular() {
		return uint64(n.DirACL)<<32 | uint64(n.Size)
	}
	return uint64(n.Size)
}

// setSize64 stores size back into Size/DirACL for a regular file.
func (n *Inode) setSize64(size uint64) {
	n.Size = uint32(size)
	if n.IsRegular() {
		n.DirACL = uint32(size >> 32)
	}
}

// deviceEncoding packs a device node's major/minor numbers into the one
// word stored in Block[0]: the minor's low byte in bits 0-7, the major in
// bits 8-19, and the minor's remaining bits from bit 20 up. When both
// numbers fit in a byte this is the old 8/8-bit form. Block[1] is not used.
func deviceEncoding(major, minor uint32) uint32 {
	return (major << 8) | (minor & 0xff) | ((minor &^ 0xff) << 12)
}

func decodeDevice(raw uint32) (major, minor uint32) {
	major = (raw >> 8) & 0xfff
	minor = (raw & 0xff) | ((raw >> 12) &^ 0xff)
	return
}
