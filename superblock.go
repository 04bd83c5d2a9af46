package ext2

import "encoding/binary"

const (
	magicExt2 = 0xEF53

	superblockOffset = 1024
	superblockSize   = 1024

	firstInoRev1  = 11 // reserved inodes 1..10; first usable is 11 on rev 0 too in practice
	inodeSizeRev0 = 128
)

// Read-only-compatible feature bits. LARGE_FILE is the only one this
// package ever sets or tolerates finding set on a loaded image.
const (
	featureROCompatLargeFile = 0x0002
)

// Superblock is the 1024-byte record at byte offset 1024 of every ext2
// image. Field layout matches the historical on-disk structure; the
// trailing padding to 1024 bytes is not modeled since marshalStruct only
// ever needs to produce the meaningful prefix and the rest is zero-filled
// by the caller.
type Superblock struct {
	InodesCount     uint32
	BlocksCount     uint32
	RBlocksCount    uint32
	FreeBlocksCount uint32
	FreeInodesCount uint32
	FirstDataBlock  uint32
	LogBlockSize    uint32
	LogFragSize     int32
	BlocksPerGroup  uint32
	FragsPerGroup   uint32
	InodesPerGroup  uint32
	Mtime           uint32
	Wtime           uint32
	MntCount        uint16
	MaxMntCount     int16
	Magic           uint16
	State           uint16
	Errors          uint16
	MinorRevLevel   uint16
	Lastcheck       uint32
	Checkinterval   uint32
	CreatorOS       uint32
	RevLevel        uint32
	DefResuid       uint16
	DefResgid       uint16

	// -- rev 1 extension, valid only when RevLevel >= 1 --
	FirstIno           uint32
	InodeSize          uint16
	BlockGroupNr       uint16
	FeatureCompat      uint32
	FeatureIncompat    uint32
	FeatureROCompat    uint32
	UUID               [16]byte
	VolumeName         [16]byte
}

// blockSize returns the filesystem's block size in bytes, derived from
// the superblock's log2-minus-10 encoding (1024 << LogBlockSize).
func (s *Superblock) blockSize() uint32 {
	return 1024 << s.LogBlockSize
}

// groupCount returns the number of block groups the image is divided
// into. The boot block (when FirstDataBlock is 1) sits before group 0
// and is excluded from the division.
func (s *Superblock) groupCount() uint32 {
	if s.BlocksPerGroup == 0 {
		return 0
	}
	data := s.BlocksCount - s.FirstDataBlock
	n := data / s.BlocksPerGroup
	if data%s.BlocksPerGroup != 0 {
		n++
	}
	return n
}

// marshal encodes the superblock into a superblockSize-byte buffer using order.
func (s *Superblock) marshal(order binary.ByteOrder) ([]byte, error) {
	body, err := marshalStruct(order, s)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, superblockSize)
	copy(buf, body)
	return buf, nil
}

// unmarshalSuperblock decodes and validates a superblock read from offset
// 1024 of an existing image, enforcing the subset of rev 0/1 this package
// understands: loading tolerates only the LARGE_FILE ro-compat bit.
func unmarshalSuperblock(order binary.ByteOrder, data []byte) (*Superblock, error) {
	s := &Superblock{}
	if err := unmarshalStruct(order, data, s); err != nil {
		return nil, err
	}
	if s.Magic != magicExt2 {
		return nil, ErrInvalidMagic
	}
	if s.RevLevel > 1 {
		return nil, ErrUnsupportedRevision
	}
	if s.RevLevel == 1 {
		if s.FirstIno != firstInoRev1 {
			return nil, ErrUnsupportedFeature
		}
		if s.InodeSize != inodeSizeRev0 {
			return nil, ErrBadInodeSize
		}
		if s.FeatureCompat != 0 || s.FeatureIncompat != 0 {
			return nil, ErrUnsupportedFeature
		}
		if s.FeatureROCompat&^uint32(featureROCompatLargeFile) != 0 {
			return nil, ErrUnsupportedFeature
		}
	} else if s.RevLevel == 0 {
		if s.FeatureCompat != 0 || s.FeatureIncompat != 0 || s.FeatureROCompat != 0 {
			return nil, ErrUnsupportedFeature
		}
	}
	return s, nil
}

// upgradeToLargeFile sets rev 1 and the LARGE_FILE ro-compat bit, the
// one-way transition triggered the first time a regular file grows past
// 2^31-1 bytes.
func (s *Superblock) upgradeToLargeFile() {
	if s.RevLevel == 0 {
		s.RevLevel = 1
		s.FirstIno = firstInoRev1
		s.InodeSize = inodeSizeRev0
	}
	s.FeatureROCompat |= featureROCompatLargeFile
}

// supportsLargeFile reports whether the image may contain regular files
// at or above 2^31 bytes without violating its own declared feature set.
func (s *Superblock) supportsLargeFile() bool {
	return s.RevLevel >= 1 && s.FeatureROCompat&featureROCompatLargeFile != 0
}
