package ext2

import "encoding/binary"

const groupDescSize = 32

// GroupDescriptor locates the three per-group metadata structures (block
// bitmap, inode bitmap, inode table) and tracks per-group free counts.
// genext2fs supports only a single block group in the original; this
// package generalizes to the full multi-group layout the on-disk format
// allows, per the spec's own multi-group allocator design.
type GroupDescriptor struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
	Pad             uint16
	Reserved        [12]byte
}

func (g *GroupDescriptor) marshal(order binary.ByteOrder) ([]byte, error) {
	return marshalStruct(order, g)
}

func unmarshalGroupDescriptor(order binary.ByteOrder, data []byte) (*GroupDescriptor, error) {
	g := &GroupDescriptor{}
	if err := unmarshalStruct(order, data, g); err != nil {
		return nil, err
	}
	return g, nil
}
