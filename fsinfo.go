package ext2

import "fmt"

// NodeInfo is a read-only snapshot of one inode's metadata, the minimal
// io/fs.FileInfo-shaped surface this package exposes for inspecting an
// image it built or loaded, kept deliberately narrow since this package
// never supports random-access mutation of existing content.
type NodeInfo struct {
	Ino        uint32
	Mode       uint16
	UID, GID   uint16
	Size       uint64
	LinksCount uint16
	Blocks     uint32 // 512-byte sectors, per Inode.Blocks
	Mtime      uint32

	// Name is the directory-entry name this inode was reached through;
	// set by ReadDir, empty from Stat (an inode has no intrinsic name).
	Name string

	// Major, Minor are only meaningful when Mode's file-type bits are
	// ModeChar or ModeBlock.
	Major, Minor uint32
}

func (n NodeInfo) IsDir() bool     { return n.Mode&modeFmt == ModeDir }
func (n NodeInfo) IsRegular() bool { return n.Mode&modeFmt == ModeRegular }
func (n NodeInfo) IsSymlink() bool { return n.Mode&modeFmt == ModeSymlink }

// Summary is a read-only snapshot of the image-wide superblock fields
// most useful to a caller inspecting a built or loaded image: magic,
// sizing, occupancy, and revision/feature state.
type Summary struct {
	Magic           uint16
	BlockSize       uint32
	BlocksCount     uint32
	InodesCount     uint32
	FreeBlocksCount uint32
	FreeInodesCount uint32
	RevLevel        uint32
	LargeFile       bool
	Groups          uint32
}

// Summarize returns the image's current superblock summary.
func (img *Image) Summarize() Summary {
	return Summary{
		Magic:           img.sb.Magic,
		BlockSize:       img.sb.blockSize(),
		BlocksCount:     img.sb.BlocksCount,
		InodesCount:     img.sb.InodesCount,
		FreeBlocksCount: img.sb.FreeBlocksCount,
		FreeInodesCount: img.sb.FreeInodesCount,
		RevLevel:        img.sb.RevLevel,
		LargeFile:       img.sb.supportsLargeFile(),
		Groups:          img.groupCount(),
	}
}

// GroupInfo is a read-only snapshot of one block group's descriptor
// counters, letting a caller (or test) check the per-group counts
// against the superblock totals.
type GroupInfo struct {
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
}

// GroupInfos returns one GroupInfo per block group, in group order.
func (img *Image) GroupInfos() []GroupInfo {
	out := make([]GroupInfo, len(img.groups))
	for i, gd := range img.groups {
		out[i] = GroupInfo{
			FreeBlocksCount: gd.FreeBlocksCount,
			FreeInodesCount: gd.FreeInodesCount,
			UsedDirsCount:   gd.UsedDirsCount,
		}
	}
	return out
}

// Stat returns metadata for an already-created or already-loaded inode,
// found via FindPath or returned from AddEntry/ApplyDeviceTableEntry.
func (img *Image) Stat(ino uint32) (NodeInfo, error) {
	n, err := img.getInode(ino)
	if err != nil {
		return NodeInfo{}, err
	}
	info := NodeInfo{
		Ino: ino, Mode: n.Mode, UID: n.UID, GID: n.GID,
		Size: n.size64(), LinksCount: n.LinksCount, Blocks: n.Blocks,
		Mtime: n.Mtime,
	}
	if n.IsDevice() {
		info.Major, info.Minor = decodeDevice(n.Block[0])
	}
	return info, nil
}

// ReadDir lists the directory entries of ino in on-disk order, skipping
// "." and "..". It fails if ino is not a directory.
func (img *Image) ReadDir(ino uint32) ([]NodeInfo, error) {
	parent, err := img.getInode(ino)
	if err != nil {
		return nil, err
	}
	if !parent.IsDir() {
		return nil, ErrNotADirectory
	}
	blockSize := img.sb.blockSize()
	group, _ := img.inodeLocation(ino)
	bw := newBlockWalker()
	var out []NodeInfo
	for {
		blk, end, err := img.walkNext(bw, parent, group, nil, false)
		if err != nil {
			return nil, err
		}
		if end {
			break
		}
		if blk == 0 {
			continue
		}
		h, err := img.getBlock(blk)
		if err != nil {
			return nil, err
		}
		entries := listEntriesInBlock(img.order, h.Value().data, blockSize)
		h.Release()
		for _, e := range entries {
			if e.Name == "." || e.Name == ".." {
				continue
			}
			info, err := img.Stat(e.Inode)
			if err != nil {
				return nil, err
			}
			info.Name = e.Name
			out = append(out, info)
		}
	}
	return out, nil
}

// ReadFile returns the full content of a regular file's inode, resolving
// holes to zero bytes. It is a read-only walk of the block tree built by
// mkfileFs/extendBlocks and never allocates or mutates.
func (img *Image) ReadFile(ino uint32) ([]byte, error) {
	n, err := img.getInode(ino)
	if err != nil {
		return nil, err
	}
	if !n.IsRegular() {
		return nil, fmt.Errorf("ext2: inode %d is not a regular file", ino)
	}
	size := n.size64()
	blockSize := img.sb.blockSize()
	out := make([]byte, 0, size)
	blocks, err := img.inodeBlocksOrZero(n)
	if err != nil {
		return nil, err
	}
	for _, blk := range blocks {
		if uint64(len(out)) >= size {
			break
		}
		chunk := make([]byte, blockSize)
		if blk != 0 {
			h, err := img.getBlock(blk)
			if err != nil {
				return nil, err
			}
			copy(chunk, h.Value().data)
			h.Release()
		}
		out = append(out, chunk...)
	}
	if uint64(len(out)) > size {
		out = out[:size]
	}
	return out, nil
}

// ReadLink returns a symlink inode's target text, whether stored inline
// (size < 60) or in ordinary data blocks.
func (img *Image) ReadLink(ino uint32) (string, error) {
	n, err := img.getInode(ino)
	if err != nil {
		return "", err
	}
	if !n.IsSymlink() {
		return "", fmt.Errorf("ext2: inode %d is not a symlink", ino)
	}
	if n.Size < 60 && n.Blocks == 0 {
		raw := make([]byte, 0, 60)
		for i := 0; i < numBlockPtrs; i++ {
			b := n.Block[i]
			raw = append(raw, byte(b), byte(b>>8), byte(b>>16), byte(b>>24))
		}
		return string(raw[:n.Size]), nil
	}
	blocks, err := img.inodeBlocksOrZero(n)
	if err != nil {
		return "", err
	}
	blockSize := img.sb.blockSize()
	out := make([]byte, 0, n.Size)
	for _, blk := range blocks {
		if uint64(len(out)) >= uint64(n.Size) {
			break
		}
		chunk := make([]byte, blockSize)
		if blk != 0 {
			h, err := img.getBlock(blk)
			if err != nil {
				return "", err
			}
			copy(chunk, h.Value().data)
			h.Release()
		}
		out = append(out, chunk...)
	}
	if uint64(len(out)) > uint64(n.Size) {
		out = out[:n.Size]
	}
	return string(out), nil
}

// DataBlocks returns every logical data-block number in ino's block tree,
// in order, with 0 standing for a hole. Exported for diagnostics and for
// tests that need to confirm exactly which physical blocks a file's
// content landed in.
func (img *Image) DataBlocks(ino uint32) ([]uint32, error) {
	n, err := img.getInode(ino)
	if err != nil {
		return nil, err
	}
	return img.inodeBlocksOrZero(n)
}

// ReadBlock returns a copy of one physical block's raw bytes. Diagnostic
// companion to WriteBlockMap and DataBlocks: lets a caller confirm exact
// on-disk content, including any zero padding past an inode's own size.
func (img *Image) ReadBlock(num uint32) ([]byte, error) {
	h, err := img.getBlock(num)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	out := make([]byte, len(h.Value().data))
	copy(out, h.Value().data)
	return out, nil
}

// inodeBlocksOrZero lists the block number of every logical block of n,
// returning 0 (a hole marker) for an unallocated block instead of
// omitting its slot, since a reader needs to know where each logical
// block falls rather than only which ones exist.
func (img *Image) inodeBlocksOrZero(n *Inode) ([]uint32, error) {
	blockSize := img.sb.blockSize()
	total := (n.size64() + uint64(blockSize) - 1) / uint64(blockSize)
	if total == 0 {
		return nil, nil
	}
	bw := newBlockWalker()
	blocks := make([]uint32, 0, total)
	for i := uint64(0); i < total; i++ {
		ref, err := bw.next(n, blockSize, false, img)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, ref.get())
	}
	return blocks, nil
}
