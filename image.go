package ext2

import (
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"time"
)

const (
	inoBad        = 1
	inoRoot       = 2
	inoACLIdx     = 3
	inoACLData    = 4
	inoBootLoader = 5
	inoUndelDir   = 6
	inoFirst      = 11 // first non-reserved inode

	minImageBlocks = 16
)

// Image is one ext2 filesystem under construction or already loaded. It
// owns the backing store, the single raw-block cache every typed view is
// decoded from, the in-memory superblock and group descriptor table (kept
// resident rather than cached: there are always few enough of them that
// pinning discipline would add bookkeeping without buying anything), and
// the hardlink table ingest consults.
type Image struct {
	cfg   Config
	store *backingStore
	order binary.ByteOrder

	sb     *Superblock
	groups []*GroupDescriptor

	blocks *cache[*rawBlock]
	links  *hardlinkTable

	now uint32
}

const blockCacheMaxFree = 64

// NewImage creates path and initializes an empty filesystem in it:
// superblock, group descriptors, bitmaps, inode tables, and the root
// directory are all laid out before the call returns. The superblock and
// group descriptor table reach the file only at Finalize.
func NewImage(path string, opts ...Option) (*Image, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	blockSize := uint32(cfg.blockSize())
	if cfg.Blocks < minImageBlocks {
		return nil, ErrImageTooSmall
	}

	inodes := cfg.Inodes
	if inodes == 0 {
		inodes = (cfg.Blocks * uint64(blockSize)) / cfg.BytesPerInode
		if inodes == 0 {
			inodes = 1
		}
	}

	firstBlock := uint32(0)
	if blockSize == 1024 {
		firstBlock = 1
	}

	const blocksPerGroupDefault = 8192
	blocksPerGroupTarget := blocksPerGroupDefault
	if blockSize != 1024 {
		blocksPerGroupTarget = int(blockSize * 8)
	}

	minGroups := ceilDiv(inodes, uint64(blocksPerGroupTarget))
	if minGroups == 0 {
		minGroups = 1
	}
	byBlocks := ceilDiv(cfg.Blocks-uint64(firstBlock), uint64(blocksPerGroupTarget))
	groups := minGroups
	if byBlocks > groups {
		groups = byBlocks
	}
	if groups == 0 {
		groups = 1
	}

	blocksPerGroup := roundUp(uint32(ceilDiv(cfg.Blocks-uint64(firstBlock)+groups-1, groups)), 8)
	inodesPerGroupUnrounded := ceilDiv(inodes+groups-1, groups)
	inodesPerGroup := roundUp(uint32(inodesPerGroupUnrounded), blockSize/128)
	if inodesPerGroup < 16 {
		inodesPerGroup = 16
	}

	gdBlocksPerGroup := ceilDiv(uint64(groups)*groupDescSize, uint64(blockSize))
	itableBlocksPerGroup := ceilDiv(uint64(inodesPerGroup)*inodeRecordSize, uint64(blockSize))
	overheadPerGroup := 3 + gdBlocksPerGroup + itableBlocksPerGroup

	free := int64(cfg.Blocks) - int64(overheadPerGroup)*int64(groups) - int64(firstBlock)
	if free < 0 {
		return nil, ErrTooManyBlocks
	}

	order := byteOrderFor(cfg.BigEndian)
	store, err := openBackingStore(path, blockSize, cfg.Blocks)
	if err != nil {
		return nil, err
	}

	now := cfg.Timestamp
	if now == 0 {
		now = uint32(time.Now().Unix())
	}

	reservedBlocks := cfg.ReservedBlocks
	if reservedBlocks == 0 && cfg.ReservedFrac > 0 {
		reservedBlocks = uint64(float64(cfg.Blocks) * cfg.ReservedFrac)
	}

	sb := &Superblock{
		InodesCount:     uint32(inodesPerGroup) * uint32(groups),
		BlocksCount:     uint32(cfg.Blocks),
		RBlocksCount:    uint32(reservedBlocks),
		FreeBlocksCount: uint32(free),
		FirstDataBlock:  firstBlock,
		LogBlockSize:    logBlockSize(blockSize),
		LogFragSize:     int32(logBlockSize(blockSize)),
		BlocksPerGroup:  blocksPerGroup,
		FragsPerGroup:   blocksPerGroup,
		InodesPerGroup:  uint32(inodesPerGroup),
		Mtime:           now,
		Wtime:           now,
		Magic:           magicExt2,
		CreatorOS:       uint32(cfg.CreatorOS),
		State:           1,
		MaxMntCount:     20,
	}
	sb.FreeInodesCount = sb.InodesCount - inoFirst + 1
	copy(sb.VolumeName[:], cfg.Label)

	img := &Image{
		cfg:   cfg,
		store: store,
		order: order,
		sb:    sb,
		links: newHardlinkTable(),
		now:   now,
	}
	img.blocks = newCache[*rawBlock]("blocks", blockCacheMaxFree)

	// The last group usually covers fewer real blocks than blocksPerGroup
	// (the round-up overshoot); its free count and bitmap tail account for
	// only the blocks that exist, so the superblock total stays the sum of
	// the per-group counts.
	dataBlocks := uint32(cfg.Blocks) - firstBlock
	img.groups = make([]*GroupDescriptor, groups)
	bbm := firstBlock + 1 + uint32(gdBlocksPerGroup)
	for g := uint32(0); g < uint32(groups); g++ {
		gb := groupBlockCount(dataBlocks, blocksPerGroup, g)
		if gb <= uint32(overheadPerGroup) {
			return nil, ErrTooManyBlocks
		}
		gd := &GroupDescriptor{
			BlockBitmap:     bbm,
			InodeBitmap:     bbm + 1,
			InodeTable:      bbm + 2,
			FreeBlocksCount: uint16(gb - uint32(overheadPerGroup)),
			FreeInodesCount: uint16(inodesPerGroup),
		}
		img.groups[g] = gd
		bbm += blocksPerGroup
	}
	img.groups[0].FreeInodesCount -= inoFirst - 1

	if err := img.initBitmaps(uint32(overheadPerGroup), uint32(groups), blocksPerGroup, uint32(inodesPerGroup)); err != nil {
		return nil, err
	}

	if err := img.initRoot(); err != nil {
		return nil, err
	}
	if reservedBlocks > 0 {
		if err := img.initLostAndFound(); err != nil {
			return nil, err
		}
	}

	return img, nil
}

// OpenImage loads an existing ext2 image for further modification: the
// backing file's size must be a positive multiple of the image's own
// block size and at least
// minImageBlocks blocks, the superblock at byte offset 1024 must carry
// a valid magic and a revision/feature set this package understands,
// and the group descriptor table immediately following it is read in
// full. Byte order is auto-detected by trying little-endian first.
func OpenImage(path string) (*Image, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	sb, order, err := readSuperblock(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	blockSize := sb.blockSize()
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	size := fi.Size()
	if size <= 0 || size%int64(blockSize) != 0 {
		f.Close()
		return nil, ErrImageTooSmall
	}
	blocks := uint64(size) / uint64(blockSize)
	if blocks < minImageBlocks || blocks < uint64(sb.BlocksCount) {
		f.Close()
		return nil, ErrImageTooSmall
	}

	store := &backingStore{f: f, blockSize: blockSize, blocks: blocks}

	img := &Image{
		cfg: Config{
			BlockSize: blockSize,
			Blocks:    uint64(sb.BlocksCount),
			Inodes:    uint64(sb.InodesCount),
			BigEndian: order == binary.BigEndian,
		},
		store: store,
		order: order,
		sb:    sb,
		links: newHardlinkTable(),
		now:   uint32(time.Now().Unix()),
	}
	img.blocks = newCache[*rawBlock]("blocks", blockCacheMaxFree)

	groups := sb.groupCount()
	gdOffset := int64(sb.FirstDataBlock+1) * int64(blockSize)
	gdBuf := make([]byte, int(groups)*groupDescSize)
	if _, err := f.ReadAt(gdBuf, gdOffset); err != nil {
		f.Close()
		return nil, err
	}
	img.groups = make([]*GroupDescriptor, groups)
	for g := uint32(0); g < groups; g++ {
		gd, err := unmarshalGroupDescriptor(order, gdBuf[g*groupDescSize:(g+1)*groupDescSize])
		if err != nil {
			f.Close()
			return nil, err
		}
		img.groups[g] = gd
	}
	return img, nil
}

// readSuperblock reads the 1024-byte record at byte offset 1024 and
// decodes it, trying little-endian first and falling back to
// big-endian: the magic check in unmarshalSuperblock is what actually
// distinguishes a real match from a coincidentally valid-looking one.
func readSuperblock(f *os.File) (*Superblock, binary.ByteOrder, error) {
	buf := make([]byte, superblockSize)
	if _, err := f.ReadAt(buf, superblockOffset); err != nil {
		return nil, nil, err
	}
	if sb, err := unmarshalSuperblock(binary.LittleEndian, buf); err == nil {
		return sb, binary.LittleEndian, nil
	}
	sb, err := unmarshalSuperblock(binary.BigEndian, buf)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("ext2: image is big-endian")
	return sb, binary.BigEndian, nil
}

func logBlockSize(blockSize uint32) uint32 {
	switch blockSize {
	case 1024:
		return 0
	case 2048:
		return 1
	case 4096:
		return 2
	}
	return 0
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

func roundUp(n, unit uint32) uint32 {
	if unit == 0 {
		return n
	}
	return ((n + unit - 1) / unit) * unit
}

// groupBlockCount returns the number of blocks group g really covers:
// blocksPerGroup for every group but possibly the last, whose tail falls
// past the end of the filesystem.
func groupBlockCount(dataBlocks, blocksPerGroup, g uint32) uint32 {
	if rem := dataBlocks - g*blocksPerGroup; rem < blocksPerGroup {
		return rem
	}
	return blocksPerGroup
}

// initBitmaps pre-marks the non-filesystem tail of every group's block
// and inode bitmaps, and the metadata blocks at the head of each group's
// block bitmap, and (group 0 only) the reserved low inode numbers.
func (img *Image) initBitmaps(overhead, groups, blocksPerGroup, inodesPerGroup uint32) error {
	blockSize := img.sb.blockSize()
	dataBlocks := img.sb.BlocksCount - img.sb.FirstDataBlock
	for g := uint32(0); g < groups; g++ {
		bh, err := img.getBlock(img.groups[g].BlockBitmap)
		if err != nil {
			return err
		}
		bm := bitmap(bh.Value().data)
		for i := groupBlockCount(dataBlocks, blocksPerGroup, g) + 1; i <= blockSize*8; i++ {
			bm.set(i)
		}
		for i := uint32(1); i <= overhead; i++ {
			bm.set(i)
		}
		bh.Value().dirty = true
		bh.Release()

		ih, err := img.getBlock(img.groups[g].InodeBitmap)
		if err != nil {
			return err
		}
		ibm := bitmap(ih.Value().data)
		for i := inodesPerGroup + 1; i <= blockSize*8; i++ {
			ibm.set(i)
		}
		if g == 0 {
			for i := uint32(1); i < inoFirst; i++ {
				ibm.set(i)
			}
		}
		ih.Value().dirty = true
		ih.Release()
	}
	return nil
}

// ---- groupAccessor / indirectSource ----

func (img *Image) groupCount() uint32        { return uint32(len(img.groups)) }
func (img *Image) superblock() *Superblock   { return img.sb }

func (img *Image) getBlock(num uint32) (*Handle[*rawBlock], error) {
	return img.blocks.getHandle(num, func() (*rawBlock, error) {
		data, err := img.store.ReadBlock(num)
		if err != nil {
			return nil, err
		}
		return &rawBlock{store: img.store, num: num, data: data}, nil
	})
}

func (img *Image) blockBitmap(g uint32) (bitmap, error) {
	h, err := img.getBlock(img.groups[g].BlockBitmap)
	if err != nil {
		return nil, err
	}
	h.Value().dirty = true
	defer h.Release()
	return bitmap(h.Value().data), nil
}

func (img *Image) inodeBitmap(g uint32) (bitmap, error) {
	h, err := img.getBlock(img.groups[g].InodeBitmap)
	if err != nil {
		return nil, err
	}
	h.Value().dirty = true
	defer h.Release()
	return bitmap(h.Value().data), nil
}

func (img *Image) groupDesc(g uint32) (*GroupDescriptor, error) {
	if g >= uint32(len(img.groups)) {
		return nil, ErrBlockOutOfRange
	}
	return img.groups[g], nil
}

func (img *Image) loadIndirect(blk uint32) (wordView, error) {
	h, err := img.getBlock(blk)
	if err != nil {
		return wordView{}, err
	}
	h.Value().dirty = true
	defer h.Release()
	return wordView{data: h.Value().data, order: img.order}, nil
}

func (img *Image) allocIndirect() (uint32, wordView, error) {
	blk, err := allocateBlock(img, 0)
	if err != nil {
		return 0, wordView{}, err
	}
	h, err := img.getBlock(blk)
	if err != nil {
		return 0, wordView{}, err
	}
	data := h.Value().data
	for i := range data {
		data[i] = 0
	}
	h.Value().dirty = true
	h.Release()
	return blk, wordView{data: data, order: img.order}, nil
}

// inodeLocation returns the group and in-group index (0-based) of ino.
func (img *Image) inodeLocation(ino uint32) (group, index uint32) {
	group = (ino - 1) / img.sb.InodesPerGroup
	index = (ino - 1) % img.sb.InodesPerGroup
	return
}

// getInode decodes and returns inode ino.
func (img *Image) getInode(ino uint32) (*Inode, error) {
	g, idx := img.inodeLocation(ino)
	blockSize := img.sb.blockSize()
	perBlock := blockSize / inodeRecordSize
	blk := img.groups[g].InodeTable + idx/perBlock
	off := (idx % perBlock) * inodeRecordSize

	h, err := img.getBlock(blk)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	data := h.Value().data
	return unmarshalInode(img.order, data[off:off+inodeRecordSize])
}

// putInode encodes and writes n back as inode ino.
func (img *Image) putInode(ino uint32, n *Inode) error {
	g, idx := img.inodeLocation(ino)
	blockSize := img.sb.blockSize()
	perBlock := blockSize / inodeRecordSize
	blk := img.groups[g].InodeTable + idx/perBlock
	off := (idx % perBlock) * inodeRecordSize

	h, err := img.getBlock(blk)
	if err != nil {
		return err
	}
	defer h.Release()
	enc, err := n.marshal(img.order)
	if err != nil {
		return err
	}
	copy(h.Value().data[off:off+inodeRecordSize], enc)
	h.Value().dirty = true
	return nil
}

// Finalize flushes the block cache, rewrites the superblock and group
// descriptor table, and truncates the backing file to its declared
// size.
func (img *Image) Finalize() error {
	if err := img.blocks.flush(); err != nil {
		return err
	}
	if img.blocks.inUse() != 0 {
		return ErrCacheNotDrained
	}
	if err := img.writeSuperblockAndGroups(); err != nil {
		return err
	}
	return img.store.Truncate(int64(img.sb.BlocksCount) * int64(img.sb.blockSize()))
}

func (img *Image) writeSuperblockAndGroups() error {
	enc, err := img.sb.marshal(img.order)
	if err != nil {
		return err
	}
	if err := img.writeRaw(superblockOffset, enc); err != nil {
		return err
	}

	blockSize := int64(img.sb.blockSize())
	gdOffset := int64(img.sb.FirstDataBlock+1) * blockSize
	buf := make([]byte, 0, len(img.groups)*groupDescSize)
	for _, gd := range img.groups {
		enc, err := gd.marshal(img.order)
		if err != nil {
			return err
		}
		buf = append(buf, enc...)
	}
	return img.writeRaw(gdOffset, buf)
}

// writeRaw writes buf directly through the backing store at a byte
// offset, bypassing the block cache: used only for the superblock and
// group descriptor table, whose placement doesn't align with a single
// cached block in every configuration.
func (img *Image) writeRaw(offset int64, buf []byte) error {
	blockSize := int64(img.sb.blockSize())
	n := offset
	for len(buf) > 0 {
		blk := uint32(n / blockSize)
		within := int(n % blockSize)
		chunk := int(blockSize) - within
		if chunk > len(buf) {
			chunk = len(buf)
		}
		data, err := img.store.ReadBlock(blk)
		if err != nil {
			return fmt.Errorf("write raw at block %d: %w", blk, err)
		}
		copy(data[within:within+chunk], buf[:chunk])
		if err := img.store.WriteBlock(blk, data); err != nil {
			return err
		}
		buf = buf[chunk:]
		n += int64(chunk)
	}
	return nil
}

// Close releases the backing file without finalizing; used for an
// OpenImage caller that only wants to read, or after Finalize.
func (img *Image) Close() error {
	return img.store.Close()
}
