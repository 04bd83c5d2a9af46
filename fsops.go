package ext2

import (
	"fmt"
	"io"
)

// inoblk is the original's INOBLK: i_blocks is recorded in 512-byte
// sector units regardless of the filesystem's own block size.
func inoblk(blockSize uint32) uint32 { return blockSize / 512 }

// walkNext advances bw by one logical data block of inode, mirroring the
// top-of-walk_bw gating the stateless blockWalker.next doesn't itself
// do: deciding, from the inode's currently recorded block count, whether
// this call is reading existing data or extending past the end (and if
// so, whether createBudget still allows it). On a freshly entered leaf
// slot it also performs the actual data-block allocation (or leaves a
// hole), which walker.next deliberately leaves to its caller. group is
// the block group to prefer for any new data-block allocation.
func (img *Image) walkNext(bw *blockWalker, inode *Inode, group uint32, createBudget *int, hole bool) (blk uint32, end bool, err error) {
	blockSize := img.sb.blockSize()
	existing := inode.Blocks / inoblk(blockSize)

	extend := false
	if bw.bnum >= existing {
		if createBudget != nil && *createBudget > 0 {
			*createBudget--
			extend = true
		} else {
			return 0, true, nil
		}
	}

	ref, err := bw.next(inode, blockSize, extend, img)
	if err != nil {
		return 0, false, err
	}

	if extend && ref.get() == 0 {
		if hole {
			ref.set(0)
		} else {
			b, err := allocateBlock(img, group)
			if err != nil {
				return 0, false, err
			}
			ref.set(b)
		}
	}

	v := ref.get()
	if v != 0 {
		bw.bnum++
		g := (v - img.sb.FirstDataBlock) / img.sb.BlocksPerGroup
		bit := (v-img.sb.FirstDataBlock)%img.sb.BlocksPerGroup + 1
		bm, err := img.blockBitmap(g)
		if err != nil {
			return 0, false, err
		}
		if !bm.test(bit) {
			return 0, false, ErrUnallocatedBlock
		}
	}
	if extend {
		inode.Blocks = bw.bnum * inoblk(blockSize)
	}
	return v, false, nil
}

// extendBlocks appends data (exactly blockSize*blockCount bytes, the
// last block zero-padded by the caller) to inode's existing block tree,
// allocating new data and indirection blocks as needed. When isAllZero
// reports a block as all-zero and the image was opened with Holes, the
// corresponding slot is left unallocated (reads back as zero) instead of
// consuming real disk space.
func (img *Image) extendBlocks(bw *blockWalker, inode *Inode, group uint32, data []byte, blockCount int) error {
	blockSize := int(img.sb.blockSize())
	create := blockCount
	for i := 0; i < blockCount; i++ {
		chunk := data[i*blockSize : (i+1)*blockSize]
		hole := img.cfg.Holes && isAllZero(chunk)
		blk, end, err := img.walkNext(bw, inode, group, &create, hole)
		if err != nil {
			return err
		}
		if end {
			break
		}
		if blk != 0 {
			if err := img.writeDataBlock(blk, chunk); err != nil {
				return err
			}
		}
	}
	return nil
}

func (img *Image) writeDataBlock(blk uint32, data []byte) error {
	h, err := img.getBlock(blk)
	if err != nil {
		return err
	}
	copy(h.Value().data, data)
	h.Value().dirty = true
	return h.Release()
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// truncateInode walks every block of inode (data, then each level of
// indirection once its last child is freed) and releases them, resetting
// i_blocks to 0. Used by mklink/mkfile to reset a just-allocated inode
// before writing its real content.
func (img *Image) truncateInode(inode *Inode) error {
	bw := newBlockWalker()
	blockSize := img.sb.blockSize()
	for {
		existing := inode.Blocks / inoblk(blockSize)
		if bw.bnum >= existing {
			break
		}
		ref, err := bw.next(inode, blockSize, false, img)
		if err != nil {
			return err
		}
		blk := ref.get()
		if blk != 0 {
			bw.bnum++
			if err := freeBlock(img, blk); err != nil {
				return err
			}
			ref.set(0)
		}
	}
	if err := img.freeIndirectTree(inode.Block[dindIndex], 1); err != nil {
		return err
	}
	if err := img.freeIndirectTree(inode.Block[tindIndex], 2); err != nil {
		return err
	}
	for _, idx := range []int{indIndex, dindIndex, tindIndex} {
		if inode.Block[idx] != 0 {
			if err := freeBlock(img, inode.Block[idx]); err != nil {
				return err
			}
			inode.Block[idx] = 0
		}
	}
	inode.Blocks = 0
	return nil
}

// freeIndirectTree releases the interior indirection blocks hanging off
// blk, depth levels below it (1 for a double-indirect root's children, 2
// for a triple-indirect root's children and grandchildren). blk itself
// is left for the caller.
func (img *Image) freeIndirectTree(blk uint32, depth int) error {
	if blk == 0 {
		return nil
	}
	words, err := img.loadIndirect(blk)
	if err != nil {
		return err
	}
	for i := 0; i < words.len(); i++ {
		child := words.get(i)
		if child == 0 {
			continue
		}
		if depth > 1 {
			if err := img.freeIndirectTree(child, depth-1); err != nil {
				return err
			}
		}
		if err := freeBlock(img, child); err != nil {
			return err
		}
	}
	return nil
}

// addToDir implements add2dir: link child into parent under name.
func (img *Image) addToDir(parentIno uint32, parent *Inode, childIno uint32, child *Inode, name string) error {
	if !parent.IsDir() {
		return ErrNotADirectory
	}
	blockSize := img.sb.blockSize()
	if err := validateName(name, blockSize); err != nil {
		return err
	}

	group, _ := img.inodeLocation(parentIno)
	bw := newBlockWalker()
	for {
		blk, end, err := img.walkNext(bw, parent, group, nil, false)
		if err != nil {
			return err
		}
		if end {
			break
		}
		if blk == 0 {
			continue
		}
		h, err := img.getBlock(blk)
		if err != nil {
			return err
		}
		if addEntryToBlock(img.order, h.Value().data, blockSize, childIno, name) {
			h.Value().dirty = true
			h.Release()
			child.LinksCount++
			return nil
		}
		h.Release()
	}

	// no room anywhere: append a fresh block holding just this entry.
	data := make([]byte, blockSize)
	initEmptyDirBlock(img.order, data, blockSize)
	addEntryToBlock(img.order, data, blockSize, childIno, name)
	create := 1
	blk, end, err := img.walkNext(bw, parent, group, &create, false)
	if err != nil {
		return err
	}
	if end || blk == 0 {
		return fmt.Errorf("ext2: could not extend directory: %w", ErrNoFreeBlock)
	}
	if err := img.writeDataBlock(blk, data); err != nil {
		return err
	}
	parent.Size += blockSize
	child.LinksCount++
	return nil
}

// findInDir implements find_dir: linear scan for name in parent's blocks.
func (img *Image) findInDir(parentIno uint32, parent *Inode, name string) (uint32, error) {
	if !parent.IsDir() {
		return 0, ErrNotADirectory
	}
	blockSize := img.sb.blockSize()
	group, _ := img.inodeLocation(parentIno)
	bw := newBlockWalker()
	for {
		blk, end, err := img.walkNext(bw, parent, group, nil, false)
		if err != nil {
			return 0, err
		}
		if end {
			return 0, nil
		}
		if blk == 0 {
			continue
		}
		h, err := img.getBlock(blk)
		if err != nil {
			return 0, err
		}
		ino := findEntryInBlock(img.order, h.Value().data, blockSize, name)
		h.Release()
		if ino != 0 {
			return ino, nil
		}
	}
}

// FindPath resolves a '/'-separated path starting at startIno, mirroring
// find_path: leading slashes reset to the root inode; each component is
// resolved via findInDir; an empty component ends the walk.
func (img *Image) FindPath(startIno uint32, path string) (uint32, error) {
	nod := startIno
	i := 0
	for i < len(path) && path[i] == '/' {
		nod = inoRoot
		i++
	}
	for i < len(path) {
		j := i
		for j < len(path) && path[j] != '/' {
			j++
		}
		comp := path[i:j]
		if comp == "" {
			break
		}
		parent, err := img.getInode(nod)
		if err != nil {
			return 0, err
		}
		next, err := img.findInDir(nod, parent, comp)
		if err != nil {
			return 0, err
		}
		if next == 0 {
			return 0, nil
		}
		nod = next
		for j < len(path) && path[j] == '/' {
			j++
		}
		i = j
	}
	return nod, nil
}

// mknodFs implements mknod_fs: allocate an inode, set its mode/owner/
// time fields, and link it into parent. It does not write file content;
// callers that need content (mklinkFs, mkfileFs) truncate and populate
// the inode afterward.
func (img *Image) mknodFs(parentIno uint32, name string, mode uint16, uid, gid uint16, rdev uint32) (uint32, *Inode, error) {
	parent, err := img.getInode(parentIno)
	if err != nil {
		return 0, nil, err
	}

	ino, err := allocateInode(img)
	if err != nil {
		return 0, nil, err
	}

	if img.cfg.SquashUIDs {
		uid, gid = 0, 0
	}
	if img.cfg.SquashPerms {
		mode &^= 0o077
	}

	n := &Inode{
		Mode:  mode,
		UID:   uid,
		GID:   gid,
		Atime: img.now, Ctime: img.now, Mtime: img.now,
	}

	switch n.fileType() {
	case ModeSymlink:
		n.Mode = ModeSymlink | 0o777
	case ModeChar, ModeBlock:
		n.Block[0] = rdev
	}

	if err := img.addToDir(parentIno, parent, ino, n, name); err != nil {
		return 0, nil, err
	}
	if err := img.putInode(parentIno, parent); err != nil {
		return 0, nil, err
	}
	if err := img.putInode(ino, n); err != nil {
		return 0, nil, err
	}
	return ino, n, nil
}

// mkdirFs implements mkdir_fs: mknod_fs with IFDIR forced into mode,
// followed by the two extra add2dir calls the original makes beyond the
// one mknod_fs already performs to link the new directory into parent:
// "." links the directory to itself, and ".." links it back to parent,
// which is why creating a directory also bumps the parent's own link
// count. The new directory ends with two links (from its entry in
// parent, and from its own "."); nothing else increments its count.
func (img *Image) mkdirFs(parentIno uint32, name string, mode uint16, uid, gid uint16) (uint32, *Inode, error) {
	ino, n, err := img.mknodFs(parentIno, name, ModeDir|(mode&^modeFmt), uid, gid, 0)
	if err != nil {
		return 0, nil, err
	}
	parent, err := img.getInode(parentIno)
	if err != nil {
		return 0, nil, err
	}
	if err := img.addToDir(ino, n, ino, n, "."); err != nil {
		return 0, nil, err
	}
	if err := img.addToDir(ino, n, parentIno, parent, ".."); err != nil {
		return 0, nil, err
	}
	group, _ := img.inodeLocation(ino)
	gd, err := img.groupDesc(group)
	if err != nil {
		return 0, nil, err
	}
	gd.UsedDirsCount++
	if err := img.putInode(parentIno, parent); err != nil {
		return 0, nil, err
	}
	if err := img.putInode(ino, n); err != nil {
		return 0, nil, err
	}
	return ino, n, nil
}

// mklinkFs implements mklink_fs: create a symlink inode and populate its
// target text, storing it inline in Block when short enough. Symlinks are
// never deduplicated as hardlinks.
func (img *Image) mklinkFs(parentIno uint32, name string, target string, uid, gid uint16) (uint32, error) {
	ino, n, err := img.mknodFs(parentIno, name, ModeSymlink, uid, gid, 0)
	if err != nil {
		return 0, err
	}
	if err := img.truncateInode(n); err != nil {
		return 0, err
	}
	n.Size = uint32(len(target))
	if len(target) < 60 {
		setInlineBytes(n, []byte(target))
	} else {
		group, _ := img.inodeLocation(ino)
		bw := newBlockWalker()
		blockSize := int(img.sb.blockSize())
		padded := make([]byte, roundUpSize(len(target), blockSize))
		copy(padded, target)
		if err := img.extendBlocks(bw, n, group, padded, len(padded)/blockSize); err != nil {
			return 0, err
		}
	}
	return ino, img.putInode(ino, n)
}

// setInlineBytes packs data (at most 60 bytes) into Block little-endian,
// the fast-symlink storage form hasRawBlockField also recognizes on
// decode: i_blocks stays 0, so the target text lives directly in the
// inode record instead of through any data block.
func setInlineBytes(n *Inode, data []byte) {
	var raw [60]byte
	copy(raw[:], data)
	for i := 0; i < numBlockPtrs; i++ {
		n.Block[i] = uint32(raw[i*4]) | uint32(raw[i*4+1])<<8 | uint32(raw[i*4+2])<<16 | uint32(raw[i*4+3])<<24
	}
}

func roundUpSize(n, unit int) int { return (n + unit - 1) / unit * unit }

// mkfileFs implements mkfile_fs: create a regular file inode and stream
// reader into it in 16-block chunks, tracking the true 64-bit size and
// upgrading the image to LARGE_FILE if it crosses 2^31-1 bytes.
func (img *Image) mkfileFs(parentIno uint32, name string, mode uint16, uid, gid uint16, r io.Reader) (uint32, error) {
	ino, n, err := img.mknodFs(parentIno, name, ModeRegular|(mode&^modeFmt), uid, gid, 0)
	if err != nil {
		return 0, err
	}
	if err := img.truncateInode(n); err != nil {
		return 0, err
	}

	blockSize := int(img.sb.blockSize())
	const chunkBlocks = 16
	buf := make([]byte, chunkBlocks*blockSize)
	group, _ := img.inodeLocation(ino)
	bw := newBlockWalker()

	var total uint64
	for {
		nread, rerr := io.ReadFull(r, buf)
		if nread > 0 {
			nblocks := (nread + blockSize - 1) / blockSize
			padded := buf[:nblocks*blockSize]
			for i := nread; i < len(padded); i++ {
				padded[i] = 0
			}
			if err := img.extendBlocks(bw, n, group, padded, nblocks); err != nil {
				return 0, err
			}
			total += uint64(nread)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return 0, rerr
		}
	}

	n.setSize64(total)
	if total > (1<<31 - 1) {
		img.sb.upgradeToLargeFile()
	}
	return ino, img.putInode(ino, n)
}

// setInodeTimes overwrites an inode's atime/ctime/mtime, used by ingest
// to carry a source file's own mtime into the image when no fixed
// timestamp was configured.
func (img *Image) setInodeTimes(ino uint32, t uint32) error {
	n, err := img.getInode(ino)
	if err != nil {
		return err
	}
	n.Atime, n.Ctime, n.Mtime = t, t, t
	return img.putInode(ino, n)
}

// chmodFs implements chmod_fs: preserve the file-type bits of Mode,
// overwrite the permission bits and owner.
func (img *Image) chmodFs(ino uint32, mode uint16, uid, gid uint16) error {
	n, err := img.getInode(ino)
	if err != nil {
		return err
	}
	n.Mode = n.fileType() | (mode &^ modeFmt)
	n.UID, n.GID = uid, gid
	return img.putInode(ino, n)
}

// initRoot builds the root directory during NewImage. Root is its own
// parent, so both the "." and ".." add2dir calls mkdirFs would otherwise
// make land on the same inode; it is built directly instead, ending with
// the same two links mkdirFs gives every other directory.
func (img *Image) initRoot() error {
	n := &Inode{
		Mode:  ModeDir | 0o755,
		Atime: img.now, Ctime: img.now, Mtime: img.now,
	}
	// allocateInode never hands out inoRoot: initBitmaps premarks group 0's
	// reserved inodes (including inoRoot), and the root inode number is
	// fixed by the format, so it is written directly instead.
	if err := img.addToDir(inoRoot, n, inoRoot, n, "."); err != nil {
		return err
	}
	if err := img.addToDir(inoRoot, n, inoRoot, n, ".."); err != nil {
		return err
	}
	img.groups[0].UsedDirsCount++
	return img.putInode(inoRoot, n)
}

// initLostAndFound creates the reserved lost+found directory and
// pre-grows it to 16 blocks, matching genext2fs's own behavior for a
// nonzero reserved-block count.
func (img *Image) initLostAndFound() error {
	ino, n, err := img.mkdirFs(inoRoot, "lost+found", 0o700, 0, 0)
	if err != nil {
		return err
	}
	blockSize := int(img.sb.blockSize())
	group, _ := img.inodeLocation(ino)
	bw := newBlockWalker()
	// Position the walker just past logical block 0, which already holds
	// "." and ".." from mkdirFs: level 0, idx[0] 0, so the next call
	// advances to direct slot 1 instead of revisiting slot 0.
	bw.level = 0
	bw.idx[0] = 0
	bw.bnum = 1
	data := make([]byte, blockSize)
	initEmptyDirBlock(img.order, data, uint32(blockSize))
	for i := 0; i < 15; i++ {
		create := 1
		blk, end, err := img.walkNext(bw, n, group, &create, false)
		if err != nil {
			return err
		}
		if end || blk == 0 {
			break
		}
		if err := img.writeDataBlock(blk, data); err != nil {
			return err
		}
	}
	n.Size = uint32(blockSize) * 16
	return img.putInode(ino, n)
}
