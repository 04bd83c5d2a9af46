package ext2

import "log"

// groupAccessor is the narrow surface the allocator needs over an
// image's groups: fetch a group's bitmap and descriptor, and the
// superblock-level free counters it must also keep in step with
// whichever group it touches.
type groupAccessor interface {
	groupCount() uint32
	blockBitmap(g uint32) (bitmap, error)
	inodeBitmap(g uint32) (bitmap, error)
	groupDesc(g uint32) (*GroupDescriptor, error)
	superblock() *Superblock
}

// allocateBlock reserves one free block, preferring group preferGroup
// (typically the group the owning inode already lives in) and falling
// back to a linear scan of every other group. The returned block number
// is already translated out of the group-local bit index.
func allocateBlock(img groupAccessor, preferGroup uint32) (uint32, error) {
	sb := img.superblock()
	groups := img.groupCount()

	try := func(g uint32) (uint32, error) {
		bm, err := img.blockBitmap(g)
		if err != nil {
			return 0, err
		}
		gd, err := img.groupDesc(g)
		if err != nil {
			return 0, err
		}
		bit := bm.allocateFirstFree(sb.BlocksPerGroup)
		if bit == 0 {
			return 0, nil
		}
		gd.FreeBlocksCount--
		sb.FreeBlocksCount--
		return sb.FirstDataBlock + g*sb.BlocksPerGroup + (bit - 1), nil
	}

	if blk, err := try(preferGroup); err != nil {
		return 0, err
	} else if blk != 0 {
		return blk, nil
	}
	for g := uint32(0); g < groups; g++ {
		if g == preferGroup {
			continue
		}
		if blk, err := try(g); err != nil {
			return 0, err
		} else if blk != 0 {
			return blk, nil
		}
	}
	return 0, ErrNoFreeBlock
}

// freeBlock releases blk, the reverse of allocateBlock's translation.
func freeBlock(img groupAccessor, blk uint32) error {
	sb := img.superblock()
	if sb.BlocksPerGroup == 0 {
		return ErrBlockOutOfRange
	}
	rel := blk - sb.FirstDataBlock
	g := rel / sb.BlocksPerGroup
	bit := rel%sb.BlocksPerGroup + 1

	bm, err := img.blockBitmap(g)
	if err != nil {
		return err
	}
	gd, err := img.groupDesc(g)
	if err != nil {
		return err
	}
	bm.clear(bit)
	gd.FreeBlocksCount++
	sb.FreeBlocksCount++
	return nil
}

// allocateInode picks a group by an average-free-inodes heuristic: among
// groups with at least the average number of free inodes, prefer the one
// with the most free blocks (ties keep the earlier group); if no group
// meets the average, fall back to any group with a free inode.
func allocateInode(img groupAccessor) (uint32, error) {
	sb := img.superblock()
	groups := img.groupCount()
	if groups == 0 {
		return 0, ErrNoFreeInode
	}
	ave := sb.FreeInodesCount / groups

	best := int32(-1)
	var bestFreeBlocks uint16
	for g := uint32(0); g < groups; g++ {
		gd, err := img.groupDesc(g)
		if err != nil {
			return 0, err
		}
		if uint32(gd.FreeInodesCount) >= ave && gd.FreeInodesCount > 0 {
			if best == -1 || gd.FreeBlocksCount > bestFreeBlocks {
				best = int32(g)
				bestFreeBlocks = gd.FreeBlocksCount
			}
		}
	}
	if best == -1 {
		log.Printf("ext2: no group has >= %d free inodes, falling back to first group with any free inode", ave)
		for g := uint32(0); g < groups; g++ {
			gd, err := img.groupDesc(g)
			if err != nil {
				return 0, err
			}
			if gd.FreeInodesCount > 0 {
				best = int32(g)
				break
			}
		}
	}
	if best == -1 {
		return 0, ErrNoFreeInode
	}
	g := uint32(best)

	bm, err := img.inodeBitmap(g)
	if err != nil {
		return 0, err
	}
	gd, err := img.groupDesc(g)
	if err != nil {
		return 0, err
	}
	bit := bm.allocateFirstFree(sb.InodesPerGroup)
	if bit == 0 {
		return 0, ErrNoFreeInode
	}
	gd.FreeInodesCount--
	sb.FreeInodesCount--
	return sb.InodesPerGroup*g + bit, nil
}
