package ext2

import "encoding/binary"

// wordView is a byte-order-aware view over a raw block's bytes,
// addressed as an array of uint32 block pointers. Reads and writes go
// straight through to the backing byte slice (typically a cached raw
// block's own data), so there is no separate decoded copy to keep in
// sync: mutating a word through this view mutates the block directly.
type wordView struct {
	data  []byte
	order binary.ByteOrder
}

func (w wordView) len() int          { return len(w.data) / 4 }
func (w wordView) get(i int) uint32   { return w.order.Uint32(w.data[i*4:]) }
func (w wordView) set(i int, v uint32) { w.order.PutUint32(w.data[i*4:], v) }

// blockWalker holds the state of one stateful pass over an inode's block
// tree: a cursor that advances one data-block index at a time across the
// direct pointers, then the indirect, double-indirect, and (unlike the
// original, which refuses to support it) triple-indirect regions. It
// replaces the original's nested-pointer recursion with an explicit
// level/index stack: each non-direct level keeps its own position
// instead of recomputing it from a chain of live pointers.
type blockWalker struct {
	// bnum is the running count of blocks consumed so far: one for each
	// data block returned plus one for each indirection block (indirect,
	// double-indirect, triple-indirect) entered along the way, since
	// i_blocks must account for both.
	bnum uint32

	// level is -1 before the first call, 0 while iterating direct
	// pointers, and 1/2/3 inside indirect/double-indirect/triple-indirect.
	level int

	// idx[0..2] index successively deeper levels of the current region.
	idx [3]int
}

func newBlockWalker() *blockWalker {
	return &blockWalker{level: -1}
}

func ptrsPerBlock(blockSize uint32) int { return int(blockSize / 4) }

// blockRef is a pointer-sized slot somewhere in the block tree: either
// one of Inode.Block's 15 entries, or one word inside an indirect block
// reached through wordView.
type blockRef struct {
	inodeSlot *uint32
	words     wordView
	at        int
}

func (r *blockRef) get() uint32 {
	if r.inodeSlot != nil {
		return *r.inodeSlot
	}
	return r.words.get(r.at)
}

func (r *blockRef) set(v uint32) {
	if r.inodeSlot != nil {
		*r.inodeSlot = v
		return
	}
	r.words.set(r.at, v)
}

// indirectSource is the narrow surface the walker needs from the image:
// load the word view of an existing indirect block, or allocate a fresh
// zero-filled one and report its block number.
type indirectSource interface {
	loadIndirect(blk uint32) (wordView, error)
	allocIndirect() (uint32, wordView, error)
}

// enter loads (allocating if extend and currently zero) the indirect
// block referenced from *slot, returning its word view and number.
func enter(slot *uint32, extend bool, src indirectSource) (wordView, uint32, error) {
	if extend && *slot == 0 {
		nb, words, err := src.allocIndirect()
		if err != nil {
			return wordView{}, 0, err
		}
		*slot = nb
		return words, nb, nil
	}
	words, err := src.loadIndirect(*slot)
	return words, *slot, err
}

// next advances bw by one logical block and returns the slot holding its
// block-pointer. When extend is true and the walker has run off the
// previously allocated tree, new indirect blocks are allocated as
// needed. blockSize determines how many pointers one indirect block
// holds and therefore how the tree's regions are sized. Mirrors walk_bw,
// generalized with a working triple-indirect branch.
func (bw *blockWalker) next(inode *Inode, blockSize uint32, extend bool, src indirectSource) (*blockRef, error) {
	ppb := ptrsPerBlock(blockSize)

	switch {
	case bw.level == -1:
		bw.level = 0
		bw.idx[0] = 0
		return &blockRef{inodeSlot: &inode.Block[0]}, nil

	case bw.level == 0 && bw.idx[0] < NDirBlocks-1:
		bw.idx[0]++
		return &blockRef{inodeSlot: &inode.Block[bw.idx[0]]}, nil

	case bw.level == 0:
		bw.level = 1
		bw.idx[0] = 0
		bw.bnum++ // the indirect block itself occupies a slot
		words, _, err := enter(&inode.Block[indIndex], extend, src)
		if err != nil {
			return nil, err
		}
		return &blockRef{words: words, at: 0}, nil

	case bw.level == 1 && bw.idx[0] < ppb-1:
		bw.idx[0]++
		words, err := src.loadIndirect(inode.Block[indIndex])
		if err != nil {
			return nil, err
		}
		return &blockRef{words: words, at: bw.idx[0]}, nil

	case bw.level == 1:
		bw.level = 2
		bw.idx[0], bw.idx[1] = 0, 0
		bw.bnum += 2 // the double-indirect block and its first child
		dind, _, err := enter(&inode.Block[dindIndex], extend, src)
		if err != nil {
			return nil, err
		}
		return bw.descend(dind, 0, extend, src)

	case bw.level == 2 && bw.idx[1] < ppb-1:
		bw.idx[1]++
		dind, err := src.loadIndirect(inode.Block[dindIndex])
		if err != nil {
			return nil, err
		}
		inner, err := src.loadIndirect(dind.get(bw.idx[0]))
		if err != nil {
			return nil, err
		}
		return &blockRef{words: inner, at: bw.idx[1]}, nil

	case bw.level == 2 && bw.idx[0] < ppb-1:
		bw.idx[0]++
		bw.idx[1] = 0
		bw.bnum++ // new child indirect block under the double-indirect root
		dind, err := src.loadIndirect(inode.Block[dindIndex])
		if err != nil {
			return nil, err
		}
		return bw.descend(dind, bw.idx[0], extend, src)

	case bw.level == 2:
		bw.level = 3
		bw.idx[0], bw.idx[1], bw.idx[2] = 0, 0, 0
		// the triple-indirect block, its first double-indirect child, and
		// that child's first indirect grandchild
		bw.bnum += 3
		tind, _, err := enter(&inode.Block[tindIndex], extend, src)
		if err != nil {
			return nil, err
		}
		return bw.descend2(tind, 0, 0, extend, src)

	case bw.level == 3 && bw.idx[2] < ppb-1:
		bw.idx[2]++
		return bw.reresolve(inode, extend, src)

	case bw.level == 3 && bw.idx[1] < ppb-1:
		bw.idx[1]++
		bw.idx[2] = 0
		bw.bnum++ // new indirect grandchild under the current double-indirect child
		return bw.reresolve(inode, extend, src)

	case bw.level == 3 && bw.idx[0] < ppb-1:
		bw.idx[0]++
		bw.idx[1], bw.idx[2] = 0, 0
		bw.bnum += 2 // new double-indirect child and its first indirect grandchild
		return bw.reresolve(inode, extend, src)

	default:
		return nil, ErrWalkOverflow
	}
}

// descend resolves one level into a double-indirect tree: dind is the
// already-entered outer indirect block, mid selects which inner indirect
// block to enter (allocating it if extend and empty), and the returned
// slot is always at position 0 of that inner block (used when first
// arriving at a new mid index).
func (bw *blockWalker) descend(dind wordView, mid int, extend bool, src indirectSource) (*blockRef, error) {
	inner, err := enterWord(dind, mid, extend, src)
	if err != nil {
		return nil, err
	}
	return &blockRef{words: inner, at: 0}, nil
}

// descend2 resolves two levels into a triple-indirect tree starting from
// an already-entered top-level indirect block tind, at (top, mid).
func (bw *blockWalker) descend2(tind wordView, top, mid int, extend bool, src indirectSource) (*blockRef, error) {
	dind, err := enterWord(tind, top, extend, src)
	if err != nil {
		return nil, err
	}
	inner, err := enterWord(dind, mid, extend, src)
	if err != nil {
		return nil, err
	}
	return &blockRef{words: inner, at: 0}, nil
}

// reresolve re-walks the current idx[0..2] position from the inode's
// triple-indirect root, used whenever idx[2] (or a higher level that
// resets it) advances within an already-entered tree.
func (bw *blockWalker) reresolve(inode *Inode, extend bool, src indirectSource) (*blockRef, error) {
	tind, err := src.loadIndirect(inode.Block[tindIndex])
	if err != nil {
		return nil, err
	}
	dind, err := enterWord(tind, bw.idx[0], extend, src)
	if err != nil {
		return nil, err
	}
	inner, err := enterWord(dind, bw.idx[1], extend, src)
	if err != nil {
		return nil, err
	}
	return &blockRef{words: inner, at: bw.idx[2]}, nil
}

// enterWord is enter, but the slot lives at word i of an already-loaded
// indirect block's view instead of directly in the inode.
func enterWord(parent wordView, i int, extend bool, src indirectSource) (wordView, error) {
	blk := parent.get(i)
	if extend && blk == 0 {
		nb, words, err := src.allocIndirect()
		if err != nil {
			return wordView{}, err
		}
		parent.set(i, nb)
		return words, nil
	}
	return src.loadIndirect(blk)
}
