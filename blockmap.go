package ext2

import (
	"fmt"
	"io"
)

// WriteBlockMap writes the block-map diagnostic line for the file at
// path to w: "<size>:<blk1> <blk2> ...\n", one space-prefixed block number
// per data block in logical order (including holes as 0), matching the
// original's flist_blocks/"-g path" output, generalized to walk the full
// direct/indirect/double-indirect/triple-indirect tree rather than only
// direct blocks.
func (img *Image) WriteBlockMap(w io.Writer, path string) error {
	ino, err := img.FindPath(inoRoot, path)
	if err != nil {
		return err
	}
	if ino == 0 {
		return fmt.Errorf("ext2: path %q not found", path)
	}
	n, err := img.getInode(ino)
	if err != nil {
		return err
	}
	blocks, err := img.inodeBlocksOrZero(n)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%d:", n.size64()); err != nil {
		return err
	}
	for _, blk := range blocks {
		if _, err := fmt.Fprintf(w, " %d", blk); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(w)
	return err
}
