package ext2_test

import (
	"io"
	"testing"

	ext2 "github.com/go-ext2/genext2fs"
)

// markerReader streams deterministic all-zero content of a fixed length,
// except for single non-zero marker bytes at specific absolute offsets,
// without holding the whole content in memory.
type markerReader struct {
	size    int64
	pos     int64
	markers map[int64]byte
}

func (r *markerReader) Read(p []byte) (int, error) {
	if r.pos >= r.size {
		return 0, io.EOF
	}
	n := int64(len(p))
	if r.pos+n > r.size {
		n = r.size - r.pos
	}
	for i := int64(0); i < n; i++ {
		p[i] = r.markers[r.pos+i] // zero value when no marker is set
	}
	r.pos += n
	return int(n), nil
}

// TestBlockTreeIndirectionBoundaries writes a file whose content spans
// the entire single-indirect region and the entire double-indirect
// region, landing its last byte in the first block reachable only
// through the triple-indirect tree. Holes cover everything except three
// marker blocks so the file streams and allocates quickly while still
// forcing the walker through every level transition along the way.
func TestBlockTreeIndirectionBoundaries(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path,
		ext2.WithBlockCount(8192), ext2.WithInodes(64),
		ext2.WithReservedBlocks(0), ext2.WithHoles(true))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}

	const blockSize = 1024
	const ppb = blockSize / 4 // block pointers per indirect block
	const nDirect = 12
	lastSingleIndirect := nDirect + ppb - 1      // last block reachable through the single indirect block
	firstDoubleIndirect := nDirect + ppb         // first block reachable through the double indirect tree
	firstTripleIndirect := nDirect + ppb + ppb*ppb // first block reachable through the triple indirect tree

	totalBlocks := int64(firstTripleIndirect) + 1
	size := totalBlocks * blockSize

	const marker = byte(0xaa)
	markers := map[int64]byte{
		int64(lastSingleIndirect) * blockSize:  marker,
		int64(firstDoubleIndirect) * blockSize: marker,
		int64(firstTripleIndirect) * blockSize: marker,
	}
	r := &markerReader{size: size, markers: markers}

	st := ext2.Stat{Mode: ext2.ModeRegular | 0o644}
	ino, err := img.AddEntry("/", "sparse", st, "", r)
	if err != nil {
		t.Fatalf("AddEntry: %s", err)
	}

	info, err := img.Stat(ino)
	if err != nil {
		t.Fatalf("Stat: %s", err)
	}
	if info.Size != uint64(size) {
		t.Fatalf("Size = %d, want %d", info.Size, size)
	}

	blocks, err := img.DataBlocks(ino)
	if err != nil {
		t.Fatalf("DataBlocks: %s", err)
	}
	if len(blocks) != int(totalBlocks) {
		t.Fatalf("DataBlocks returned %d entries, want %d", len(blocks), totalBlocks)
	}

	checkMarker := func(name string, pos int) {
		t.Helper()
		blk := blocks[pos]
		if blk == 0 {
			t.Fatalf("%s (logical block %d) is a hole, want a real block carrying the marker byte", name, pos)
		}
		data, err := img.ReadBlock(blk)
		if err != nil {
			t.Fatalf("ReadBlock(%s): %s", name, err)
		}
		if data[0] != marker {
			t.Errorf("%s content[0] = %#x, want %#x", name, data[0], marker)
		}
	}
	checkMarker("last single-indirect block", lastSingleIndirect)
	checkMarker("first double-indirect block", firstDoubleIndirect)
	checkMarker("first triple-indirect block", firstTripleIndirect)

	if blocks[500] != 0 {
		t.Errorf("logical block 500 = %d, want 0 (hole, interior of the double-indirect region)", blocks[500])
	}

	// i_blocks accounts for the 3 real data blocks above plus every
	// indirection block entered while reaching the triple-indirect
	// boundary: 1 (single-indirect root) + 2 (double-indirect root and
	// its first child) + 255 (one new child per later double-indirect
	// column) + 3 (triple-indirect root, its first double-indirect
	// child, and that child's first indirect grandchild) = 261
	// structural blocks.
	wantDataBlocks := uint32(3 + 1 + 2 + 255 + 3)
	wantSectors := wantDataBlocks * (blockSize / 512)
	if info.Blocks != wantSectors {
		t.Errorf("Blocks = %d, want %d", info.Blocks, wantSectors)
	}
}
