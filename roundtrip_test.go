package ext2_test

import (
	"bytes"
	"os"
	"testing"

	ext2 "github.com/go-ext2/genext2fs"
)

// TestFreeCountInvariants checks that after a build that allocates a
// directory, a file with an indirect block and a symlink, the superblock
// free counters still equal the sums of the per-group descriptor counters.
func TestFreeCountInvariants(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path, ext2.WithBlockCount(1024), ext2.WithInodes(64), ext2.WithReservedBlocks(8))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}

	if _, err := img.AddEntry("/", "dir", ext2.Stat{Mode: ext2.ModeDir | 0o755}, "", nil); err != nil {
		t.Fatalf("AddEntry(dir): %s", err)
	}
	content := bytes.Repeat([]byte{0x42}, 13*1024+1)
	if _, err := img.AddEntry("/dir", "file", ext2.Stat{Mode: ext2.ModeRegular | 0o644}, "", bytes.NewReader(content)); err != nil {
		t.Fatalf("AddEntry(file): %s", err)
	}
	if _, err := img.AddEntry("/", "link", ext2.Stat{Mode: ext2.ModeSymlink | 0o777}, "/dir/file", nil); err != nil {
		t.Fatalf("AddEntry(link): %s", err)
	}

	sum := img.Summarize()
	var freeBlocks, freeInodes uint32
	for _, g := range img.GroupInfos() {
		freeBlocks += uint32(g.FreeBlocksCount)
		freeInodes += uint32(g.FreeInodesCount)
	}
	if freeBlocks != sum.FreeBlocksCount {
		t.Errorf("sum of group free blocks = %d, superblock says %d", freeBlocks, sum.FreeBlocksCount)
	}
	if freeInodes != sum.FreeInodesCount {
		t.Errorf("sum of group free inodes = %d, superblock says %d", freeInodes, sum.FreeInodesCount)
	}
}

// TestMultiGroupImage builds an image large enough to need several block
// groups and checks the layout holds together: the group count, the
// counter sums, and a file surviving a finalize/reopen cycle.
func TestMultiGroupImage(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path,
		ext2.WithBlockCount(20000), ext2.WithInodes(3000), ext2.WithReservedBlocks(0),
		ext2.WithTimestamp(1700000000))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}

	sum := img.Summarize()
	if sum.Groups < 2 {
		t.Fatalf("Groups = %d, want at least 2 for 20000 blocks", sum.Groups)
	}

	content := bytes.Repeat([]byte{0x7e}, 3*1024)
	ino, err := img.AddEntry("/", "f", ext2.Stat{Mode: ext2.ModeRegular | 0o644}, "", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("AddEntry: %s", err)
	}

	var freeBlocks, freeInodes uint32
	for _, g := range img.GroupInfos() {
		freeBlocks += uint32(g.FreeBlocksCount)
		freeInodes += uint32(g.FreeInodesCount)
	}
	sum = img.Summarize()
	if freeBlocks != sum.FreeBlocksCount {
		t.Errorf("sum of group free blocks = %d, superblock says %d", freeBlocks, sum.FreeBlocksCount)
	}
	if freeInodes != sum.FreeInodesCount {
		t.Errorf("sum of group free inodes = %d, superblock says %d", freeInodes, sum.FreeInodesCount)
	}

	if err := img.Finalize(); err != nil {
		t.Fatalf("Finalize: %s", err)
	}
	if err := img.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	reopened, err := ext2.OpenImage(path)
	if err != nil {
		t.Fatalf("OpenImage: %s", err)
	}
	defer reopened.Close()
	got, err := reopened.ReadFile(ino)
	if err != nil {
		t.Fatalf("ReadFile: %s", err)
	}
	if !bytes.Equal(got, content) {
		t.Error("content mismatch after multi-group finalize/reopen")
	}
}

// TestFinalizeLoadFinalizeIdempotent finalizes an image, reopens it, and
// finalizes again without changes: the second pass must produce the same
// bytes as the first.
func TestFinalizeLoadFinalizeIdempotent(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path,
		ext2.WithBlockCount(256), ext2.WithInodes(32), ext2.WithReservedBlocks(4),
		ext2.WithTimestamp(1700000000))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}
	st := ext2.Stat{Mode: ext2.ModeRegular | 0o644}
	if _, err := img.AddEntry("/", "f", st, "", bytes.NewReader([]byte("stable content"))); err != nil {
		t.Fatalf("AddEntry: %s", err)
	}
	if err := img.Finalize(); err != nil {
		t.Fatalf("Finalize: %s", err)
	}
	if err := img.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(image): %s", err)
	}

	reopened, err := ext2.OpenImage(path)
	if err != nil {
		t.Fatalf("OpenImage: %s", err)
	}
	if err := reopened.Finalize(); err != nil {
		t.Fatalf("Finalize (reopened): %s", err)
	}
	if err := reopened.Close(); err != nil {
		t.Fatalf("Close (reopened): %s", err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(image, second): %s", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("image bytes changed across a load/finalize cycle with no modifications")
	}
}

// TestHolesContentEquivalence writes the same sparse content into one
// image with holes enabled and one without: the content read back must be
// identical, while the hole-enabled copy uses strictly fewer sectors.
func TestHolesContentEquivalence(t *testing.T) {
	const size = int64(40 * 1024)
	markers := map[int64]byte{0: 0x11, 20 * 1024: 0x22, size - 1: 0x33}

	build := func(holes bool) (content []byte, sectors uint32) {
		t.Helper()
		path := tempImagePath(t)
		img, err := ext2.NewImage(path,
			ext2.WithBlockCount(256), ext2.WithInodes(32),
			ext2.WithReservedBlocks(0), ext2.WithHoles(holes))
		if err != nil {
			t.Fatalf("NewImage(holes=%v): %s", holes, err)
		}
		st := ext2.Stat{Mode: ext2.ModeRegular | 0o644}
		ino, err := img.AddEntry("/", "sparse", st, "", &markerReader{size: size, markers: markers})
		if err != nil {
			t.Fatalf("AddEntry(holes=%v): %s", holes, err)
		}
		data, err := img.ReadFile(ino)
		if err != nil {
			t.Fatalf("ReadFile(holes=%v): %s", holes, err)
		}
		info, err := img.Stat(ino)
		if err != nil {
			t.Fatalf("Stat(holes=%v): %s", holes, err)
		}
		return data, info.Blocks
	}

	withHoles, holeSectors := build(true)
	without, fullSectors := build(false)

	if !bytes.Equal(withHoles, without) {
		t.Error("content differs between holes=true and holes=false builds")
	}
	if holeSectors >= fullSectors {
		t.Errorf("holes=true used %d sectors, holes=false used %d; want strictly fewer", holeSectors, fullSectors)
	}
}
