package ext2_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	ext2 "github.com/go-ext2/genext2fs"
)

func tempImagePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "image.ext2")
}

func TestNewImageEmptyRoot(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path, ext2.WithBlockCount(64), ext2.WithInodes(16), ext2.WithReservedBlocks(0))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}

	sum := img.Summarize()
	if sum.Magic != 0xEF53 {
		t.Errorf("Magic = %#x, want 0xEF53", sum.Magic)
	}
	if sum.BlockSize != 1024 {
		t.Errorf("BlockSize = %d, want 1024", sum.BlockSize)
	}

	root, err := img.FindPath(0, "/")
	if err != nil {
		t.Fatalf("FindPath(/): %s", err)
	}
	if root != 2 {
		t.Errorf("root inode = %d, want 2", root)
	}

	entries, err := img.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir(root): %s", err)
	}
	if len(entries) != 0 {
		t.Errorf("fresh root has %d entries, want 0 (. and .. are skipped)", len(entries))
	}

	if err := img.Finalize(); err != nil {
		t.Fatalf("Finalize: %s", err)
	}
	if err := img.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}
}

func TestAddRegularFileHello(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path, ext2.WithBlockCount(64), ext2.WithInodes(16), ext2.WithReservedBlocks(0))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}

	st := ext2.Stat{Mode: ext2.ModeRegular | 0o644}
	ino, err := img.AddEntry("/", "hello", st, "", bytes.NewReader([]byte("hi")))
	if err != nil {
		t.Fatalf("AddEntry: %s", err)
	}

	found, err := img.FindPath(0, "/hello")
	if err != nil {
		t.Fatalf("FindPath(/hello): %s", err)
	}
	if found != ino {
		t.Errorf("FindPath returned %d, want %d", found, ino)
	}

	info, err := img.Stat(ino)
	if err != nil {
		t.Fatalf("Stat: %s", err)
	}
	if info.Size != 2 {
		t.Errorf("Size = %d, want 2", info.Size)
	}
	if info.Blocks != 2 {
		t.Errorf("Blocks = %d, want 2 (one 1024-byte data block = 2 sectors)", info.Blocks)
	}

	blk, err := img.ReadBlock(mustOneBlock(t, img, ino))
	if err != nil {
		t.Fatalf("ReadBlock: %s", err)
	}
	if len(blk) != 1024 {
		t.Fatalf("block length = %d, want 1024", len(blk))
	}
	if string(blk[:2]) != "hi" {
		t.Errorf("block content = %q, want \"hi\"", blk[:2])
	}
	for i, b := range blk[2:] {
		if b != 0 {
			t.Fatalf("block byte %d = %#x, want zero padding", i+2, b)
		}
	}

	content, err := img.ReadFile(ino)
	if err != nil {
		t.Fatalf("ReadFile: %s", err)
	}
	if string(content) != "hi" {
		t.Errorf("ReadFile = %q, want \"hi\"", content)
	}
}

func mustOneBlock(t *testing.T, img *ext2.Image, ino uint32) uint32 {
	t.Helper()
	blocks, err := img.DataBlocks(ino)
	if err != nil {
		t.Fatalf("DataBlocks: %s", err)
	}
	if len(blocks) != 1 {
		t.Fatalf("DataBlocks returned %d entries, want 1", len(blocks))
	}
	return blocks[0]
}

// TestManySmallFilesAccounting builds thirteen files that each need exactly
// one indirect block plus one indirect-held data block beyond their twelve
// direct blocks, and checks the free-block count drops by exactly what that
// costs: 12 direct + 1 indirect root + 1 data block per file.
func TestManySmallFilesAccounting(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path, ext2.WithBlockCount(2000), ext2.WithInodes(128), ext2.WithReservedBlocks(0))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}

	before := img.Summarize().FreeBlocksCount
	const perFile = 12*1024 + 1
	const nFiles = 13
	content := bytes.Repeat([]byte{0x5a}, perFile)

	var last uint32
	for i := 0; i < nFiles; i++ {
		name := string(rune('a'+i)) + "file"
		st := ext2.Stat{Mode: ext2.ModeRegular | 0o644}
		ino, err := img.AddEntry("/", name, st, "", bytes.NewReader(content))
		if err != nil {
			t.Fatalf("AddEntry(%s): %s", name, err)
		}
		last = ino
	}

	info, err := img.Stat(last)
	if err != nil {
		t.Fatalf("Stat: %s", err)
	}
	if info.Size != perFile {
		t.Errorf("Size = %d, want %d", info.Size, perFile)
	}
	// 12 direct data blocks + 1 indirect block + 1 data block referenced
	// through it, expressed as 512-byte sectors.
	wantBlocks := uint32(14 * 2)
	if info.Blocks != wantBlocks {
		t.Errorf("Blocks = %d, want %d", info.Blocks, wantBlocks)
	}

	after := img.Summarize().FreeBlocksCount
	wantDrop := uint32(nFiles * 14)
	if before-after != wantDrop {
		t.Errorf("free blocks dropped by %d, want %d", before-after, wantDrop)
	}
}

func TestSymlinkInlineAndBlockBacked(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path, ext2.WithBlockCount(128), ext2.WithInodes(32), ext2.WithReservedBlocks(0))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}

	small := string(bytes.Repeat([]byte{'a'}, 59))
	stSmall := ext2.Stat{Mode: ext2.ModeSymlink | 0o777}
	smallIno, err := img.AddEntry("/", "small", stSmall, small, nil)
	if err != nil {
		t.Fatalf("AddEntry(small): %s", err)
	}
	smallInfo, err := img.Stat(smallIno)
	if err != nil {
		t.Fatalf("Stat(small): %s", err)
	}
	if smallInfo.Blocks != 0 {
		t.Errorf("small symlink Blocks = %d, want 0 (inline)", smallInfo.Blocks)
	}
	target, err := img.ReadLink(smallIno)
	if err != nil {
		t.Fatalf("ReadLink(small): %s", err)
	}
	if target != small {
		t.Errorf("ReadLink(small) = %q, want %q", target, small)
	}

	big := string(bytes.Repeat([]byte{'b'}, 4097))
	stBig := ext2.Stat{Mode: ext2.ModeSymlink | 0o777}
	bigIno, err := img.AddEntry("/", "big", stBig, big, nil)
	if err != nil {
		t.Fatalf("AddEntry(big): %s", err)
	}
	bigInfo, err := img.Stat(bigIno)
	if err != nil {
		t.Fatalf("Stat(big): %s", err)
	}
	if bigInfo.Blocks == 0 {
		t.Errorf("big symlink Blocks = 0, want nonzero (block-backed)")
	}
	bigTarget, err := img.ReadLink(bigIno)
	if err != nil {
		t.Fatalf("ReadLink(big): %s", err)
	}
	if bigTarget != big {
		t.Errorf("ReadLink(big) mismatch: got %d bytes, want %d", len(bigTarget), len(big))
	}
}

func TestDeviceTableCharDevice(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path, ext2.WithBlockCount(64), ext2.WithInodes(16), ext2.WithReservedBlocks(0))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}

	if _, err := img.AddEntry("/", "dev", ext2.Stat{Mode: ext2.ModeDir | 0o755}, "", nil); err != nil {
		t.Fatalf("AddEntry(dev): %s", err)
	}

	rdev := ext2.WithRdev(1, 3) // major 1, minor 3: /dev/null
	if err := img.ApplyDeviceTableEntry("/dev/null", ext2.ModeChar|0o666, 0, 0, rdev); err != nil {
		t.Fatalf("ApplyDeviceTableEntry: %s", err)
	}

	ino, err := img.FindPath(0, "/dev/null")
	if err != nil {
		t.Fatalf("FindPath(/dev/null): %s", err)
	}
	if ino == 0 {
		t.Fatal("/dev/null not found")
	}
	info, err := img.Stat(ino)
	if err != nil {
		t.Fatalf("Stat: %s", err)
	}
	if info.Mode&ext2.ModeChar == 0 {
		t.Errorf("Mode = %#x, want ModeChar bit set", info.Mode)
	}
	if info.Major != 1 || info.Minor != 3 {
		t.Errorf("major/minor = %d/%d, want 1/3", info.Major, info.Minor)
	}
}

func TestHardlinkDedup(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path, ext2.WithBlockCount(64), ext2.WithInodes(16), ext2.WithReservedBlocks(0))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}

	st := ext2.Stat{Mode: ext2.ModeRegular | 0o644, Nlink: 2, Dev: 7, Ino: 42}
	ino1, err := img.AddEntry("/", "one", st, "", bytes.NewReader([]byte("x")))
	if err != nil {
		t.Fatalf("AddEntry(one): %s", err)
	}
	ino2, err := img.AddEntry("/", "two", st, "", bytes.NewReader([]byte("x")))
	if err != nil {
		t.Fatalf("AddEntry(two): %s", err)
	}
	if ino1 != ino2 {
		t.Fatalf("hardlinked entries resolved to different inodes: %d vs %d", ino1, ino2)
	}

	info, err := img.Stat(ino1)
	if err != nil {
		t.Fatalf("Stat: %s", err)
	}
	if info.LinksCount != 2 {
		t.Errorf("LinksCount = %d, want 2", info.LinksCount)
	}

	entries, err := img.ReadDir(2)
	if err != nil {
		t.Fatalf("ReadDir(root): %s", err)
	}
	if len(entries) != 2 {
		t.Fatalf("root has %d entries, want 2", len(entries))
	}
}

func TestImageTooSmallRejected(t *testing.T) {
	path := tempImagePath(t)
	_, err := ext2.NewImage(path, ext2.WithBlockCount(4))
	if err == nil {
		t.Fatal("NewImage with 4 blocks succeeded, want ErrImageTooSmall")
	}
	if _, statErr := os.Stat(path); statErr == nil {
		t.Error("backing file left behind after a failed NewImage")
	}
}
