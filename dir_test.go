package ext2_test

import (
	"bytes"
	"fmt"
	"testing"

	ext2 "github.com/go-ext2/genext2fs"
)

// TestDirectoryGrowsByBlock fills the root directory past what one block
// can hold and checks a second block is appended: every entry stays
// findable, and the directory's size and sector count reflect exactly two
// blocks. With 7-byte names each record is 16 bytes, so "." and ".."
// leave room for 62 entries in the first 1024-byte block and the 63rd
// entry goes into a newly appended second block.
func TestDirectoryGrowsByBlock(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path, ext2.WithBlockCount(512), ext2.WithInodes(128), ext2.WithReservedBlocks(0))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}

	const n = 80
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("entry%02d", i)
		st := ext2.Stat{Mode: ext2.ModeRegular | 0o644}
		if _, err := img.AddEntry("/", name, st, "", bytes.NewReader(nil)); err != nil {
			t.Fatalf("AddEntry(%s): %s", name, err)
		}
	}

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("entry%02d", i)
		ino, err := img.FindPath(0, "/"+name)
		if err != nil {
			t.Fatalf("FindPath(/%s): %s", name, err)
		}
		if ino == 0 {
			t.Fatalf("/%s not found after directory grew", name)
		}
	}

	entries, err := img.ReadDir(2)
	if err != nil {
		t.Fatalf("ReadDir(root): %s", err)
	}
	if len(entries) != n {
		t.Errorf("root has %d entries, want %d", len(entries), n)
	}
	if entries[0].Name != "entry00" {
		t.Errorf("first entry name = %q, want entry00", entries[0].Name)
	}

	rootInfo, err := img.Stat(2)
	if err != nil {
		t.Fatalf("Stat(root): %s", err)
	}
	if rootInfo.Size != 2048 {
		t.Errorf("root Size = %d, want 2048 (two directory blocks)", rootInfo.Size)
	}
	if rootInfo.Blocks != 4 {
		t.Errorf("root Blocks = %d, want 4 sectors (two 1024-byte blocks)", rootInfo.Blocks)
	}
}

// TestRejectedEntryNames exercises the add2dir input checks: empty names,
// names with slashes, and names too long for one directory block.
func TestRejectedEntryNames(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path, ext2.WithBlockCount(64), ext2.WithInodes(16), ext2.WithReservedBlocks(0))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}

	long := make([]byte, 1100)
	for i := range long {
		long[i] = 'x'
	}
	for _, name := range []string{"", "a/b", string(long)} {
		st := ext2.Stat{Mode: ext2.ModeRegular | 0o644}
		if _, err := img.AddEntry("/", name, st, "", bytes.NewReader(nil)); err == nil {
			t.Errorf("AddEntry(%q) succeeded, want error", name)
		}
	}
}
