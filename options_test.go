package ext2_test

import (
	"bytes"
	"errors"
	"os"
	"testing"

	ext2 "github.com/go-ext2/genext2fs"
)

func TestWithBlockSizeRejectsUnsupported(t *testing.T) {
	path := tempImagePath(t)
	_, err := ext2.NewImage(path, ext2.WithBlockSize(777), ext2.WithBlockCount(64))
	if !errors.Is(err, ext2.ErrBadBlockSize) {
		t.Fatalf("err = %v, want ErrBadBlockSize", err)
	}
}

func TestWithBlocksParsesSizeSuffix(t *testing.T) {
	path := tempImagePath(t)
	// "64K" (bytefmt: 64*1024 bytes) at the default 1024-byte block size
	// is exactly 64 blocks.
	img, err := ext2.NewImage(path, ext2.WithBlocks("64K"), ext2.WithInodes(16))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}
	if got := img.Summarize().BlocksCount; got != 64 {
		t.Errorf("BlocksCount = %d, want 64", got)
	}
}

func TestWithLabelTooLongRejected(t *testing.T) {
	path := tempImagePath(t)
	_, err := ext2.NewImage(path, ext2.WithLabel("this-label-is-definitely-too-long"), ext2.WithBlockCount(64))
	if !errors.Is(err, ext2.ErrLabelTooLong) {
		t.Fatalf("err = %v, want ErrLabelTooLong", err)
	}
}

func TestWithLabelStoredOnSuperblock(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path, ext2.WithLabel("mydisk"), ext2.WithBlockCount(64), ext2.WithInodes(16))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}
	if err := img.Finalize(); err != nil {
		t.Fatalf("Finalize: %s", err)
	}
	if err := img.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(image): %s", err)
	}
	// s_volume_name is at byte 120 of the superblock, which starts at byte 1024.
	if got := string(bytes.TrimRight(raw[1024+120:1024+136], "\x00")); got != "mydisk" {
		t.Errorf("volume label = %q, want %q", got, "mydisk")
	}

	reopened, err := ext2.OpenImage(path)
	if err != nil {
		t.Fatalf("OpenImage: %s", err)
	}
	defer reopened.Close()
	if got := reopened.Summarize().BlocksCount; got != 64 {
		t.Errorf("reopened BlocksCount = %d, want 64", got)
	}
}

func TestWithBigEndianRoundTrip(t *testing.T) {
	path := tempImagePath(t)
	img, err := ext2.NewImage(path, ext2.WithByteOrder(true), ext2.WithBlockCount(64), ext2.WithInodes(16))
	if err != nil {
		t.Fatalf("NewImage: %s", err)
	}
	st := ext2.Stat{Mode: ext2.ModeRegular | 0o644}
	ino, err := img.AddEntry("/", "f", st, "", bytes.NewReader([]byte("payload")))
	if err != nil {
		t.Fatalf("AddEntry: %s", err)
	}
	if err := img.Finalize(); err != nil {
		t.Fatalf("Finalize: %s", err)
	}
	if err := img.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	reopened, err := ext2.OpenImage(path)
	if err != nil {
		t.Fatalf("OpenImage (big-endian): %s", err)
	}
	defer reopened.Close()
	content, err := reopened.ReadFile(ino)
	if err != nil {
		t.Fatalf("ReadFile after big-endian round-trip: %s", err)
	}
	if string(content) != "payload" {
		t.Errorf("content = %q, want %q", content, "payload")
	}
}
