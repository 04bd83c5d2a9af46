package ext2

import (
	"io"
	"os"
)

// backingStore is the single file an image is built into. It knows
// nothing about ext2 structure: every read and write is addressed by
// block number, and it is the only place in the package that touches
// disk directly. Typed views and the pinning cache are built on top of
// it; raw blocks handed out by this layer are never byte-swapped.
type backingStore struct {
	f         *os.File
	blockSize uint32
	blocks    uint64
}

// openBackingStore opens (creating if needed) path and grows it to hold
// exactly blocks blocks of blockSize bytes. An existing, larger file is
// not shrunk here; Finalize truncates the file to the image's declared
// size.
func openBackingStore(path string, blockSize uint32, blocks uint64) (*backingStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	bs := &backingStore{f: f, blockSize: blockSize, blocks: uint64(fi.Size()) / uint64(blockSize)}
	if err := bs.grow(blocks); err != nil {
		f.Close()
		return nil, err
	}
	return bs, nil
}

// grow extends the backing file to hold n blocks. Truncation leaves the
// new region sparse, so sizing the file up front costs no disk space
// until real data is written into it.
func (b *backingStore) grow(n uint64) error {
	if n <= b.blocks {
		return nil
	}
	if err := platformTruncate(b.f, int64(n)*int64(b.blockSize)); err != nil {
		return err
	}
	b.blocks = n
	return nil
}

// ReadBlock returns a freshly allocated buffer holding block num. A block
// past end-of-file (can happen on a sparsely truncated image) reads as
// zeroes, matching ordinary POSIX sparse-file semantics.
func (b *backingStore) ReadBlock(num uint32) ([]byte, error) {
	if uint64(num) >= b.blocks {
		return nil, ErrBlockOutOfRange
	}
	buf := make([]byte, b.blockSize)
	_, err := b.f.ReadAt(buf, int64(num)*int64(b.blockSize))
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// WriteBlock writes data (exactly blockSize bytes) at block num.
func (b *backingStore) WriteBlock(num uint32, data []byte) error {
	if uint64(num) >= b.blocks {
		return ErrBlockOutOfRange
	}
	_, err := b.f.WriteAt(data, int64(num)*int64(b.blockSize))
	return err
}

// Truncate sets the final file size in bytes, used once at Finalize to
// cut the file to the image's declared block count.
func (b *backingStore) Truncate(size int64) error {
	return platformTruncate(b.f, size)
}

func (b *backingStore) Close() error { return b.f.Close() }
