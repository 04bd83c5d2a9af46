package main

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio"

	ext2 "github.com/go-ext2/genext2fs"
)

// openOutput prepares the build's output file. NewImage needs a real
// path to open and write through, so the image is always built at a
// same-directory temp path first; commit either renames it into place
// (atomic on any POSIX filesystem, and the point of reserving the temp
// name through renameio rather than os.CreateTemp) or, for "-", streams
// it to stdout, since stdout itself cannot be renamed into place.
func openOutput(path string) (imagePath string, commit func(ok bool) error, err error) {
	dir := filepath.Dir(path)
	if path == "-" {
		dir = ""
	}
	t, err := renameio.TempFile("", filepath.Join(dir, "genext2fs"))
	if err != nil {
		return "", nil, err
	}
	tmpPath := t.Name()
	t.Close()

	if path == "-" {
		return tmpPath, func(ok bool) error {
			defer os.Remove(tmpPath)
			if !ok {
				return nil
			}
			return streamImage(tmpPath)
		}, nil
	}

	return tmpPath, func(ok bool) error {
		if !ok {
			os.Remove(tmpPath)
			return nil
		}
		return os.Rename(tmpPath, path)
	}, nil
}

// streamImage copies the finished image to stdout. When stdout is
// redirected to a regular file, all-zero blocks become seeks so a
// sparse build stays sparse at its destination; anything else (a pipe,
// a terminal) gets a plain sequential copy.
func streamImage(tmpPath string) error {
	f, err := os.Open(tmpPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if fi, err := os.Stdout.Stat(); err == nil && fi.Mode().IsRegular() {
		return sparseCopy(os.Stdout, f)
	}

	w := bufio.NewWriter(os.Stdout)
	if _, err := io.Copy(w, f); err != nil {
		return err
	}
	return w.Flush()
}

// sparseCopy writes src to dst block by block, seeking over all-zero
// blocks instead of writing them, then truncates dst to the full length
// so a trailing hole still ends the file at the right size.
func sparseCopy(dst, src *os.File) error {
	buf := make([]byte, 4096)
	var off int64
	for {
		n, err := io.ReadFull(src, buf)
		if n > 0 {
			if allZero(buf[:n]) {
				if _, serr := dst.Seek(int64(n), io.SeekCurrent); serr != nil {
					return serr
				}
			} else {
				if _, werr := dst.Write(buf[:n]); werr != nil {
					return werr
				}
			}
			off += int64(n)
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return err
		}
	}
	return dst.Truncate(off)
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// dumpBlockMap writes the block-map diagnostic dump for one in-image
// path, to a file named by sanitizing every '/' in path to '_' and
// appending ".blk", matching the original's "-g path" behavior.
func dumpBlockMap(img *ext2.Image, path string) error {
	fname := strings.ReplaceAll(path, "/", "_") + ".blk"
	f, err := os.Create(fname)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := img.WriteBlockMap(w, path); err != nil {
		return err
	}
	return w.Flush()
}
