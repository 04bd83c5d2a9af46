package main

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	ext2 "github.com/go-ext2/genext2fs"
)

// ingestDirectory walks root and links every entry under it into img's
// root directory, mirroring the file-type switch squashfs.Writer.Add
// uses, adapted to call ext2.Image.AddEntry directly as each entry is
// visited instead of building an intermediate in-memory tree: WalkDir
// already visits a directory before its children, which is the only
// ordering AddEntry needs.
func ingestDirectory(img *ext2.Image, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		imagePath := path.Join("/", filepath.ToSlash(rel))
		dirPath, name := path.Split(imagePath)
		if dirPath == "" {
			dirPath = "/"
		} else {
			dirPath = dirPath[:len(dirPath)-1]
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		st, target, r, closeFn, err := statEntry(p, info)
		if err != nil {
			return err
		}
		if closeFn != nil {
			defer closeFn()
		}

		if _, err := img.AddEntry(dirPath, name, st, target, r); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		return nil
	})
}

// statEntry builds the ext2.Stat describing one real filesystem entry
// at p, plus its symlink target text or an open reader over its content
// when applicable. The returned closer (nil when not needed) must be
// deferred by the caller once r has been fully consumed.
func statEntry(p string, info fs.FileInfo) (st ext2.Stat, target string, r *os.File, closeFn func(), err error) {
	mode := info.Mode()
	uid, gid, nlink, dev, ino, rdev := sysStat(info)

	st = ext2.Stat{
		Mode:  uint16(mode.Perm()),
		UID:   uid,
		GID:   gid,
		Mtime: uint32(info.ModTime().Unix()),
		Nlink: nlink,
		Dev:   dev,
		Ino:   ino,
	}

	switch {
	case mode.IsDir():
		st.Mode |= ext2.ModeDir
	case mode&fs.ModeSymlink != 0:
		st.Mode |= ext2.ModeSymlink
		target, err = os.Readlink(p)
		if err != nil {
			return st, "", nil, nil, err
		}
	case mode.IsRegular():
		st.Mode |= ext2.ModeRegular
		f, ferr := os.Open(p)
		if ferr != nil {
			return st, "", nil, nil, ferr
		}
		return st, "", f, func() { f.Close() }, nil
	case mode&fs.ModeCharDevice != 0:
		st.Mode |= ext2.ModeChar
		st.Rdev = rdev
	case mode&fs.ModeDevice != 0:
		st.Mode |= ext2.ModeBlock
		st.Rdev = rdev
	case mode&fs.ModeNamedPipe != 0:
		st.Mode |= ext2.ModeFIFO
	case mode&fs.ModeSocket != 0:
		st.Mode |= ext2.ModeSocket
	default:
		return st, "", nil, nil, fmt.Errorf("%s: unsupported file type %v", p, mode)
	}

	return st, target, nil, nil, nil
}
