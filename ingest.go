package ext2

import (
	"fmt"
	"io"
	"strings"
)

// Stat carries the subset of POSIX metadata a directory-tree producer
// supplies for one entry: everything AddEntry needs to decide the
// inode's type, permissions, and hardlink identity without this package
// ever touching a real filesystem itself.
type Stat struct {
	Mode  uint16 // file-type bits (modeFmt) and permission bits
	UID   uint16
	GID   uint16
	Mtime uint32
	Rdev  uint32 // major/minor for ModeChar/ModeBlock, packed via WithRdev
	Nlink uint32 // source link count; >1 triggers hardlink dedup for entries other than directories and symlinks
	Dev   uint64 // source device number, paired with Ino for hardlink identity
	Ino   uint64
}

// WithRdev packs a device node's major/minor into the encoding fsops.go
// expects in Stat.Rdev.
func WithRdev(major, minor uint32) uint32 { return deviceEncoding(major, minor) }

// AddEntry implements the directory-tree producer ingest contract: link
// one file, directory, symlink, or device/fifo/socket node as name under
// the already-existing directory at dirPath. Regular file content is
// streamed from r; symlink target text comes from target. Directories
// recurse by the caller simply adding their own children with a dirPath
// that includes this entry's name, since the producer (not this package)
// owns traversal order. A source inode sharing (Dev,Ino) with one seen
// earlier in this same build reuses that inode instead of creating a new
// one, so hardlinked source files land in the image as a single inode
// with a link count above one; directories and symlinks are never
// deduplicated this way.
func (img *Image) AddEntry(dirPath, name string, st Stat, target string, r io.Reader) (uint32, error) {
	parentIno, err := img.FindPath(inoRoot, dirPath)
	if err != nil {
		return 0, err
	}
	if parentIno == 0 {
		return 0, fmt.Errorf("ext2: parent path %q not found", dirPath)
	}

	fileType := st.Mode & modeFmt
	canHardlink := fileType != ModeDir && fileType != ModeSymlink && st.Nlink > 1
	if canHardlink {
		key := hardlinkKey{dev: st.Dev, ino: st.Ino}
		if existing := img.links.lookup(key); existing != 0 {
			return existing, img.linkExisting(parentIno, existing, name)
		}
	}

	var ino uint32
	switch fileType {
	case ModeDir:
		ino, _, err = img.mkdirFs(parentIno, name, st.Mode&^modeFmt, st.UID, st.GID)
	case ModeSymlink:
		ino, err = img.mklinkFs(parentIno, name, target, st.UID, st.GID)
	case ModeRegular:
		ino, err = img.mkfileFs(parentIno, name, st.Mode&^modeFmt, st.UID, st.GID, r)
	default: // char, block, fifo, socket
		ino, _, err = img.mknodFs(parentIno, name, st.Mode, st.UID, st.GID, st.Rdev)
	}
	if err != nil {
		return 0, err
	}

	if img.cfg.Timestamp == 0 && st.Mtime != 0 {
		if err := img.setInodeTimes(ino, st.Mtime); err != nil {
			return 0, err
		}
	}
	if canHardlink {
		img.links.record(hardlinkKey{dev: st.Dev, ino: st.Ino}, ino)
	}
	return ino, nil
}

// linkExisting adds one more directory entry pointing at an inode that
// already exists (the hardlink-dedup path), bumping its link count.
func (img *Image) linkExisting(parentIno, childIno uint32, name string) error {
	parent, err := img.getInode(parentIno)
	if err != nil {
		return err
	}
	child, err := img.getInode(childIno)
	if err != nil {
		return err
	}
	if err := img.addToDir(parentIno, parent, childIno, child, name); err != nil {
		return err
	}
	if err := img.putInode(parentIno, parent); err != nil {
		return err
	}
	return img.putInode(childIno, child)
}

// ApplyDeviceTableEntry implements the device-table producer's per-line
// effect: a path that already resolves to an inode is fixed up with
// chmod_fs; otherwise a new inode is created under its parent, which must
// already exist. mode carries the file-type bits already set by the
// device-table parser.
func (img *Image) ApplyDeviceTableEntry(path string, mode uint16, uid, gid uint16, rdev uint32) error {
	existing, err := img.FindPath(inoRoot, path)
	if err != nil {
		return err
	}
	if existing != 0 {
		return img.chmodFs(existing, mode, uid, gid)
	}

	dir, base := splitPath(path)
	parentIno, err := img.FindPath(inoRoot, dir)
	if err != nil {
		return err
	}
	if parentIno == 0 {
		return fmt.Errorf("ext2: device-table parent path %q not found", dir)
	}

	if mode&modeFmt == ModeDir {
		_, _, err = img.mkdirFs(parentIno, base, mode&^modeFmt, uid, gid)
		return err
	}
	_, _, err = img.mknodFs(parentIno, base, mode, uid, gid, rdev)
	return err
}

// splitPath separates the final component of an image path from its
// parent directory path, treating a path with no slash as rooted at "/".
func splitPath(p string) (dir, base string) {
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/", "/"
	}
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return "/", p[i+1:]
	}
	return p[:i], p[i+1:]
}
