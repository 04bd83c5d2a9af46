package ext2

import (
	"encoding/binary"
	"strings"
)

const dirRecordHeaderSize = 8

// dirEntry is one decoded variable-length directory record: a 4-byte
// inode number, a 2-byte total record length, a 2-byte name length, and
// the name itself padded to a 4-byte boundary. An Inode of 0 marks an
// unused (free) record available for reuse, per the original's add2dir.
type dirEntry struct {
	Inode   uint32
	RecLen  uint16
	NameLen uint16
	Name    string
}

func roundUp4(n int) int { return (n + 3) &^ 3 }

// dirRecLen is the minimum record length needed to hold a name of nameLen bytes.
func dirRecLen(nameLen int) uint16 {
	return uint16(dirRecordHeaderSize + roundUp4(nameLen))
}

func decodeDirEntry(order binary.ByteOrder, b []byte, off int) dirEntry {
	inode := order.Uint32(b[off:])
	recLen := order.Uint16(b[off+4:])
	nameLen := order.Uint16(b[off+6:])
	var name string
	if int(nameLen) > 0 && off+8+int(nameLen) <= len(b) {
		name = string(b[off+8 : off+8+int(nameLen)])
	}
	return dirEntry{Inode: inode, RecLen: recLen, NameLen: nameLen, Name: name}
}

func encodeDirEntry(order binary.ByteOrder, b []byte, off int, e dirEntry) {
	order.PutUint32(b[off:], e.Inode)
	order.PutUint16(b[off+4:], e.RecLen)
	order.PutUint16(b[off+6:], e.NameLen)
	nameArea := b[off+8:]
	for i := range nameArea {
		nameArea[i] = 0
	}
	copy(nameArea, e.Name)
}

// validateName rejects what add2dir rejects: an empty name, a name
// containing '/', or a name whose record would not fit in a single
// directory block.
func validateName(name string, blockSize uint32) error {
	if name == "" || strings.Contains(name, "/") {
		return ErrBadName
	}
	if uint32(dirRecLen(len(name))) > blockSize {
		return ErrBadName
	}
	return nil
}

// initEmptyDirBlock lays out a single free record spanning the whole
// block, the state a freshly allocated directory block starts in before
// any entry is ever added to it.
func initEmptyDirBlock(order binary.ByteOrder, b []byte, blockSize uint32) {
	encodeDirEntry(order, b, 0, dirEntry{RecLen: uint16(blockSize)})
}

// addEntryToBlock tries to place a record for (ino, name) into block b,
// either by reusing a free record of adequate size or by splitting the
// tail off an in-use record that has enough slack, exactly as
// add2dir's in-block loop does. It reports whether it succeeded; on
// failure the caller should try the next block, allocating one if none
// remain.
func addEntryToBlock(order binary.ByteOrder, b []byte, blockSize uint32, ino uint32, name string) bool {
	need := dirRecLen(len(name))
	off := 0
	for off+dirRecordHeaderSize <= int(blockSize) {
		e := decodeDirEntry(order, b, off)
		if e.RecLen == 0 {
			break
		}
		if e.Inode == 0 && e.RecLen >= need {
			encodeDirEntry(order, b, off, dirEntry{Inode: ino, RecLen: e.RecLen, NameLen: uint16(len(name)), Name: name})
			return true
		}
		used := dirRecLen(int(e.NameLen))
		if e.Inode != 0 && e.RecLen >= used+need {
			remaining := e.RecLen - used
			encodeDirEntry(order, b, off, dirEntry{Inode: e.Inode, RecLen: used, NameLen: e.NameLen, Name: e.Name})
			newOff := off + int(used)
			encodeDirEntry(order, b, newOff, dirEntry{Inode: ino, RecLen: remaining, NameLen: uint16(len(name)), Name: name})
			return true
		}
		off += int(e.RecLen)
	}
	return false
}

// findEntryInBlock returns the inode bound to name in block b, or 0.
func findEntryInBlock(order binary.ByteOrder, b []byte, blockSize uint32, name string) uint32 {
	off := 0
	for off+dirRecordHeaderSize <= int(blockSize) {
		e := decodeDirEntry(order, b, off)
		if e.RecLen == 0 {
			break
		}
		if e.Inode != 0 && e.Name == name {
			return e.Inode
		}
		off += int(e.RecLen)
	}
	return 0
}

// listEntriesInBlock returns every occupied record in b, in on-disk order.
func listEntriesInBlock(order binary.ByteOrder, b []byte, blockSize uint32) []dirEntry {
	var out []dirEntry
	off := 0
	for off+dirRecordHeaderSize <= int(blockSize) {
		e := decodeDirEntry(order, b, off)
		if e.RecLen == 0 {
			break
		}
		if e.Inode != 0 {
			out = append(out, e)
		}
		off += int(e.RecLen)
	}
	return out
}
