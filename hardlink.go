package ext2

// hardlinkKey identifies a source file by the (device, inode) pair its
// stat info reports, the same identity POSIX hard links share.
type hardlinkKey struct {
	dev uint64
	ino uint64
}

// hardlinkTable remembers which already-created filesystem inode a given
// source (dev,ino) pair was assigned to, so a later ingest of the same
// source file becomes a link into the existing inode instead of a new
// one. Grown in fixed-size chunks rather than one entry at a time,
// mirroring the original's own table-growth discipline for its
// fixed-size C arrays.
type hardlinkTable struct {
	keys    []hardlinkKey
	inodes  []uint32
}

const hardlinkGrowChunk = 16

func newHardlinkTable() *hardlinkTable {
	return &hardlinkTable{}
}

// lookup returns the inode previously recorded for key, or 0 if none.
func (t *hardlinkTable) lookup(key hardlinkKey) uint32 {
	for i, k := range t.keys {
		if k == key {
			return t.inodes[i]
		}
	}
	return 0
}

// record associates key with ino for future lookups.
func (t *hardlinkTable) record(key hardlinkKey, ino uint32) {
	if len(t.keys) == cap(t.keys) {
		grown := make([]hardlinkKey, len(t.keys), len(t.keys)+hardlinkGrowChunk)
		copy(grown, t.keys)
		t.keys = grown
		grownI := make([]uint32, len(t.inodes), len(t.inodes)+hardlinkGrowChunk)
		copy(grownI, t.inodes)
		t.inodes = grownI
	}
	t.keys = append(t.keys, key)
	t.inodes = append(t.inodes, ino)
}
