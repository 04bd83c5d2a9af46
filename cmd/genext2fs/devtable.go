package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	ext2 "github.com/go-ext2/genext2fs"
)

// applyDeviceTable implements the device-table producer ingest contract:
// each non-comment, non-blank line is ten whitespace-separated fields,
// "<path> <type> <mode> <uid> <gid> <major> <minor> <start> <inc>
// <count>", fed one at a time to ext2.Image.ApplyDeviceTableEntry. A
// malformed line is a recoverable user error: it is logged and skipped,
// not fatal to the whole build.
func applyDeviceTable(img *ext2.Image, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := applyDeviceTableLine(img, line); err != nil {
			log.Warnf("%s:%d: %s", path, lineNo, err)
		}
	}
	return sc.Err()
}

// applyDeviceTableLine parses and applies one device-table line.
func applyDeviceTableLine(img *ext2.Image, line string) error {
	fields := strings.Fields(line)
	if len(fields) != 10 {
		return fmt.Errorf("expected 10 fields, got %d", len(fields))
	}
	nodePath := fields[0]

	var fileTypeBit uint16
	switch fields[1] {
	case "f":
		fileTypeBit = ext2.ModeRegular
	case "d":
		fileTypeBit = ext2.ModeDir
	case "c":
		fileTypeBit = ext2.ModeChar
	case "b":
		fileTypeBit = ext2.ModeBlock
	case "p":
		fileTypeBit = ext2.ModeFIFO
	case "s":
		fileTypeBit = ext2.ModeSocket
	default:
		return fmt.Errorf("unknown type %q", fields[1])
	}

	perm, err := strconv.ParseUint(fields[2], 8, 16)
	if err != nil {
		return fmt.Errorf("bad mode %q: %w", fields[2], err)
	}
	uid, err := strconv.ParseUint(fields[3], 10, 16)
	if err != nil {
		return fmt.Errorf("bad uid %q: %w", fields[3], err)
	}
	gid, err := strconv.ParseUint(fields[4], 10, 16)
	if err != nil {
		return fmt.Errorf("bad gid %q: %w", fields[4], err)
	}
	major, err := strconv.ParseUint(fields[5], 10, 32)
	if err != nil {
		return fmt.Errorf("bad major %q: %w", fields[5], err)
	}
	minor, err := strconv.ParseUint(fields[6], 10, 32)
	if err != nil {
		return fmt.Errorf("bad minor %q: %w", fields[6], err)
	}
	start, err := strconv.ParseUint(fields[7], 10, 32)
	if err != nil {
		return fmt.Errorf("bad start %q: %w", fields[7], err)
	}
	inc, err := strconv.ParseUint(fields[8], 10, 32)
	if err != nil {
		return fmt.Errorf("bad inc %q: %w", fields[8], err)
	}
	count, err := strconv.ParseUint(fields[9], 10, 32)
	if err != nil {
		return fmt.Errorf("bad count %q: %w", fields[9], err)
	}

	mode := fileTypeBit | uint16(perm&0o7777)
	isDevice := fields[1] == "c" || fields[1] == "b"

	if isDevice && count > 0 {
		// Preserves the original device-table tool's observed range
		// expansion verbatim: the loop runs i over [start, count), not
		// [start, start+count), yielding count-start nodes named
		// nodePath+i with minor offset (i*inc - start).
		for i := uint32(start); i < uint32(count); i++ {
			name := fmt.Sprintf("%s%d", nodePath, i)
			m := uint32(minor) + i*uint32(inc) - uint32(start)
			rdev := ext2.WithRdev(uint32(major), m)
			if err := img.ApplyDeviceTableEntry(name, mode, uint16(uid), uint16(gid), rdev); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}
		return nil
	}

	var rdev uint32
	if isDevice {
		rdev = ext2.WithRdev(uint32(major), uint32(minor))
	}
	if err := img.ApplyDeviceTableEntry(nodePath, mode, uint16(uid), uint16(gid), rdev); err != nil {
		return fmt.Errorf("%s: %w", nodePath, err)
	}
	return nil
}
