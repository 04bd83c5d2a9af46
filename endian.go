package ext2

import (
	"bytes"
	"encoding/binary"
	"reflect"
)

// marshalStruct and unmarshalStruct are the two total functions that
// replace a macro-expanded struct declaration plus a hand-written swap
// pass per on-disk type: every fixed-layout structure here (Superblock,
// GroupDescriptor, the fixed part of Inode) is a plain Go struct whose exported fields are walked by reflection,
// in declaration order, and read or written with the caller-supplied
// byte order. Both functions cover every
// exported field unconditionally, so there is no type for which "did I
// remember to swap this one" is a question left to the author.
func marshalStruct(order binary.ByteOrder, v interface{}) ([]byte, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	buf := &bytes.Buffer{}
	buf.Grow(binarySize(v))
	t := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		name := t.Field(i).Name
		if name == "" || name[0] < 'A' || name[0] > 'Z' {
			continue // unexported: not part of the on-disk schema
		}
		if err := binary.Write(buf, order, rv.Field(i).Interface()); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func unmarshalStruct(order binary.ByteOrder, data []byte, v interface{}) error {
	rv := reflect.ValueOf(v).Elem()
	r := bytes.NewReader(data)
	t := rv.Type()
	for i := 0; i < rv.NumField(); i++ {
		name := t.Field(i).Name
		if name == "" || name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		if err := binary.Read(r, order, rv.Field(i).Addr().Interface()); err != nil {
			return err
		}
	}
	return nil
}

// binarySize returns the total wire size, in bytes, of v's exported fields.
func binarySize(v interface{}) int {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	t := rv.Type()
	sz := 0
	for i := 0; i < rv.NumField(); i++ {
		name := t.Field(i).Name
		if name == "" || name[0] < 'A' || name[0] > 'Z' {
			continue
		}
		sz += int(rv.Field(i).Type().Size())
	}
	return sz
}

// byteOrderFor returns the binary.ByteOrder of the target image. The
// on-disk format is little-endian by convention; BigEndian images are
// supported for cross-building onto big-endian targets. Unlike the C
// original, this package never needs to probe the host's own byte order:
// every read or write goes through encoding/binary with this explicit
// order, so "swap" reduces to "which order did we pick for this image",
// not "does it differ from the host's native order".
func byteOrderFor(imageBigEndian bool) binary.ByteOrder {
	if imageBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
