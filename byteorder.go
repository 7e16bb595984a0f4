// byteorder.go -- runtime dispatch between native and swapped-order files
//
// hardhat's C ancestor handles this by compiling its reader twice, once
// per byte order, via a macro (see readerimpl.h). Go has no cheap
// equivalent of "compile this file twice with a different binding for
// u16/u32/u64" without literally duplicating the source, so instead this
// package resolves the order once per opened file and carries it as a
// value.
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package hardhat

import (
	"encoding/binary"
	"unsafe"
)

// ByteOrder selects how a DB's multi-byte fields are decoded. It is
// resolved once, in Open, by comparing the raw byteorder-mark bytes
// against the native and swapped encodings of byteorderMark.
//
// Despite the name, nativeOrder does not mean "matches this host" -- it
// means "the file is little-endian", which is the only order this
// package's own Builder ever writes. A little-endian file opened on a
// big-endian host is still nativeOrder; hostMatches exists precisely to
// tell that case apart from one where the raw bytes can be viewed
// in-place as host machine words.
type ByteOrder int

const (
	nativeOrder ByteOrder = iota
	swappedOrder
)

// hostLittleEndian reports whether this machine's in-memory integer
// layout is little-endian. Go has no portable compile-time constant for
// this, so it's detected once at runtime.
var hostLittleEndian = func() bool {
	var x uint16 = 1
	return (*[2]byte)(unsafe.Pointer(&x))[0] == 1
}()

// hostMatches reports whether bo's encoding already equals this host's
// native memory layout, making it safe to view mapped bytes directly as
// a []uint32/[]uint64 without per-value conversion.
func (bo ByteOrder) hostMatches() bool {
	return (bo == nativeOrder) == hostLittleEndian
}

// resolveByteOrder inspects the 8 bytes at the byteorder-mark offset and
// reports which order the file was written in, or false if neither
// native nor swapped interpretation matches (meaning the file is not a
// hardhat file, or is corrupt).
func resolveByteOrder(buf []byte) (ByteOrder, bool) {
	if len(buf) < offVersion {
		return 0, false
	}
	raw := buf[offByteorder:offVersion]
	if binary.LittleEndian.Uint64(raw) == byteorderMark {
		return nativeOrder, true
	}
	if binary.BigEndian.Uint64(raw) == byteorderMark {
		return swappedOrder, true
	}
	return 0, false
}

func (bo ByteOrder) u16(b []byte) uint16 {
	if bo == nativeOrder {
		return binary.LittleEndian.Uint16(b)
	}
	return binary.BigEndian.Uint16(b)
}

func (bo ByteOrder) u32(b []byte) uint32 {
	if bo == nativeOrder {
		return binary.LittleEndian.Uint32(b)
	}
	return binary.BigEndian.Uint32(b)
}

func (bo ByteOrder) u64(b []byte) uint64 {
	if bo == nativeOrder {
		return binary.LittleEndian.Uint64(b)
	}
	return binary.BigEndian.Uint64(b)
}
