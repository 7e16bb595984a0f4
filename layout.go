// layout.go -- on-disk superblock layout
//
// hardhat - read and write databases optimized for filename-like keys
// Ported from the design of Wessel Dankers' hardhat C library.
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package hardhat

import "encoding/binary"

// magic is the 8-byte file signature at offset 0 of every hardhat file.
const magic = "*HARDHAT"

// byteorderMark is written verbatim (in the file's own byte order) at
// offset 8; a reader compares the raw bytes against both the native and
// swapped encoding of this constant to determine which order the file
// was written in.
const byteorderMark = uint64(0x0123456789ABCDEF)

// fileVersion is the on-disk format version this package writes. Readers
// additionally accept versions 1-3 for compatibility, dispatching their
// hash algorithm accordingly.
const fileVersion = 4

// superblockSize is the fixed, 4096-byte-padded size of the header that
// precedes every section in the file.
const superblockSize = 4096

// Offsets of every fixed-size field within the superblock, matching the
// on-disk table field-for-field.
const (
	offMagic           = 0
	offByteorder       = 8
	offVersion         = 16
	offEntries         = 20
	offFilesize        = 24
	offDataStart       = 32
	offDataEnd         = 40
	offHashStart       = 48
	offHashEnd         = 56
	offDirectoryStart  = 64
	offDirectoryEnd    = 72
	offPrefixStart     = 80
	offPrefixEnd       = 88
	offPrefixes        = 96
	offHashseed        = 100
	offAlignment       = 104
	offBlocksize       = 105
	offReserved        = 106
	offChecksum        = superblockSize - 4
	checksumInputBytes = superblockSize - 4
)

// superblock is the decoded, byte-order-corrected in-memory form of the
// on-disk header.
type superblock struct {
	version                      uint32
	filesize                     uint64
	dataStart, dataEnd           uint64
	hashStart, hashEnd           uint64
	directoryStart, directoryEnd uint64
	prefixStart, prefixEnd       uint64
	entries, prefixes            uint32
	hashseed                     uint32

	// alignment and blocksize are stored on disk as log2 exponents (0
	// when disabled, i.e. 2^0 == 1 == a no-op). They govern the padding
	// inserted between a record's key and value in the data section
	// (see recordPad).
	alignment, blocksize uint8

	checksum uint32
}

// decodeSuperblock reads a superblock out of buf (which must be at least
// superblockSize bytes) using bo to interpret multi-byte fields. It does
// not perform structural validation; callers run validate() separately.
func decodeSuperblock(buf []byte, bo ByteOrder) superblock {
	return superblock{
		version:        bo.u32(buf[offVersion:]),
		entries:        bo.u32(buf[offEntries:]),
		filesize:       bo.u64(buf[offFilesize:]),
		dataStart:      bo.u64(buf[offDataStart:]),
		dataEnd:        bo.u64(buf[offDataEnd:]),
		hashStart:      bo.u64(buf[offHashStart:]),
		hashEnd:        bo.u64(buf[offHashEnd:]),
		directoryStart: bo.u64(buf[offDirectoryStart:]),
		directoryEnd:   bo.u64(buf[offDirectoryEnd:]),
		prefixStart:    bo.u64(buf[offPrefixStart:]),
		prefixEnd:      bo.u64(buf[offPrefixEnd:]),
		prefixes:       bo.u32(buf[offPrefixes:]),
		hashseed:       bo.u32(buf[offHashseed:]),
		alignment:      buf[offAlignment],
		blocksize:      buf[offBlocksize],
		checksum:       bo.u32(buf[offChecksum:]),
	}
}

// encodeSuperblock writes sb into a fresh, zero-padded superblockSize
// buffer using little-endian byte order (the order this package always
// builds in) and returns it. The checksum field is written as given;
// callers compute it over checksumInputBytes of the buffer before the
// checksum field itself is filled in.
func encodeSuperblock(sb superblock) []byte {
	buf := make([]byte, superblockSize)
	copy(buf[offMagic:], magic)
	binary.LittleEndian.PutUint64(buf[offByteorder:], byteorderMark)
	binary.LittleEndian.PutUint32(buf[offVersion:], sb.version)
	binary.LittleEndian.PutUint32(buf[offEntries:], sb.entries)
	binary.LittleEndian.PutUint64(buf[offFilesize:], sb.filesize)
	binary.LittleEndian.PutUint64(buf[offDataStart:], sb.dataStart)
	binary.LittleEndian.PutUint64(buf[offDataEnd:], sb.dataEnd)
	binary.LittleEndian.PutUint64(buf[offHashStart:], sb.hashStart)
	binary.LittleEndian.PutUint64(buf[offHashEnd:], sb.hashEnd)
	binary.LittleEndian.PutUint64(buf[offDirectoryStart:], sb.directoryStart)
	binary.LittleEndian.PutUint64(buf[offDirectoryEnd:], sb.directoryEnd)
	binary.LittleEndian.PutUint64(buf[offPrefixStart:], sb.prefixStart)
	binary.LittleEndian.PutUint64(buf[offPrefixEnd:], sb.prefixEnd)
	binary.LittleEndian.PutUint32(buf[offPrefixes:], sb.prefixes)
	binary.LittleEndian.PutUint32(buf[offHashseed:], sb.hashseed)
	buf[offAlignment] = sb.alignment
	buf[offBlocksize] = sb.blocksize
	// offReserved:offReserved+2 stays zero.
	binary.LittleEndian.PutUint32(buf[offChecksum:], sb.checksum)
	return buf
}

// hashSlotSize is the on-disk size of one entry/prefix hash-table slot:
// a 32-bit hash followed by a 32-bit directory index.
const hashSlotSize = 8

// hashSlot is one slot of the entry or prefix hash table.
type hashSlot struct {
	Hash uint32
	Dir  uint32
}

// powOf2 returns 2^exp.
func powOf2(exp uint8) uint64 { return uint64(1) << exp }

// log2Exp returns the base-2 logarithm of v, which must be a power of
// two (the caller validates this before calling).
func log2Exp(v uint64) uint8 {
	e := uint8(0)
	for v > 1 {
		v >>= 1
		e++
	}
	return e
}

// recordPad computes how many padding bytes to insert before writing
// length bytes at offset so that the write lands on a 2^alignExp
// aligned offset and, where possible without abandoning that alignment,
// does not straddle a 2^blockExp boundary.
func recordPad(offset, length uint64, alignExp, blockExp uint8) uint64 {
	alignment := powOf2(alignExp)
	blocksize := powOf2(blockExp)

	align := (-offset) % alignment
	off := offset + align
	start := off % blocksize
	end := blocksize - (-(off + length) % blocksize)
	if start > end {
		align += (-off) % blocksize
	}
	return align
}

// padTo returns how many bytes must follow offset to reach the next
// multiple of n, a fixed structural alignment independent of the
// Builder's configurable value alignment/blocksize.
func padTo(offset, n uint64) uint64 {
	return (n - offset%n) % n
}
