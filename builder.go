// builder.go -- build a hardhat database
//
// hardhat - read and write databases optimized for filename-like keys
//
// Builder writes records sequentially as they're added, then derives and
// appends the directory and the two hash tables in Finish. The
// superblock is written twice: a zeroed placeholder when the file is
// created, and the real header -- magic, section bounds, checksum --
// only once everything else has been written successfully. A reader
// that opens the file mid-build, or after a failed build, sees either
// the placeholder (invalid magic/byteorder) or a truncated file, never a
// half-written header.
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
	"bufio"
	"os"
	"sort"
)

const maxKeyLen = 1<<16 - 1
const maxValueLen = 1<<32 - 1

// record is the in-memory bookkeeping kept for one added key while a
// database is being built: a copy of its normalised key (small and
// bounded, so keeping it resident is cheap) and where its header begins
// in the output file.
type record struct {
	key    []byte
	offset uint64
	vlen   uint32
}

// Builder constructs a hardhat database by accepting Add calls and
// writing Finish. It records the first error it encounters and refuses
// all further work once failed, mirroring the C library's sticky-error
// maker.
type Builder struct {
	f  *os.File
	w  *bufio.Writer
	fn string

	off uint64

	// alignmentExp and blocksizeExp are log2 exponents, matching the
	// on-disk representation (see superblock.alignment/blocksize): 0
	// means disabled (2^0 == 1, a no-op).
	alignmentExp uint8
	blocksizeExp uint8

	hashseed uint32
	version  uint32

	dedup *openHashMap
	recs  []record

	started  bool
	finished bool
	failed   bool
	err      error
}

// NewBuilder creates fn (truncating any existing file) and returns a
// Builder ready to accept Add calls. The file's superblock is written as
// a zeroed placeholder immediately so that a reader which opens the file
// before Finish completes reliably rejects it.
func NewBuilder(fn string) (*Builder, error) {
	f, err := os.OpenFile(fn, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	b := &Builder{
		f:            f,
		w:            bufio.NewWriterSize(f, 64*1024),
		fn:           fn,
		off:          superblockSize,
		alignmentExp: 0,
		blocksizeExp: 0,
		hashseed:     rand32(),
		version:      fileVersion,
		dedup:        newOpenHashMap(),
	}

	placeholder := make([]byte, superblockSize)
	if _, err := f.Write(placeholder); err != nil {
		f.Close()
		return nil, err
	}

	return b, nil
}

// Err returns the first error this Builder encountered, or nil.
func (b *Builder) Err() error { return b.err }

// Fatal reports whether the Builder is unusable and must be abandoned.
func (b *Builder) Fatal() bool { return b.failed }

func (b *Builder) fail(err error) error {
	b.failed = true
	b.err = err
	return err
}

// Alignment gets or sets the byte alignment applied to value data. A
// value of 0 queries the current setting without changing it; 1
// disables alignment; any other value must be a power of two and, while
// block avoidance is enabled, no larger than the current block size. It
// returns the previous setting, or 0 on error (with Err() set).
func (b *Builder) Alignment(align uint64) uint64 {
	prev := powOf2(b.alignmentExp)
	if align == 0 {
		return prev
	}
	if b.started {
		b.fail(ErrInvalidArgument)
		return 0
	}
	if align&(align-1) != 0 {
		b.fail(ErrInvalidArgument)
		return 0
	}
	if b.blocksizeExp != 0 && align > powOf2(b.blocksizeExp) {
		b.fail(ErrInvalidArgument)
		return 0
	}
	b.alignmentExp = log2Exp(align)
	return prev
}

// BlockSize gets or sets the block-avoidance size: when padding a value,
// the Builder prefers not to let it straddle a block boundary. A value
// of 0 queries the current setting; 1 disables block avoidance; any
// other value must be a power of two no smaller than the current
// alignment. It returns the previous setting, or 0 on error.
func (b *Builder) BlockSize(size uint64) uint64 {
	prev := powOf2(b.blocksizeExp)
	if size == 0 {
		return prev
	}
	if b.started {
		b.fail(ErrInvalidArgument)
		return 0
	}
	if size&(size-1) != 0 {
		b.fail(ErrInvalidArgument)
		return 0
	}
	if size > 1 && size < powOf2(b.alignmentExp) {
		b.fail(ErrInvalidArgument)
		return 0
	}
	b.blocksizeExp = log2Exp(size)
	return prev
}

func (b *Builder) writePad(n uint64) error {
	if n == 0 {
		return nil
	}
	zeros := make([]byte, n)
	nw, err := b.w.Write(zeros)
	if err != nil {
		return err
	}
	if uint64(nw) != n {
		return errShortWrite(nw, int(n))
	}
	b.off += uint64(nw)
	return nil
}

func (b *Builder) write(p []byte) error {
	nw, err := b.w.Write(p)
	if err != nil {
		return err
	}
	if nw != len(p) {
		return errShortWrite(nw, len(p))
	}
	b.off += uint64(nw)
	return nil
}

// Add stores value under key, after path normalisation. If an equal
// normalised key has already been added, the earlier value is kept and
// Add is a no-op: first write wins.
func (b *Builder) Add(key, value []byte) error {
	if b.failed {
		return ErrFailed
	}
	if b.finished {
		return ErrFrozen
	}

	nk := Normalize(make([]byte, len(key)), key)
	if len(nk) > maxKeyLen {
		return b.fail(ErrInvalidArgument)
	}
	if uint64(len(value)) > maxValueLen {
		return b.fail(ErrInvalidArgument)
	}

	hash := hashKey(b.version, b.hashseed, nk)
	if _, ok := b.dedup.find(hash, func(rec uint32) bool {
		return Compare(b.recs[rec].key, nk) == 0
	}); ok {
		return nil
	}

	// The record header always starts on a 4-byte boundary, independent
	// of the configurable value alignment/blocksize.
	if err := b.writePad(padTo(b.off, 4)); err != nil {
		return b.fail(err)
	}

	recOffset := b.off

	var hdr [6]byte
	putUint32LE(hdr[0:4], uint32(len(value)))
	putUint16LE(hdr[4:6], uint16(len(nk)))
	if err := b.write(hdr[:]); err != nil {
		return b.fail(err)
	}
	if err := b.write(nk); err != nil {
		return b.fail(err)
	}

	// The value itself lands on a 2^alignment boundary, steered away
	// from straddling a 2^blocksize block where possible -- a reader
	// reconstructs this same gap from the superblock's alignment and
	// blocksize fields plus the offset immediately after the key.
	valuePad := recordPad(b.off, uint64(len(value)), b.alignmentExp, b.blocksizeExp)
	if err := b.writePad(valuePad); err != nil {
		return b.fail(err)
	}
	if err := b.write(value); err != nil {
		return b.fail(err)
	}

	rec := uint32(len(b.recs))
	b.recs = append(b.recs, record{key: nk, offset: recOffset, vlen: uint32(len(value))})
	b.dedup.insert(hash, rec)
	b.started = true

	return nil
}

// Parents adds, under value, every proper ancestor directory of every
// key added so far that doesn't already have an explicit entry. It is
// typically called once, just before Finish, so that every intermediate
// path component is independently enumerable.
func (b *Builder) Parents(value []byte) error {
	if b.failed {
		return ErrFailed
	}
	if b.finished {
		return ErrFrozen
	}

	for {
		n := len(b.recs)
		added := false
		for i := 0; i < n; i++ {
			k := b.recs[i].key
			slash := lastSlash(k)
			if slash < 0 {
				continue
			}
			before := len(b.recs)
			if err := b.Add(k[:slash], value); err != nil {
				return err
			}
			if len(b.recs) != before {
				added = true
			}
		}
		if !added {
			return nil
		}
	}
}

func lastSlash(k []byte) int {
	for i := len(k) - 1; i >= 0; i-- {
		if k[i] == '/' {
			return i
		}
	}
	return -1
}

// Finish derives the directory and the two hash tables from every record
// added so far, appends them, and writes the final superblock. The
// Builder must not be used again afterwards.
func (b *Builder) Finish() error {
	if b.failed {
		return ErrFailed
	}
	if b.finished {
		return ErrFrozen
	}

	dataEnd := b.off

	order := make([]int, len(b.recs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return Compare(b.recs[order[i]].key, b.recs[order[j]].key) < 0
	})

	if err := b.writePad(padTo(b.off, 8)); err != nil {
		return b.fail(err)
	}
	directoryStart := b.off
	for _, recIdx := range order {
		var buf [8]byte
		putUint64LE(buf[:], b.recs[recIdx].offset)
		if err := b.write(buf[:]); err != nil {
			return b.fail(err)
		}
	}
	directoryEnd := b.off

	type entrySlot struct {
		hash uint32
		key  []byte
	}
	entries := make([]entrySlot, len(order))
	for i, recIdx := range order {
		entries[i] = entrySlot{
			hash: hashKey(b.version, b.hashseed, b.recs[recIdx].key),
			key:  b.recs[recIdx].key,
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].hash != entries[j].hash {
			return entries[i].hash < entries[j].hash
		}
		return Compare(entries[i].key, entries[j].key) < 0
	})
	// dirIndex[i] in entries' sorted order must point back at the
	// directory index of that same key; since entries was built by
	// permuting the directory-ordered slice with its original directory
	// index implicitly equal to its pre-sort position, recompute it.
	keyToDirIdx := make(map[string]uint32, len(order))
	for i, recIdx := range order {
		keyToDirIdx[string(b.recs[recIdx].key)] = uint32(i)
	}

	if err := b.writePad(padTo(b.off, 8)); err != nil {
		return b.fail(err)
	}
	hashStart := b.off
	for _, e := range entries {
		var buf [hashSlotSize]byte
		putUint32LE(buf[0:4], e.hash)
		putUint32LE(buf[4:8], keyToDirIdx[string(e.key)])
		if err := b.write(buf[:]); err != nil {
			return b.fail(err)
		}
	}
	hashEnd := b.off

	prefixStart, prefixEnd, nprefixes, err := b.writePrefixTable(order)
	if err != nil {
		return b.fail(err)
	}

	sb := superblock{
		version:        b.version,
		dataStart:      superblockSize,
		dataEnd:        dataEnd,
		hashStart:      hashStart,
		hashEnd:        hashEnd,
		directoryStart: directoryStart,
		directoryEnd:   directoryEnd,
		prefixStart:    prefixStart,
		prefixEnd:      prefixEnd,
		entries:        uint32(len(order)),
		prefixes:       nprefixes,
		hashseed:       b.hashseed,
		alignment:      b.alignmentExp,
		blocksize:      b.blocksizeExp,
	}
	sb.filesize = b.off

	hdr := encodeSuperblock(sb)
	cksum := checksumSuperblock(hdr, b.hashseed, checksumLenForVersion(sb.version))
	putUint32LE(hdr[offChecksum:], cksum)

	if err := b.w.Flush(); err != nil {
		return b.fail(err)
	}
	if _, err := b.f.WriteAt(hdr, 0); err != nil {
		return b.fail(err)
	}
	if err := b.f.Truncate(int64(b.off)); err != nil {
		return b.fail(err)
	}
	if err := b.f.Sync(); err != nil {
		return b.fail(err)
	}
	if err := b.f.Close(); err != nil {
		return b.fail(err)
	}

	b.finished = true
	return nil
}

// writePrefixTable derives and appends the prefix hash table: one slot
// per distinct proper ancestor path among the records in directory
// order, each pointing at the first directory index that falls under
// it.
func (b *Builder) writePrefixTable(order []int) (start, end uint64, count uint32, err error) {
	type prefixSlot struct {
		hash uint32
		key  []byte
		dir  uint32
	}

	seen := make(map[string]bool)
	var slots []prefixSlot

	for i, recIdx := range order {
		k := b.recs[recIdx].key
		for p := 0; p < len(k); p++ {
			if k[p] != '/' {
				continue
			}
			prefix := k[:p]
			ps := string(prefix)
			if seen[ps] {
				continue
			}
			seen[ps] = true
			slots = append(slots, prefixSlot{
				hash: hashKey(b.version, b.hashseed, prefix),
				key:  prefix,
				dir:  uint32(i),
			})
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if slots[i].hash != slots[j].hash {
			return slots[i].hash < slots[j].hash
		}
		return Compare(slots[i].key, slots[j].key) < 0
	})

	if err = b.writePad(padTo(b.off, 8)); err != nil {
		return 0, 0, 0, err
	}
	start = b.off
	for _, s := range slots {
		var buf [hashSlotSize]byte
		putUint32LE(buf[0:4], s.hash)
		putUint32LE(buf[4:8], s.dir)
		if err = b.write(buf[:]); err != nil {
			return 0, 0, 0, err
		}
	}
	end = b.off

	return start, end, uint32(len(slots)), nil
}

// Abort discards an in-progress build: it closes and removes the output
// file. A Builder must not be used after Abort.
func (b *Builder) Abort() error {
	b.failed = true
	b.f.Close()
	return os.Remove(b.fn)
}

func putUint16LE(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
