// reader.go -- open and query a hardhat database
//
// hardhat - read and write databases optimized for filename-like keys
//
// Open mmaps the file and validates every structural invariant the
// format defines before returning a handle; after that, every lookup is
// a bounds-checked slice index into the mapping, no syscalls involved.
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
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"syscall"
)

const cursorNone = ^uint32(0)

// directory is a read-only view of the sorted list of record offsets.
type directory struct {
	bo     ByteOrder
	raw    []byte
	native []uint64
}

func newDirectory(bo ByteOrder, raw []byte) directory {
	d := directory{bo: bo, raw: raw}
	if bo.hostMatches() {
		d.native = bsToUint64Slice(raw)
	}
	return d
}

func (d *directory) count() int { return len(d.raw) / 8 }

func (d *directory) at(i int) uint64 {
	if d.native != nil {
		return d.native[i]
	}
	return d.bo.u64(d.raw[i*8:])
}

// hashTable is a read-only view of a sorted (hash, directory-index)
// table -- used for both the entry hash table and the prefix hash
// table.
type hashTable struct {
	bo     ByteOrder
	raw    []byte
	native []uint32
}

func newHashTable(bo ByteOrder, raw []byte) hashTable {
	t := hashTable{bo: bo, raw: raw}
	if bo.hostMatches() {
		t.native = bsToUint32Slice(raw)
	}
	return t
}

func (t *hashTable) count() int { return len(t.raw) / hashSlotSize }

func (t *hashTable) at(i int) (hash, dir uint32) {
	if t.native != nil {
		return t.native[2*i], t.native[2*i+1]
	}
	off := i * hashSlotSize
	return t.bo.u32(t.raw[off:]), t.bo.u32(t.raw[off+4:])
}

// DB is an opened, memory-mapped hardhat database. It is safe for
// concurrent use by multiple goroutines: every operation only reads the
// mapping.
type DB struct {
	buf  []byte
	bo   ByteOrder
	sb   superblock
	dir  directory
	ents hashTable
	pfx  hashTable
}

// Open memory-maps filename and validates it as a hardhat database. The
// returned DB must be closed with Close when no longer needed.
func Open(filename string) (*DB, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := st.Size()
	if size < superblockSize {
		return nil, protoErr("file too small to contain a superblock")
	}

	buf, err := syscall.Mmap(int(f.Fd()), 0, int(size), syscall.PROT_READ, syscall.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}

	db, err := newDB(buf, uint64(size))
	if err != nil {
		syscall.Munmap(buf)
		return nil, err
	}
	return db, nil
}

func newDB(buf []byte, filesize uint64) (*DB, error) {
	if string(buf[offMagic:offByteorder]) != magic {
		return nil, protoErr("bad magic")
	}

	bo, ok := resolveByteOrder(buf)
	if !ok {
		return nil, protoErr("bad byteorder mark")
	}

	sb := decodeSuperblock(buf, bo)

	if sb.version < 1 || sb.version > 4 {
		return nil, protoErr("unsupported version %d", sb.version)
	}

	cklen := checksumLenForVersion(sb.version)
	if cklen > len(buf) {
		return nil, protoErr("superblock truncated")
	}
	// The checksum uses the same hash algorithm as the version's keys.
	got := hashKey(sb.version, sb.hashseed, buf[:cklen])
	if got != sb.checksum {
		return nil, protoErr("checksum mismatch")
	}

	if sb.filesize != filesize {
		return nil, protoErr("filesize mismatch: header says %d, file is %d", sb.filesize, filesize)
	}

	type section struct {
		name        string
		start, end  uint64
		align       uint64
		slotSize    uint64
		count       uint64
	}
	secs := []section{
		{"data", sb.dataStart, sb.dataEnd, 4, 1, 0},
		{"hash", sb.hashStart, sb.hashEnd, 4, hashSlotSize, uint64(sb.entries)},
		{"directory", sb.directoryStart, sb.directoryEnd, 8, 8, uint64(sb.entries)},
		{"prefix", sb.prefixStart, sb.prefixEnd, 4, hashSlotSize, uint64(sb.prefixes)},
	}

	for _, s := range secs {
		if s.start%s.align != 0 {
			return nil, protoErr("%s section misaligned", s.name)
		}
		if s.start < superblockSize {
			return nil, protoErr("%s section starts inside the header", s.name)
		}
		if s.end < s.start {
			return nil, protoErr("%s section end precedes start", s.name)
		}
		if s.end > filesize {
			return nil, protoErr("%s section extends past end of file", s.name)
		}
		if s.end-s.start < s.count*s.slotSize {
			return nil, protoErr("%s section too short for its stated count", s.name)
		}
	}

	bounds := make([][2]uint64, len(secs))
	for i, s := range secs {
		bounds[i] = [2]uint64{s.start, s.end}
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i][0] < bounds[j][0] })
	for i := 1; i < len(bounds); i++ {
		if bounds[i][0] < bounds[i-1][1] {
			return nil, protoErr("sections overlap")
		}
	}

	db := &DB{
		buf:  buf,
		bo:   bo,
		sb:   sb,
		dir:  newDirectory(bo, buf[sb.directoryStart:sb.directoryEnd]),
		ents: newHashTable(bo, buf[sb.hashStart:sb.hashEnd]),
		pfx:  newHashTable(bo, buf[sb.prefixStart:sb.prefixEnd]),
	}
	return db, nil
}

// Close unmaps the database. The DB must not be used afterwards.
func (db *DB) Close() error {
	return syscall.Munmap(db.buf)
}

// Len reports the number of entries stored.
func (db *DB) Len() int { return int(db.sb.entries) }

// record reads the key and value bytes for the record whose header
// starts at off, validating bounds along the way. It returns ok=false
// if off does not point at a structurally valid record.
func (db *DB) record(off uint64) (key, value []byte, ok bool) {
	if off < db.sb.dataStart || off%4 != 0 {
		return nil, nil, false
	}
	if off+6 < off || off+6 > db.sb.dataEnd {
		return nil, nil, false
	}
	vlen := uint64(db.bo.u32(db.buf[off:]))
	klen := uint64(db.bo.u16(db.buf[off+4:]))

	keyStart := off + 6
	keyEnd := keyStart + klen
	if keyEnd < keyStart || keyEnd > db.sb.dataEnd {
		return nil, nil, false
	}

	// The builder pads between key and value to land the value on a
	// 2^alignment boundary, steered away from straddling a 2^blocksize
	// block; that gap is reconstructed here from the superblock's
	// alignment/blocksize fields, the same way the builder computed it.
	valStart := keyEnd + recordPad(keyEnd, vlen, db.sb.alignment, db.sb.blocksize)
	valEnd := valStart + vlen
	if valEnd < valStart || valEnd > db.sb.dataEnd {
		return nil, nil, false
	}

	return db.buf[keyStart:keyEnd], db.buf[valStart:valEnd], true
}

func (db *DB) hashOf(key []byte) uint32 {
	return hashKey(db.sb.version, db.sb.hashseed, key)
}

// findExact looks up key (already normalised) in the entry hash table
// and returns the directory index of an exact match.
func (db *DB) findExact(key []byte) (uint32, bool) {
	target := db.hashOf(key)
	pos, ok := interpSearchHashBand(db.ents.count(), func(i int) uint32 {
		h, _ := db.ents.at(i)
		return h
	}, target)
	if !ok {
		return 0, false
	}
	lo, hi := pos, pos
	for lo > 0 {
		if h, _ := db.ents.at(lo - 1); h != target {
			break
		}
		lo--
	}
	for hi < db.ents.count()-1 {
		if h, _ := db.ents.at(hi + 1); h != target {
			break
		}
		hi++
	}
	for i := lo; i <= hi; i++ {
		_, dir := db.ents.at(i)
		off := db.dir.at(int(dir))
		k, _, ok := db.record(off)
		if ok && Compare(k, key) == 0 {
			return dir, true
		}
	}
	return 0, false
}

// findPrefix locates the first directory index whose key is a proper
// descendant of bare (already normalised, no trailing slash).
func (db *DB) findPrefix(bare []byte) (uint32, bool) {
	if len(bare) == 0 {
		n := db.dir.count()
		if n == 0 {
			return 0, false
		}
		k, _, ok := db.record(db.dir.at(0))
		if ok && len(k) == 0 {
			if n <= 1 {
				return 0, false
			}
			return 1, true
		}
		return 0, true
	}

	target := db.hashOf(bare)
	pos, ok := interpSearchHashBand(db.pfx.count(), func(i int) uint32 {
		h, _ := db.pfx.at(i)
		return h
	}, target)
	if !ok {
		return 0, false
	}
	lo, hi := pos, pos
	for lo > 0 {
		if h, _ := db.pfx.at(lo - 1); h != target {
			break
		}
		lo--
	}
	for hi < db.pfx.count()-1 {
		if h, _ := db.pfx.at(hi + 1); h != target {
			break
		}
		hi++
	}
	for i := lo; i <= hi; i++ {
		_, dir := db.pfx.at(i)
		off := db.dir.at(int(dir))
		k, _, ok := db.record(off)
		if !ok || len(k) <= len(bare) {
			continue
		}
		if bytes.Equal(k[:len(bare)], bare) && k[len(bare)] == '/' {
			return dir, true
		}
	}
	return 0, false
}

// Lookup returns the value stored for key, after normalisation. The
// returned slice aliases the memory-mapped file and is valid until
// Close.
func (db *DB) Lookup(key []byte) ([]byte, bool) {
	nk := Normalize(make([]byte, len(key)), key)
	dir, ok := db.findExact(nk)
	if !ok {
		return nil, false
	}
	_, value, ok := db.record(db.dir.at(int(dir)))
	return value, ok
}

// interpSearchHashBand finds one index i with hashAt(i) == target among
// count entries sorted by ascending hash, bisecting an interpolated
// guess for the first 10 probes and falling back to plain bisection
// afterwards. It reports false if no entry has that hash.
func interpSearchHashBand(count int, hashAt func(int) uint32, target uint32) (int, bool) {
	if count == 0 {
		return 0, false
	}
	lower, upper := 0, count-1
	lowerHash, upperHash := hashAt(lower), hashAt(upper)
	if target < lowerHash || target > upperHash {
		return 0, false
	}

	tries := 0
	for lower < upper {
		if lowerHash == upperHash {
			break
		}
		var hp int
		if tries < 10 {
			hp = lower + int(uint64(target-lowerHash)*uint64(upper-lower)/(uint64(upperHash-lowerHash)+1))
			tries++
			if hp < lower {
				hp = lower
			} else if hp > upper {
				hp = upper
			}
		} else {
			hp = lower + (upper-lower)/2
		}
		hpHash := hashAt(hp)
		switch {
		case hpHash < target:
			lower = hp + 1
			if lower > upper {
				return 0, false
			}
			lowerHash = hashAt(lower)
		case hpHash > target:
			upper = hp - 1
			if lower > upper {
				return 0, false
			}
			upperHash = hashAt(upper)
		default:
			lower, upper = hp, hp
		}
	}

	if hashAt(lower) != target {
		return 0, false
	}
	return lower, true
}

// Cursor iterates the entries under a fixed prefix, and additionally
// carries the result of an exact-match lookup on that prefix performed
// when the Cursor was created.
type Cursor struct {
	db *DB

	bare  []byte // normalised prefix, no trailing slash
	match []byte // bare + "/", or "" when bare is empty

	key, value []byte // exact-match result, nil if no exact entry

	curKey, curValue []byte // result of the most recent Fetch

	cur     uint32
	started bool
}

// Cursor creates a Cursor positioned at prefix. If an entry exists whose
// key equals the normalised prefix exactly, Key/Value report it
// immediately without requiring a Fetch call.
func (db *DB) Cursor(prefix []byte) *Cursor {
	bare := Normalize(make([]byte, len(prefix)), prefix)

	c := &Cursor{db: db, bare: bare, cur: cursorNone}
	if dir, ok := db.findExact(bare); ok {
		if k, v, ok := db.record(db.dir.at(int(dir))); ok {
			c.key, c.value = k, v
		}
	}

	if len(bare) > 0 {
		m := make([]byte, len(bare)+1)
		copy(m, bare)
		m[len(bare)] = '/'
		c.match = m
	} else {
		c.match = bare
	}

	return c
}

// Key returns the exact-match key found when the Cursor was created, or
// nil if the prefix did not name an existing entry.
func (c *Cursor) Key() []byte { return c.key }

// Value returns the exact-match value found when the Cursor was created,
// or nil if the prefix did not name an existing entry.
func (c *Cursor) Value() []byte { return c.value }

// Fetch advances the Cursor to the next entry under its prefix, in path
// order, and reports whether one was found. When recursive is false,
// only direct children of the prefix are visited, not deeper
// descendants. After Fetch returns true, use CurrentKey/CurrentValue to
// read the entry.
func (c *Cursor) Fetch(recursive bool) bool {
	db := c.db

	if c.started {
		if c.cur == cursorNone {
			return false
		}
		c.cur++
	} else {
		dir, ok := db.findPrefix(c.bare)
		if !ok {
			c.cur = cursorNone
			c.started = true
			return false
		}
		c.cur = dir
		c.started = true
	}

	// Path order places every direct child of a prefix before any of
	// their own descendants (see Compare), so the first entry that
	// isn't a direct child -- whether it belongs to a deeper descendant
	// or to an entirely different key -- marks the end of what a
	// shallow listing can return; there's no need to scan past it.
	if int(c.cur) >= db.dir.count() {
		c.cur = cursorNone
		return false
	}

	key, value, ok := db.record(db.dir.at(int(c.cur)))
	if !ok || len(key) < len(c.match) || !bytes.Equal(key[:len(c.match)], c.match) {
		c.cur = cursorNone
		return false
	}

	if !recursive {
		rest := key[len(c.match):]
		if bytes.IndexByte(rest, '/') >= 0 {
			c.cur = cursorNone
			return false
		}
	}

	c.curKey, c.curValue = key, value
	return true
}

// CurrentKey returns the key of the entry most recently visited by
// Fetch.
func (c *Cursor) CurrentKey() []byte { return c.curKey }

// CurrentValue returns the value of the entry most recently visited by
// Fetch.
func (c *Cursor) CurrentValue() []byte { return c.curValue }

// DebugDump writes a human-readable listing of every section of the
// database to w: the superblock fields, then the entry hash table and
// the prefix hash table, each slot alongside the key it resolves to.
// Intended for diagnosing a misbehaving file, not for programmatic use.
func (db *DB) DebugDump(w io.Writer) error {
	sb := db.sb
	fmt.Fprintf(w, "version=%d entries=%d prefixes=%d hashseed=%#08x filesize=%d\n",
		sb.version, sb.entries, sb.prefixes, sb.hashseed, sb.filesize)
	fmt.Fprintf(w, "data       [%d, %d)\n", sb.dataStart, sb.dataEnd)
	fmt.Fprintf(w, "hash       [%d, %d)\n", sb.hashStart, sb.hashEnd)
	fmt.Fprintf(w, "directory  [%d, %d)\n", sb.directoryStart, sb.directoryEnd)
	fmt.Fprintf(w, "prefix     [%d, %d)\n", sb.prefixStart, sb.prefixEnd)

	fmt.Fprintf(w, "\nentry hash table:\n")
	for i := 0; i < db.ents.count(); i++ {
		hash, dir := db.ents.at(i)
		key, _, ok := db.record(db.dir.at(int(dir)))
		if !ok {
			fmt.Fprintf(w, "  [%d] hash=%#08x dir=%d <invalid record>\n", i, hash, dir)
			continue
		}
		fmt.Fprintf(w, "  [%d] hash=%#08x dir=%d key=%q\n", i, hash, dir, key)
	}

	fmt.Fprintf(w, "\nprefix hash table:\n")
	for i := 0; i < db.pfx.count(); i++ {
		hash, dir := db.pfx.at(i)
		key, _, ok := db.record(db.dir.at(int(dir)))
		if !ok {
			fmt.Fprintf(w, "  [%d] hash=%#08x dir=%d <invalid record>\n", i, hash, dir)
			continue
		}
		fmt.Fprintf(w, "  [%d] hash=%#08x dir=%d firstkey=%q\n", i, hash, dir, key)
	}

	return nil
}
