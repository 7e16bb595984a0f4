// path.go -- path normalisation and path-order comparison
//
// hardhat - read and write databases optimized for filename-like keys
//
// (c) Sudhi Herle 2018
//
// Author: Sudhi Herle <sudhi@herle.net>
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package hardhat

import "bytes"

// Normalize rewrites src into path-order canonical form and returns the
// normalised slice. dst must have capacity at least len(src); it is
// legal to call Normalize(buf, buf) to normalise in place, matching the
// semantics of the original hardhat_normalize.
//
// Normalisation strips leading and trailing slashes, collapses runs of
// slashes into one, drops "." components, and makes ".." pop the
// previous component (a no-op at the root). It is idempotent.
func Normalize(dst, src []byte) []byte {
	out := dst[:0]
	i := 0
	n := len(src)

	for i < n && src[i] == '/' {
		i++
	}

	for i < n {
		j := i
		for j < n && src[j] != '/' {
			j++
		}
		comp := src[i:j]
		switch {
		case len(comp) == 0:
			// repeated slash; skip
		case len(comp) == 1 && comp[0] == '.':
			// "."; skip
		case len(comp) == 2 && comp[0] == '.' && comp[1] == '.':
			if k := bytes.LastIndexByte(out, '/'); k >= 0 {
				out = out[:k]
			} else {
				out = out[:0]
			}
		default:
			if len(out) > 0 {
				out = append(out, '/')
			}
			out = append(out, comp...)
		}
		i = j
		for i < n && src[i] == '/' {
			i++
		}
	}

	return out
}

// Compare orders a and b according to path order: every ancestor sorts
// before its descendants, and siblings at the same depth sort
// lexicographically. Compare assumes both a and b are already
// normalised.
func Compare(a, b []byte) int {
	al, bl := len(a), len(b)
	n := al
	if bl < n {
		n = bl
	}

	i := 0
	for i < n && a[i] == b[i] {
		i++
	}

	switch {
	case i == al && i == bl:
		return 0
	case i == al:
		// a is a prefix of b: a is b's ancestor (or equal up to here),
		// so a sorts first unless the next byte of b isn't a new
		// component boundary -- but since a ran out exactly, a is
		// shorter and therefore first.
		return -1
	case i == bl:
		return 1
	}

	// Neither ran out. If the mismatching byte on one side is itself a
	// slash, that side has already closed its component and is starting
	// a new one, so it is the deeper path at this point and sorts after
	// the other.
	if a[i] == '/' {
		return 1
	}
	if b[i] == '/' {
		return -1
	}

	// Neither mismatching byte is a slash, but one side may still
	// descend into a further component beyond this point while the
	// other does not (e.g. "cat" vs "cab/1": the mismatch is 't' vs
	// 'b', not a slash, yet "cab/1" still goes on to a child). The side
	// that does sorts after the side that doesn't, regardless of the
	// two mismatching bytes' unsigned order.
	aDeeper := bytes.IndexByte(a[i:], '/') >= 0
	bDeeper := bytes.IndexByte(b[i:], '/') >= 0
	if aDeeper != bDeeper {
		if aDeeper {
			return 1
		}
		return -1
	}

	// Otherwise the differing bytes are compared as unsigned.
	if a[i] < b[i] {
		return -1
	}
	if a[i] > b[i] {
		return 1
	}
	return 0
}
