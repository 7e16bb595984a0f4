package hardhat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTemp(t *testing.T, entries map[string]string) string {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "test.hh")

	b, err := NewBuilder(fn)
	require.NoError(t, err)

	for k, v := range entries {
		require.NoError(t, b.Add([]byte(k), []byte(v)))
	}
	require.NoError(t, b.Parents(nil))
	require.NoError(t, b.Finish())
	require.False(t, b.Fatal())

	return fn
}

func TestBuilderRoundTrip(t *testing.T) {
	entries := map[string]string{
		"a":     "1",
		"a/b":   "2",
		"a/b/c": "3",
		"x/y":   "4",
	}
	fn := buildTemp(t, entries)

	db, err := Open(fn)
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, len(entries)+1, db.Len()) // Parents synthesises "x" (the only missing ancestor)

	for k, v := range entries {
		got, ok := db.Lookup([]byte(k))
		require.True(t, ok, "key %q", k)
		require.Equal(t, v, string(got))
	}

	got, ok := db.Lookup([]byte("x"))
	require.True(t, ok)
	require.Nil(t, got)
}

func TestBuilderFirstWriteWins(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "dup.hh")
	b, err := NewBuilder(fn)
	require.NoError(t, err)

	require.NoError(t, b.Add([]byte("k"), []byte("first")))
	require.NoError(t, b.Add([]byte("k"), []byte("second")))
	require.NoError(t, b.Finish())

	db, err := Open(fn)
	require.NoError(t, err)
	defer db.Close()

	v, ok := db.Lookup([]byte("k"))
	require.True(t, ok)
	require.Equal(t, "first", string(v))
}

func TestBuilderNormalizesKeysOnAdd(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "norm.hh")
	b, err := NewBuilder(fn)
	require.NoError(t, err)

	require.NoError(t, b.Add([]byte("/a//b/"), []byte("v")))
	require.NoError(t, b.Finish())

	db, err := Open(fn)
	require.NoError(t, err)
	defer db.Close()

	v, ok := db.Lookup([]byte("a/b"))
	require.True(t, ok)
	require.Equal(t, "v", string(v))
}

func TestBuilderRejectsOversizeKey(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "big.hh")
	b, err := NewBuilder(fn)
	require.NoError(t, err)

	big := make([]byte, maxKeyLen+1)
	for i := range big {
		big[i] = 'a'
	}
	err = b.Add(big, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)
	require.True(t, b.Fatal())
}

func TestBuilderEmptyKeyAllowed(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "empty.hh")
	b, err := NewBuilder(fn)
	require.NoError(t, err)

	require.NoError(t, b.Add([]byte(""), []byte("root")))
	require.NoError(t, b.Add([]byte("a"), []byte("1")))
	require.NoError(t, b.Finish())

	db, err := Open(fn)
	require.NoError(t, err)
	defer db.Close()

	v, ok := db.Lookup([]byte(""))
	require.True(t, ok)
	require.Equal(t, "root", string(v))
}

func TestBuilderBitFlipInvalidatesChecksum(t *testing.T) {
	fn := buildTemp(t, map[string]string{"a": "1", "b": "2"})

	data, err := os.ReadFile(fn)
	require.NoError(t, err)

	// flip a bit well inside the header, away from any structural field
	// whose corruption would be caught by a different check first.
	data[2000] ^= 0x01
	require.NoError(t, os.WriteFile(fn, data, 0644))

	_, err = Open(fn)
	require.Error(t, err)
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
}

func TestAlignmentBlockSizeValidation(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "align.hh")
	b, err := NewBuilder(fn)
	require.NoError(t, err)

	require.Equal(t, uint64(1), b.Alignment(0))
	require.Equal(t, uint64(1), b.BlockSize(0))

	prev := b.BlockSize(4096)
	require.Equal(t, uint64(1), prev)
	require.False(t, b.Fatal())

	prev = b.Alignment(512)
	require.Equal(t, uint64(1), prev)
	require.False(t, b.Fatal())

	require.NoError(t, b.Add([]byte("k"), []byte("v")))
	require.NoError(t, b.Finish())
}

func TestAlignmentRejectsNonPowerOfTwo(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "badalign.hh")
	b, err := NewBuilder(fn)
	require.NoError(t, err)

	got := b.Alignment(3)
	require.Equal(t, uint64(0), got)
	require.True(t, b.Fatal())
}

func TestBlockSizeBelowAlignmentRejected(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "badblock.hh")
	b, err := NewBuilder(fn)
	require.NoError(t, err)

	require.Equal(t, uint64(1), b.Alignment(1024))
	got := b.BlockSize(512)
	require.Equal(t, uint64(0), got)
	require.True(t, b.Fatal())
}
