package hardhat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFnv1aKnownValue(t *testing.T) {
	// FNV-1a 32-bit of the empty string is the offset basis.
	require.Equal(t, uint32(2166136261), fnv1a(nil))
}

func TestMurmur3DeterministicAndSeedSensitive(t *testing.T) {
	key := []byte("hello/world")
	a := murmur3_32(key, 0)
	b := murmur3_32(key, 0)
	c := murmur3_32(key, 1)

	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
}

func TestMurmur3VariesWithLength(t *testing.T) {
	h1 := murmur3_32([]byte("a"), 42)
	h2 := murmur3_32([]byte("aa"), 42)
	h3 := murmur3_32([]byte("aaa"), 42)
	h4 := murmur3_32([]byte("aaaa"), 42)

	seen := map[uint32]bool{h1: true}
	for _, h := range []uint32{h2, h3, h4} {
		require.False(t, seen[h])
		seen[h] = true
	}
}

func TestHashKeyDispatchesOnVersion(t *testing.T) {
	key := []byte("x/y")
	require.Equal(t, fnv1a(key), hashKey(1, 999, key))
	require.Equal(t, murmur3_32(key, 7), hashKey(2, 7, key))
	require.Equal(t, murmur3_32(key, 7), hashKey(4, 7, key))
}
