package hardhat

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTree(t *testing.T) *DB {
	t.Helper()
	fn := filepath.Join(t.TempDir(), "tree.hh")

	b, err := NewBuilder(fn)
	require.NoError(t, err)

	entries := map[string]string{
		"x":     "X",
		"x/a":   "XA",
		"x/b":   "XB",
		"x/a/1": "XA1",
		"x/a/2": "XA2",
		"x/b/1": "XB1",
		"y":     "Y",
	}
	for k, v := range entries {
		require.NoError(t, b.Add([]byte(k), []byte(v)))
	}
	require.NoError(t, b.Finish())

	db, err := Open(fn)
	require.NoError(t, err)
	return db
}

func collect(t *testing.T, c *Cursor, recursive bool) map[string]string {
	t.Helper()
	got := map[string]string{}
	for c.Fetch(recursive) {
		got[string(c.CurrentKey())] = string(c.CurrentValue())
	}
	return got
}

func TestCursorShallowListing(t *testing.T) {
	db := buildTree(t)
	defer db.Close()

	c := db.Cursor([]byte("x"))
	require.Equal(t, "X", string(c.Value()))

	got := collect(t, c, false)
	require.Equal(t, map[string]string{"x/a": "XA", "x/b": "XB"}, got)
}

func TestCursorDeepListing(t *testing.T) {
	db := buildTree(t)
	defer db.Close()

	c := db.Cursor([]byte("x"))
	got := collect(t, c, true)
	require.Equal(t, map[string]string{
		"x/a":   "XA",
		"x/b":   "XB",
		"x/a/1": "XA1",
		"x/a/2": "XA2",
		"x/b/1": "XB1",
	}, got)
}

func TestCursorEmptyPrefixListsEverything(t *testing.T) {
	db := buildTree(t)
	defer db.Close()

	c := db.Cursor(nil)
	require.Nil(t, c.Key())

	got := collect(t, c, true)
	require.Len(t, got, 7)
}

func TestCursorNoMatchForMissingPrefix(t *testing.T) {
	db := buildTree(t)
	defer db.Close()

	c := db.Cursor([]byte("nope"))
	require.Nil(t, c.Key())
	require.False(t, c.Fetch(true))
}

func TestCursorExactMatchWithoutFetch(t *testing.T) {
	db := buildTree(t)
	defer db.Close()

	c := db.Cursor([]byte("x/a/1"))
	require.Equal(t, "XA1", string(c.Value()))
}

func TestDebugDump(t *testing.T) {
	db := buildTree(t)
	defer db.Close()

	var buf bytes.Buffer
	require.NoError(t, db.DebugDump(&buf))

	out := buf.String()
	require.Contains(t, out, "entries=7")
	require.Contains(t, out, "entry hash table:")
	require.Contains(t, out, "prefix hash table:")
	require.Contains(t, out, `key="x/a"`)
}

func TestOpenRejectsGarbage(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "garbage.hh")
	require.NoError(t, os.WriteFile(fn, make([]byte, superblockSize+10), 0644))

	_, err := Open(fn)
	require.Error(t, err)
}

func TestOpenRejectsTooSmallFile(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "small.hh")
	require.NoError(t, os.WriteFile(fn, []byte("tiny"), 0644))

	_, err := Open(fn)
	require.Error(t, err)
}
