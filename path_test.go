package hardhat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func norm(s string) []byte {
	b := []byte(s)
	return Normalize(b, b)
}

func TestNormalizeBasics(t *testing.T) {
	cases := map[string]string{
		"":            "",
		"/":           "",
		"///":         "",
		"a":           "a",
		"/a/":         "a",
		"a//b":        "a/b",
		"a/./b":       "a/b",
		"a/b/..":      "a",
		"a/../b":      "b",
		"../a":        "a",
		"a/b/../../c": "c",
		".":           "",
		"a/.":         "a",
	}
	for in, want := range cases {
		got := string(norm(in))
		require.Equal(t, want, got, "normalize(%q)", in)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"a/b/c", "/x/../y//z/", "...", "a/b/.."}
	for _, in := range inputs {
		once := norm(in)
		twice := Normalize(once, once)
		require.Equal(t, string(once), string(twice))
	}
}

func TestNormalizeInPlaceShrinksOnly(t *testing.T) {
	buf := []byte("a//b/../c/")
	out := Normalize(buf, buf)
	require.Equal(t, "a/c", string(out))
}

func TestComparePathOrder(t *testing.T) {
	// ancestors precede descendants; siblings sort lexicographically at
	// each depth.
	paths := []string{"x", "x/a", "x/b", "x/a/1", "x/a/2", "x/b/1"}
	for i := 0; i < len(paths); i++ {
		for j := 0; j < len(paths); j++ {
			got := Compare([]byte(paths[i]), []byte(paths[j]))
			switch {
			case i < j:
				require.Negativef(t, got, "Compare(%q,%q)", paths[i], paths[j])
			case i > j:
				require.Positivef(t, got, "Compare(%q,%q)", paths[i], paths[j])
			default:
				require.Zero(t, got)
			}
		}
	}
}

func TestCompareEmptyIsFirst(t *testing.T) {
	require.Negative(t, Compare([]byte(""), []byte("a")))
	require.Positive(t, Compare([]byte("a"), []byte("")))
	require.Zero(t, Compare([]byte(""), []byte("")))
}

func TestCompareDistinctTopLevelKeys(t *testing.T) {
	// Top-level keys with no shared prefix at all still order correctly:
	// a name that descends into a subdirectory sorts after one that
	// doesn't, at the byte where they first diverge, regardless of the
	// unsigned order of the two differing bytes themselves. 'b' < 'c' in
	// "bird/song" vs "cat", yet "bird/song" sorts after "cat" because
	// its remaining bytes continue into a child component.
	paths := []string{"ant", "cat", "bird/song"}
	for i := 0; i < len(paths); i++ {
		for j := 0; j < len(paths); j++ {
			got := Compare([]byte(paths[i]), []byte(paths[j]))
			switch {
			case i < j:
				require.Negativef(t, got, "Compare(%q,%q)", paths[i], paths[j])
			case i > j:
				require.Positivef(t, got, "Compare(%q,%q)", paths[i], paths[j])
			default:
				require.Zero(t, got)
			}
		}
	}
}

func TestCompareSiblingPrefix(t *testing.T) {
	// "x" is a strict textual prefix of "xy" but they are siblings, not
	// ancestor/descendant, since there's no slash boundary between them.
	require.Negative(t, Compare([]byte("x"), []byte("xy")))
}
