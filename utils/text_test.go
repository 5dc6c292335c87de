// utils/text_test.go
package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Café  Müller", "cafe muller"},
		{"  Hidden   Rooftop Garden ", "hidden rooftop garden"},
		{"STRAßE DES 17. JUNI", "strasse des 17. juni"},
		{"", ""},
	}
	for _, c := range cases {
		require.Equal(t, c.want, NormalizeTitle(c.in), "input %q", c.in)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"flaw", "lawn", 2},
		{"gecko", "gecko", 0},
	}
	for _, c := range cases {
		require.Equal(t, c.want, Levenshtein(c.a, c.b), "%q vs %q", c.a, c.b)
	}
}

func TestTitleSimilarity(t *testing.T) {
	require.Equal(t, 1.0, TitleSimilarity("Café Müller", "cafe muller"))
	require.Equal(t, 1.0, TitleSimilarity("", ""))

	// A single-character difference on a long title stays well above the
	// duplicate threshold.
	sim := TitleSimilarity("Hidden Rooftop Garden", "Hidden Rooftop Gardens")
	require.Greater(t, sim, 0.9)

	// Unrelated titles land low.
	sim = TitleSimilarity("Hidden Rooftop Garden", "Old Harbor Lighthouse")
	require.Less(t, sim, 0.5)
}

func TestTitleSlug(t *testing.T) {
	require.Equal(t, "cafe-muller", TitleSlug("Café Müller"))
	require.Equal(t, TitleSlug("Hidden Rooftop Garden"), TitleSlug("hidden  rooftop   garden"))
}
