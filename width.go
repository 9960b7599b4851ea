package termcore

import (
	"github.com/rivo/uniseg"
	"github.com/unilibs/uniwidth"
)

// runeWidth returns the display width: 2 for wide characters (CJK, emoji), 1 for normal, 0 for zero-width (combining marks, control chars).
func runeWidth(r rune) int {
	return uniwidth.RuneWidth(r)
}

// isWideRune returns true if the rune occupies 2 columns (CJK ideographs, fullwidth forms, emoji).
func isWideRune(r rune) bool {
	return uniwidth.RuneWidth(r) == 2
}

// StringWidth returns the total display width of a string (sum of rune widths).
func StringWidth(s string) int {
	return uniwidth.StringWidth(s)
}

const (
	runeZWJ                 = 0x200D
	runeVariationSelector15 = 0xFE0E
	runeVariationSelector16 = 0xFE0F
)

func isRegionalIndicator(r rune) bool {
	return r >= 0x1F1E6 && r <= 0x1F1FF
}

func isEmojiModifier(r rune) bool {
	return r >= 0x1F3FB && r <= 0x1F3FF
}

// joinsCluster reports whether appending next to an existing grapheme cluster
// still yields a single user-perceived character. Cluster boundaries follow
// the Unicode segmentation rules (UAX #29) as implemented by uniseg.
func joinsCluster(cluster []rune, next rune) bool {
	if len(cluster) == 0 {
		return false
	}
	combined := make([]rune, 0, len(cluster)+1)
	combined = append(combined, cluster...)
	combined = append(combined, next)
	return uniseg.GraphemeClusterCount(string(combined)) == 1
}

// clusterWidth computes the display width of a complete grapheme cluster:
// the base rune's East Asian width, upgraded to 2 for emoji presentation
// (VS16), regional-indicator pairs, and emoji-modifier sequences.
func clusterWidth(cluster []rune) int {
	if len(cluster) == 0 {
		return 0
	}
	width := runeWidth(cluster[0])
	if width == 0 {
		width = 1
	}
	for _, r := range cluster[1:] {
		switch {
		case r == runeVariationSelector16:
			width = 2
		case r == runeVariationSelector15:
			width = 1
		case isRegionalIndicator(r) && isRegionalIndicator(cluster[0]):
			width = 2
		case isEmojiModifier(r):
			width = 2
		}
	}
	return width
}
