package matcher

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/mmdatafocus/menu_backend/models"
)

// Ratio scores two names from 0 to 100 by Levenshtein distance over the longer
// length. Names are compared case- and space-folded.
func Ratio(a, b string) int {
	a, b = models.NameKey(a), models.NameKey(b)
	if a == b {
		return 100
	}
	n := len([]rune(a))
	if m := len([]rune(b)); m > n {
		n = m
	}
	if n == 0 {
		return 0
	}
	d := levenshtein.ComputeDistance(a, b)
	score := 100 * (n - d) / n
	if score < 0 {
		return 0
	}
	return score
}

// TokenSortRatio is Ratio over the names' words in sorted order, so word order
// does not count against a pair.
func TokenSortRatio(a, b string) int {
	return Ratio(sortTokens(a), sortTokens(b))
}

// Similarity is the score fuzzy tiers use: the better of the plain and
// token-sorted ratios.
func Similarity(a, b string) int {
	plain := Ratio(a, b)
	if sorted := TokenSortRatio(a, b); sorted > plain {
		return sorted
	}
	return plain
}

func sortTokens(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	sort.Strings(fields)
	return strings.Join(fields, " ")
}
