// Package similarity scores how close two normalized strings are.
package similarity

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Ratio returns 1 - editDistance(a, b) / max(len(a), len(b)), with lengths
// measured in runes. Two empty strings are identical (1.0).
//
// Cost is O(len(a)*len(b)); callers bound both the text length and the
// number of comparisons.
func Ratio(a, b string) float64 {
	if a == b {
		return 1.0
	}

	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1.0
	}

	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(longest)
}

// Best scores target against every entry of pool in order and returns the
// index and score of the first highest-scoring entry. ok is true when that
// score is at or above threshold. An empty pool returns index -1.
func Best(target string, pool []string, threshold float64) (index int, score float64, ok bool) {
	index = -1
	for i, candidate := range pool {
		s := Ratio(target, candidate)
		if index == -1 || s > score {
			index, score = i, s
		}
	}
	return index, score, index >= 0 && score >= threshold
}
