// Package matching scores incoming records against existing canonical
// entities. Scoring is pure: given the same record, candidate pool, and
// suppression snapshot it always produces the same ranked list, so a score
// can be recomputed for any audit row.
package matching

import (
	"sort"
	"strings"
)

// MinNameLength is the shortest normalized name worth comparing. Anything
// shorter is an initial or a data-entry stub.
const MinNameLength = 2

// NameSimilarity compares two normalized display names on a [0,1] scale.
// It is token-set based so "doe, jane" and "jane doe" score 1.0, and
// resilient to a missing middle name or initial.
func NameSimilarity(a, b string) float64 {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if len(a) < MinNameLength || len(b) < MinNameLength {
		return 0
	}
	if a == b {
		return 1
	}

	aTokens, bTokens := tokenSet(a), tokenSet(b)

	var common, aOnly, bOnly []string
	for tok := range aTokens {
		if bTokens[tok] {
			common = append(common, tok)
		} else {
			aOnly = append(aOnly, tok)
		}
	}
	for tok := range bTokens {
		if !aTokens[tok] {
			bOnly = append(bOnly, tok)
		}
	}
	sort.Strings(common)
	sort.Strings(aOnly)
	sort.Strings(bOnly)

	base := strings.Join(common, " ")
	full1 := strings.TrimSpace(base + " " + strings.Join(aOnly, " "))
	full2 := strings.TrimSpace(base + " " + strings.Join(bOnly, " "))

	// Token-set ratio: the best pairwise similarity among the shared-token
	// core and each side's full sorted form.
	best := levenshteinRatio(full1, full2)
	if base != "" {
		if r := levenshteinRatio(base, full1); r > best {
			best = r
		}
		if r := levenshteinRatio(base, full2); r > best {
			best = r
		}
	}
	return best
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

// levenshteinRatio converts edit distance into a [0,1] similarity
func levenshteinRatio(a, b string) float64 {
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshteinDistance(a, b))/float64(maxLen)
}

func levenshteinDistance(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	prevRow := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prevRow[j] = j
	}

	for i := 1; i <= len(a); i++ {
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			row[j] = min(row[j-1]+1, prevRow[j]+1, prevRow[j-1]+cost)
		}
		row, prevRow = prevRow, row
	}

	return prevRow[len(b)]
}
