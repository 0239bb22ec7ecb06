package series

import "sort"

// Similarity scores how alike two strings are on a 0.0 (disjoint) to 1.0
// (identical) scale. The resolver's close-match selection is parameterized
// on this so the metric can be swapped without touching the index contracts.
type Similarity func(a, b string) float64

// closeMatchCutoff is the minimum similarity for a candidate to count as
// a close match.
const closeMatchCutoff = 0.6

// levenshteinRatio scores two strings as 1 - editDistance/maxLen. This is
// the default Similarity used for disambiguating short user-typed queries.
func levenshteinRatio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	distance := levenshteinDistance(a, b)
	maxLen := max(len(a), len(b))

	return 1.0 - float64(distance)/float64(maxLen)
}

// levenshteinDistance calculates the edit distance between two strings.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(a)][len(b)]
}

// closestMatches returns the candidates scoring at or above the cutoff
// against the query, best first. Candidate order breaks score ties.
func closestMatches(query string, candidates []string, sim Similarity, cutoff float64) []string {
	type scored struct {
		value string
		score float64
	}

	kept := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if score := sim(query, c); score >= cutoff {
			kept = append(kept, scored{value: c, score: score})
		}
	}

	// Stable so candidate order breaks score ties.
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].score > kept[j].score
	})

	out := make([]string, len(kept))
	for i, s := range kept {
		out[i] = s.value
	}
	return out
}
