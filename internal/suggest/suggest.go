// Package suggest provides fuzzy "did you mean" matching for product ids and
// command keys using Levenshtein distance.
package suggest

import (
	"sort"
	"strings"
)

// levenshtein calculates the edit distance between two strings
func levenshtein(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Closest returns up to limit candidates near unknown, best first. Matching
// is case-insensitive; a candidate that contains unknown as a prefix always
// qualifies.
func Closest(unknown string, candidates []string, limit int) []string {
	needle := strings.ToLower(strings.TrimSpace(unknown))
	if needle == "" || limit <= 0 {
		return nil
	}

	type scored struct {
		value string
		score int
		dist  int
	}
	var matches []scored
	maxDist := max(2, len(needle)/2)
	for _, c := range candidates {
		lc := strings.ToLower(c)
		if lc == needle {
			continue
		}
		dist := levenshtein(needle, lc)
		score := dist
		if strings.HasPrefix(lc, needle) {
			score = min(score, 1)
		}
		if score <= maxDist {
			matches = append(matches, scored{c, score, dist})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score < matches[j].score
		}
		return matches[i].dist < matches[j].dist
	})

	var result []string
	for i := 0; i < len(matches) && i < limit; i++ {
		result = append(result, matches[i].value)
	}
	return result
}

// Hint renders suggestions as a trailing " (did you mean ...?)" clause, or ""
// when there are none.
func Hint(suggestions []string) string {
	if len(suggestions) == 0 {
		return ""
	}
	return " (did you mean " + strings.Join(suggestions, ", ") + "?)"
}
