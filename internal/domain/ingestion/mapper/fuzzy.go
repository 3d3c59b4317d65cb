package mapper

import (
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

const (
	fuzzyMinConfidence  = 0.5
	fuzzyConfidenceSpan = 0.2
)

func (m *Mapper) fuzzyPhase(st *state) {
	threshold := m.config.FuzzyThreshold
	for _, idx := range st.freeHeaders() {
		h := normalizeHeader(st.headers[idx])
		if h == "" {
			continue
		}

		var (
			best      TargetField
			bestScore float64
		)
		for _, f := range st.freeFields() {
			if s := fieldSimilarity(h, f); s > bestScore {
				best, bestScore = f, s
			}
		}

		if best != "" && bestScore >= threshold {
			st.claim(idx, best, rescale(bestScore, threshold), MethodFuzzy)
		}
	}
}

// fieldSimilarity is the best similarity of h against the field name and its aliases
func fieldSimilarity(h string, f TargetField) float64 {
	best := similarity(h, normalizeHeader(string(f)))
	for _, a := range aliases[f] {
		if s := similarity(h, normalizeHeader(a)); s > best {
			best = s
		}
	}
	return best
}

// similarity is 1 - levenshtein/maxLen over runes
func similarity(a, b string) float64 {
	maxLen := len([]rune(a))
	if n := len([]rune(b)); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 0
	}
	return 1 - float64(fuzzy.LevenshteinDistance(a, b))/float64(maxLen)
}

// rescale maps [threshold, 1] linearly onto [0.5, 0.7]
func rescale(score, threshold float64) float64 {
	if threshold >= 1 {
		return fuzzyMinConfidence + fuzzyConfidenceSpan
	}
	return fuzzyMinConfidence + (score-threshold)/(1-threshold)*fuzzyConfidenceSpan
}

// normalizeHeader lowercases and keeps only letters and digits
func normalizeHeader(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
