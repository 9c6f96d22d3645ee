// Package lexical implements the deterministic text-overlap measure shared
// by lexical search, latent-thought convergence, and context deduplication.
// It deliberately avoids any embedding provider so results stay stable when
// vectors are unavailable.
package lexical

import (
	"strings"
	"unicode"
)

// Tokens splits text into lowercase alphanumeric tokens with naive plural
// folding (a trailing "s" on tokens of four or more runes is dropped so
// "patterns" and "pattern" compare equal).
func Tokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tokens = append(tokens, fold(f))
	}
	return tokens
}

func fold(token string) string {
	if len(token) >= 4 && strings.HasSuffix(token, "s") {
		return token[:len(token)-1]
	}
	return token
}

// TokenSet returns the distinct tokens of text.
func TokenSet(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range Tokens(text) {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard scores the token-set overlap of two texts in [0, 1]. Two texts
// with no tokens at all score 0.
func Jaccard(a, b string) float64 {
	sa, sb := TokenSet(a), TokenSet(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Score ranks content against a query. It is the Jaccard overlap, so it
// lives in [0, 1] and equals 1 only when the token sets coincide.
func Score(query, content string) float64 {
	return Jaccard(query, content)
}
