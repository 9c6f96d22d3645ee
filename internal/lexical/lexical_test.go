package lexical_test

import (
	"testing"

	"github.com/ckoons/engram/internal/lexical"
	"github.com/stretchr/testify/require"
)

// TestTokensFoldPlurals verifies lowercasing, splitting, and plural folding.
func TestTokensFoldPlurals(t *testing.T) {
	tokens := lexical.Tokens("Machine learning finds patterns in data.")
	require.Equal(t, []string{"machine", "learning", "find", "pattern", "in", "data"}, tokens)
}

// TestTokensKeepShortWords verifies short words are not folded.
func TestTokensKeepShortWords(t *testing.T) {
	tokens := lexical.Tokens("is as its")
	require.Equal(t, []string{"is", "as", "its"}, tokens)
}

// TestJaccardBounds verifies identity, disjoint, and empty cases.
func TestJaccardBounds(t *testing.T) {
	require.Equal(t, 1.0, lexical.Jaccard("alpha beta", "beta alpha"))
	require.Equal(t, 0.0, lexical.Jaccard("alpha", "beta"))
	require.Equal(t, 0.0, lexical.Jaccard("", ""))
	require.Equal(t, 0.0, lexical.Jaccard("alpha", ""))
}

// TestScoreMatchesAcrossPluralForms verifies the plural fold pays off in
// query scoring.
func TestScoreMatchesAcrossPluralForms(t *testing.T) {
	score := lexical.Score("pattern discovery in datasets", "Machine learning finds patterns in data.")
	require.Greater(t, score, 0.0)
	require.LessOrEqual(t, score, 1.0)
}

// TestNearIdenticalTextsScoreHigh verifies the convergence use case.
func TestNearIdenticalTextsScoreHigh(t *testing.T) {
	a := "Plan: collect requirements, design schema, implement service"
	b := "Plan: collect requirements, design schema, implement the service"
	require.Greater(t, lexical.Jaccard(a, b), 0.85)
}
