package categorize_test

import (
	"testing"

	"github.com/ckoons/engram/internal/categorize"
	"github.com/ckoons/engram/internal/model"
	"github.com/stretchr/testify/require"
)

// TestClassifyRules walks the rule table top to bottom.
func TestClassifyRules(t *testing.T) {
	cases := []struct {
		name       string
		content    string
		category   model.Category
		importance int
	}{
		{"self reference name", "My name is Casey.", model.CategoryPersonal, 5},
		{"self reference location", "I live in Portland.", model.CategoryPersonal, 5},
		{"preference", "I really prefer tabs over spaces.", model.CategoryPreferences, 4},
		{"favorite", "Tom's favorite editor is vim.", model.CategoryPreferences, 4},
		{"project marker", "The engram project needs a release.", model.CategoryProjects, 4},
		{"remember imperative", "Remember that the deploy runs at noon.", model.CategoryFacts, 3},
		{"declarative fact", "The capital of France is Paris.", model.CategoryFacts, 3},
		{"fallthrough", "ok, sounds good!", model.CategorySession, 2},
		{"empty", "", model.CategorySession, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			category, importance := categorize.Classify(tc.content)
			require.Equal(t, tc.category, category)
			require.Equal(t, tc.importance, importance)
		})
	}
}

// TestClassifyFirstMatchWins pins the ordering guarantee from the seed
// scenario: a sentence that is both personal and a preference classifies
// as personal.
func TestClassifyFirstMatchWins(t *testing.T) {
	category, importance := categorize.Classify("My name is Casey and I prefer Python.")
	require.Equal(t, model.CategoryPersonal, category)
	require.GreaterOrEqual(t, importance, 4)
}
