// Package categorize implements the rule-based classifier that assigns a
// category and default importance to free-form memory text. Rules are
// ordered and the first match wins, so classification is deterministic.
package categorize

import (
	"regexp"
	"strings"

	"github.com/ckoons/engram/internal/model"
)

// rule maps a lexical trigger onto a category. Triggers are checked
// against the lowercased content; a rule with a pattern uses the regexp,
// otherwise any of its phrases matching counts.
type rule struct {
	category model.Category
	phrases  []string
	pattern  *regexp.Regexp
}

// Rules are evaluated top to bottom. Self-reference outranks preference
// statements so "my name is X and I prefer Y" lands in personal.
var rules = []rule{
	{
		category: model.CategoryPersonal,
		phrases:  []string{"my name", "i am", "i'm", "i live", "i work", "my birthday", "call me"},
	},
	{
		category: model.CategoryPreferences,
		phrases:  []string{"prefer", "like", "favorite", "favourite", "rather", "enjoy"},
	},
	{
		category: model.CategoryProjects,
		phrases:  []string{"project", "working on", "building", "repository", "codebase"},
	},
	{
		category: model.CategoryFacts,
		pattern:  regexp.MustCompile(`^\s*remember\s+that\b`),
		phrases:  []string{"remember that", "note that", "fact:", "keep in mind"},
	},
	{
		category: model.CategoryFacts,
		// Declarative facts: "<subject> is/are/was/were <statement>".
		pattern: regexp.MustCompile(`^\s*[\w][\w\s,'-]*\b(is|are|was|were|has|have)\b`),
	},
}

// Classify assigns a category and its default importance to content.
// It is side-effect-free; unmatched content lands in session.
func Classify(content string) (model.Category, int) {
	lower := strings.ToLower(content)
	for _, r := range rules {
		if r.matches(lower) {
			return r.category, r.category.DefaultImportance()
		}
	}
	return model.CategorySession, model.CategorySession.DefaultImportance()
}

func (r *rule) matches(lower string) bool {
	for _, p := range r.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return r.pattern != nil && r.pattern.MatchString(lower)
}
